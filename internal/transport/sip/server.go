// Package sip accepts telephone calls as a SIP user agent server with G.711
// RTP media.
//
// The server answers INVITE, ACK, BYE, CANCEL and OPTIONS. Each INVITE with
// a usable PCMU or PCMA offer becomes a [Call] handed to the configured
// [call.Handler]; whether the call is answered or rejected is up to the
// handler. Optionally the server registers itself with a registrar so calls
// to a provider number reach it.
package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/call"
)

// UserAgent is sent in the User-Agent header.
const UserAgent = "parley"

const defaultFrameMs = 20

// Config configures a [Server].
type Config struct {
	// ListenAddr is the UDP signalling address, e.g. "0.0.0.0:5060".
	ListenAddr string

	// PublicIP is advertised in Contact headers and SDP answers.
	PublicIP string

	// RTPPortMin and RTPPortMax bound the media ports. Zero lets the kernel
	// choose.
	RTPPortMin int
	RTPPortMax int

	// FrameMs is the frame duration ReadFrame returns. Defaults to 20.
	FrameMs int

	// Register, when set, keeps a registration alive while serving.
	Register *RegisterConfig
}

// Server is a SIP user agent server.
type Server struct {
	cfg     Config
	handler call.Handler

	ua      *sipgo.UserAgent
	srv     *sipgo.Server
	client  *sipgo.Client
	dialogs *sipgo.DialogServerCache
	contact sip.ContactHeader
	ports   *portPool

	mu    sync.Mutex
	calls map[string]*Call
	ctx   context.Context
	wg    sync.WaitGroup
}

// NewServer returns a Server dispatching calls to h.
func NewServer(cfg Config, h call.Handler) (*Server, error) {
	if h == nil {
		return nil, errors.New("sip: handler must not be nil")
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = defaultFrameMs
	}
	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("sip: listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("sip: listen port: %w", err)
	}
	if cfg.PublicIP == "" {
		cfg.PublicIP = host
	}
	if net.ParseIP(cfg.PublicIP) == nil || net.ParseIP(cfg.PublicIP).IsUnspecified() {
		return nil, fmt.Errorf("sip: public_ip %q must be a routable IP address", cfg.PublicIP)
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(UserAgent))
	if err != nil {
		return nil, fmt.Errorf("sip: user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sip: server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.PublicIP))
	if err != nil {
		return nil, fmt.Errorf("sip: client: %w", err)
	}

	contact := sip.ContactHeader{Address: sip.Uri{User: UserAgent, Host: cfg.PublicIP, Port: port}}
	s := &Server{
		cfg:     cfg,
		handler: h,
		ua:      ua,
		srv:     srv,
		client:  client,
		dialogs: sipgo.NewDialogServerCache(client, contact),
		contact: contact,
		ports:   newPortPool(net.ParseIP(host), cfg.RTPPortMin, cfg.RTPPortMax),
		calls:   make(map[string]*Call),
	}

	srv.OnInvite(s.onInvite)
	srv.OnAck(s.onAck)
	srv.OnBye(s.onBye)
	srv.OnCancel(s.onCancel)
	srv.OnOptions(s.onOptions)
	return s, nil
}

// ListenAndServe serves SIP on UDP until ctx is cancelled, then hangs up
// every open call and waits for their handlers.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("sip: listening", "addr", s.cfg.ListenAddr, "public_ip", s.cfg.PublicIP)
		err := s.srv.ListenAndServe(gctx, "udp", s.cfg.ListenAddr)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("sip: serve: %w", err)
		}
		return nil
	})
	if s.cfg.Register != nil {
		reg, err := NewRegistrar(s.client, *s.cfg.Register, s.contact)
		if err != nil {
			return err
		}
		g.Go(func() error { return reg.Run(gctx) })
	}

	err := g.Wait()
	s.hangupAll()
	s.wg.Wait()
	_ = s.client.Close()
	_ = s.ua.Close()
	return err
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Server) lookup(id string) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *Server) hangupAll() {
	s.mu.Lock()
	calls := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()
	for _, c := range calls {
		_ = c.Hangup(context.Background())
	}
}

func (s *Server) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log := slog.With("call", callID)

	if c := s.lookup(callID); c != nil {
		// Re-INVITE: keep the media as it is.
		res := sip.NewResponseFromRequest(req, 200, "OK", c.answer)
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		_ = tx.Respond(res)
		return
	}

	dlg, err := s.dialogs.ReadInvite(req, tx)
	if err != nil {
		log.Warn("sip: bad invite", "err", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}

	of, err := parseOffer(req.Body())
	if err != nil {
		log.Warn("sip: unusable offer", "err", err)
		_ = dlg.Respond(488, "Not Acceptable Here", nil)
		_ = dlg.Close()
		return
	}

	conn, port, err := s.ports.listen()
	if err != nil {
		log.Error("sip: no media port", "err", err)
		_ = dlg.Respond(503, "Service Unavailable", nil)
		_ = dlg.Close()
		return
	}
	answer, err := buildAnswer(s.cfg.PublicIP, port, of.Codec, packetMs)
	if err != nil {
		_ = conn.Close()
		s.ports.release(port)
		_ = dlg.Respond(500, "Internal Server Error", nil)
		_ = dlg.Close()
		return
	}
	_ = dlg.Respond(100, "Trying", nil)

	remote := ""
	if from := req.From(); from != nil {
		remote = from.Address.String()
	}
	c := &Call{
		id:     callID,
		remote: remote,
		dlg:    dlg,
		answer: answer,
		media:  newRTPSession(conn, of.Remote, of.Codec, s.cfg.FrameMs, log),
	}

	s.mu.Lock()
	s.calls[callID] = c
	s.mu.Unlock()

	log.Info("sip: incoming call", "from", remote, "codec", of.Codec.Name, "rtp_port", port)
	s.wg.Add(1)
	go s.serve(c, port)
}

// serve runs the handler for c and cleans up after it.
func (s *Server) serve(c *Call, port int) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(s.baseContext())
	defer cancel()

	// The dialog context ends when the caller hangs up.
	stop := context.AfterFunc(c.dlg.Context(), func() { c.end("remote hangup") })
	defer stop()

	s.handler(ctx, c)

	if !c.Ended() {
		_ = c.Hangup(context.WithoutCancel(ctx))
	}
	c.end("handler done")
	_ = c.dlg.Close()
	s.ports.release(port)

	s.mu.Lock()
	delete(s.calls, c.id)
	s.mu.Unlock()
}

func (s *Server) onAck(req *sip.Request, tx sip.ServerTransaction) {
	if err := s.dialogs.ReadAck(req, tx); err != nil {
		slog.Debug("sip: ack outside a dialog", "call", req.CallID().Value(), "err", err)
	}
}

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if err := s.dialogs.ReadBye(req, tx); err != nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if c := s.lookup(callID); c != nil {
		slog.Info("sip: caller hung up", "call", callID)
		c.end("remote hangup")
	}
}

func (s *Server) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	c := s.lookup(callID)
	if c == nil || c.answered.Load() {
		return
	}
	slog.Info("sip: caller cancelled", "call", callID)
	_ = c.dlg.Respond(487, "Request Terminated", nil)
	c.end("cancelled")
}

func (s *Server) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS"))
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	_ = tx.Respond(res)
}
