// Package wsmedia accepts calls as websocket media streams.
//
// Each websocket connection carries exactly one call. The peer opens with a
// start event, then streams audio in media events whose payload is base64
// encoded wire audio, and ends the call with a stop event or by closing the
// connection:
//
//	{"event":"start","start":{"callId":"c1","from":"+4930123","encoding":"mulaw","sampleRate":8000}}
//	{"event":"media","media":{"payload":"/v7+..."}}
//	{"event":"stop"}
//
// The server answers with an answer event once the call is accepted, a busy
// event when it is rejected, media events carrying synthesized speech and a
// stop event when it hangs up.
//
// Supported encodings are mulaw, alaw, s16le and opus. With opus every media
// payload is one Opus packet; the call then presents itself to the bridge as
// s16le at the stream's sample rate.
package wsmedia

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/opus"
)

// EncodingOpus selects Opus packets as the media payload.
const EncodingOpus = "opus"

// Event names used on the wire.
const (
	EventStart  = "start"
	EventMedia  = "media"
	EventStop   = "stop"
	EventAnswer = "answer"
	EventBusy   = "busy"
)

const (
	defaultStartTimeout = 10 * time.Second
	defaultFrameMs      = 20
	maxMessageBytes     = 1 << 20
)

// Config configures a [Server].
type Config struct {
	// Encoding is the default media encoding: mulaw, alaw, s16le or opus.
	// A start event may override it.
	Encoding string

	// SampleRate is the default media sample rate.
	SampleRate int

	// FrameMs is the frame duration ReadFrame returns. Defaults to 20.
	FrameMs int

	// StartTimeout bounds the wait for the start event. Defaults to 10s.
	StartTimeout time.Duration

	// OriginPatterns lists the browser origins allowed to connect. Empty
	// means same-origin only.
	OriginPatterns []string
}

// Event is one message of the media stream protocol.
type Event struct {
	Event  string `json:"event"`
	CallID string `json:"callId,omitempty"`
	Reason string `json:"reason,omitempty"`
	Start  *Start `json:"start,omitempty"`
	Media  *Media `json:"media,omitempty"`
}

// Start describes the call in a start event.
type Start struct {
	CallID     string `json:"callId,omitempty"`
	From       string `json:"from,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// Media carries one chunk of audio.
type Media struct {
	Payload string `json:"payload"`
}

// Server is an [http.Handler] that turns websocket connections into calls
// and hands each to a [call.Handler].
type Server struct {
	cfg     Config
	handler call.Handler

	base   context.Context
	cancel context.CancelFunc
	active sync.WaitGroup
}

// NewServer validates cfg and returns a Server dispatching calls to h.
func NewServer(cfg Config, h call.Handler) (*Server, error) {
	if h == nil {
		return nil, errors.New("wsmedia: handler must not be nil")
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = defaultFrameMs
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if _, _, err := resolveFormat(cfg.Encoding, cfg.SampleRate); err != nil {
		return nil, err
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{cfg: cfg, handler: h, base: base, cancel: cancel}, nil
}

// ServeHTTP implements [http.Handler]. It blocks for the lifetime of the call.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("wsmedia: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	s.active.Add(1)
	defer s.active.Done()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	start, err := s.readStart(ctx, conn)
	if err != nil {
		slog.Warn("wsmedia: no start event", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "expected start event")
		return
	}

	c, err := s.newCall(ctx, conn, start)
	if err != nil {
		slog.Warn("wsmedia: rejecting stream", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close(websocket.StatusUnsupportedData, err.Error())
		return
	}
	slog.Info("wsmedia: incoming call", "call", c.id, "from", c.remote, "format", c.format)

	go c.readLoop()
	s.handler(ctx, c)

	c.end()
	_ = conn.CloseNow()
}

// Close ends every open call and waits for their handlers to return.
func (s *Server) Close() error {
	s.cancel()
	s.active.Wait()
	return nil
}

func (s *Server) readStart(ctx context.Context, conn *websocket.Conn) (*Start, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		return nil, err
	}
	if ev.Event != EventStart || ev.Start == nil {
		return nil, fmt.Errorf("wsmedia: first event is %q", ev.Event)
	}
	return ev.Start, nil
}

func (s *Server) newCall(ctx context.Context, conn *websocket.Conn, st *Start) (*Call, error) {
	enc, rate := s.cfg.Encoding, s.cfg.SampleRate
	if st.Encoding != "" {
		enc = st.Encoding
	}
	if st.SampleRate != 0 {
		rate = st.SampleRate
	}
	format, isOpus, err := resolveFormat(enc, rate)
	if err != nil {
		return nil, err
	}

	id := st.CallID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Call{
		id:      id,
		remote:  st.From,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		format:  format,
		inbound: transport.NewFrameBuffer(format, s.cfg.FrameMs, 0),
		pacer:   transport.NewPacer(),
	}
	if isOpus {
		if c.dec, err = opus.NewDecoder(rate); err != nil {
			cancel()
			return nil, err
		}
		if c.enc, err = opus.NewEncoder(rate); err != nil {
			cancel()
			return nil, err
		}
	}
	return c, nil
}

// resolveFormat maps a protocol encoding name to the wire format the bridge
// sees.
func resolveFormat(enc string, rate int) (audio.WireFormat, bool, error) {
	if enc == EncodingOpus {
		if !opus.ValidSampleRate(rate) {
			return audio.WireFormat{}, false, fmt.Errorf("wsmedia: opus does not support %d Hz", rate)
		}
		return audio.WireFormat{Encoding: audio.EncodingS16LE, SampleRate: rate}, true, nil
	}
	f := audio.WireFormat{Encoding: audio.Encoding(enc), SampleRate: rate}
	switch f.Encoding {
	case audio.EncodingMuLaw, audio.EncodingALaw, audio.EncodingS16LE:
	default:
		return audio.WireFormat{}, false, fmt.Errorf("wsmedia: unsupported encoding %q", enc)
	}
	if err := f.Validate(); err != nil {
		return audio.WireFormat{}, false, fmt.Errorf("wsmedia: %w", err)
	}
	return f, false, nil
}

var _ call.Call = (*Call)(nil)

// Call is one websocket media stream.
type Call struct {
	id     string
	remote string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	format audio.WireFormat

	inbound *transport.FrameBuffer
	dec     *opus.Decoder // read loop only

	writeMu sync.Mutex
	enc     *opus.Encoder
	pacer   *transport.Pacer

	answered atomic.Bool
	ended    atomic.Bool
	endOnce  sync.Once
}

// ID implements [call.Call].
func (c *Call) ID() string { return c.id }

// Remote implements [call.Call].
func (c *Call) Remote() string { return c.remote }

// Format implements [audio.Transport].
func (c *Call) Format() audio.WireFormat { return c.format }

// Ended implements [call.Call].
func (c *Call) Ended() bool { return c.ended.Load() }

// Answer implements [call.Call]. Media received before Answer is discarded.
func (c *Call) Answer(ctx context.Context) error {
	if c.Ended() {
		return audio.ErrCallEnded
	}
	c.answered.Store(true)
	return c.send(ctx, Event{Event: EventAnswer, CallID: c.id})
}

// Reject implements [call.Call].
func (c *Call) Reject(ctx context.Context) error {
	defer c.end()
	if err := c.send(ctx, Event{Event: EventBusy, CallID: c.id}); err != nil {
		_ = c.conn.CloseNow()
		return err
	}
	return c.conn.Close(websocket.StatusTryAgainLater, "busy")
}

// Hangup implements [call.Call].
func (c *Call) Hangup(ctx context.Context) error {
	defer c.end()
	if c.Ended() {
		return nil
	}
	if err := c.send(ctx, Event{Event: EventStop, CallID: c.id, Reason: "hangup"}); err != nil {
		_ = c.conn.CloseNow()
		return err
	}
	return c.conn.Close(websocket.StatusNormalClosure, "hangup")
}

// ReadFrame implements [audio.Transport].
func (c *Call) ReadFrame() ([]byte, error) {
	return c.inbound.Next()
}

// WriteFrame implements [audio.Transport]. Writes are paced to real time.
func (c *Call) WriteFrame(frame []byte) error {
	if c.Ended() {
		return audio.ErrCallEnded
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.pacer.Wait(c.duration(len(frame)))

	payloads := [][]byte{frame}
	if c.enc != nil {
		var err error
		if payloads, err = c.enc.Encode(audio.BytesToInt16(frame)); err != nil {
			return fmt.Errorf("wsmedia: %w", err)
		}
	}
	for _, p := range payloads {
		ev := Event{Event: EventMedia, Media: &Media{Payload: base64.StdEncoding.EncodeToString(p)}}
		if err := c.send(c.ctx, ev); err != nil {
			if c.Ended() || c.ctx.Err() != nil {
				return audio.ErrCallEnded
			}
			return fmt.Errorf("wsmedia: write: %w", err)
		}
	}
	return nil
}

func (c *Call) send(ctx context.Context, ev Event) error {
	return wsjson.Write(ctx, c.conn, ev)
}

func (c *Call) duration(n int) time.Duration {
	perSec := c.format.SampleRate * c.format.Encoding.BytesPerSample()
	return time.Duration(n) * time.Second / time.Duration(perSec)
}

// readLoop receives events until the peer stops the stream, the connection
// drops or the call ends.
func (c *Call) readLoop() {
	defer c.end()
	log := slog.With("call", c.id)
	for {
		var ev Event
		if err := wsjson.Read(c.ctx, c.conn, &ev); err != nil {
			if !c.Ended() && websocket.CloseStatus(err) == -1 && c.ctx.Err() == nil {
				log.Debug("wsmedia: stream read ended", "err", err)
			}
			return
		}
		switch ev.Event {
		case EventMedia:
			if ev.Media == nil || !c.answered.Load() {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				log.Debug("wsmedia: bad media payload", "err", err)
				continue
			}
			if c.dec != nil {
				if payload, err = c.dec.Decode(payload); err != nil {
					log.Debug("wsmedia: dropping undecodable packet", "err", err)
					continue
				}
			}
			c.inbound.Write(payload)
		case EventStop:
			log.Info("wsmedia: caller stopped the stream")
			c.end()
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			log.Debug("wsmedia: ignoring event", "event", ev.Event)
		}
	}
}

func (c *Call) end() {
	c.endOnce.Do(func() {
		c.ended.Store(true)
		c.inbound.Close()
		c.cancel()
	})
}
