package sip

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
)

// packetMs is the duration of audio in one outbound RTP packet.
const packetMs = 20

// maxPacketBytes is large enough for any G.711 packet we expect.
const maxPacketBytes = 1500

// rtpSession carries one call's G.711 audio over RTP. Inbound payloads are
// re-chunked into frames for ReadFrame; outbound audio is cut into 20 ms
// packets and paced to real time.
type rtpSession struct {
	conn    *net.UDPConn
	codec   codec
	inbound *transport.FrameBuffer
	remote  atomic.Pointer[net.UDPAddr]
	log     *slog.Logger

	writeMu sync.Mutex
	pacer   *transport.Pacer
	ssrc    uint32
	seq     uint16
	ts      uint32
	started bool

	closeOnce sync.Once
	received  atomic.Uint64
}

func newRTPSession(conn *net.UDPConn, remote *net.UDPAddr, c codec, frameMs int, log *slog.Logger) *rtpSession {
	s := &rtpSession{
		conn:    conn,
		codec:   c,
		inbound: transport.NewFrameBuffer(c.format(), frameMs, 0),
		log:     log,
		pacer:   transport.NewPacer(),
		ssrc:    rand.Uint32(),
		seq:     uint16(rand.Uint32()),
		ts:      rand.Uint32(),
	}
	s.remote.Store(remote)
	return s
}

// run receives packets until the socket is closed.
func (s *rtpSession) run() {
	defer s.inbound.Close()
	buf := make([]byte, maxPacketBytes)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("sip: rtp read failed", "err", err)
			}
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.log.Debug("sip: dropping malformed rtp packet", "err", err)
			continue
		}
		if pkt.PayloadType != s.codec.PayloadType {
			// e.g. telephone-event or comfort noise
			continue
		}
		// Symmetric RTP: answer wherever the caller's media comes from.
		if cur := s.remote.Load(); cur == nil || !cur.IP.Equal(from.IP) || cur.Port != from.Port {
			s.log.Debug("sip: rtp remote changed", "from", cur, "to", from)
			s.remote.Store(from)
		}
		s.received.Add(1)
		s.inbound.Write(pkt.Payload)
	}
}

func (s *rtpSession) readFrame() ([]byte, error) {
	return s.inbound.Next()
}

// write sends wire audio as consecutive RTP packets.
func (s *rtpSession) write(wire []byte) error {
	if s.inbound.Closed() {
		return audio.ErrCallEnded
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	size := s.codec.format().FrameBytes(packetMs)
	for len(wire) > 0 {
		n := min(size, len(wire))
		if err := s.send(wire[:n]); err != nil {
			return err
		}
		wire = wire[n:]
	}
	return nil
}

func (s *rtpSession) send(payload []byte) error {
	s.pacer.Wait(time.Duration(len(payload)) * time.Second / clockRate)

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !s.started,
			PayloadType:    s.codec.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("sip: marshal rtp: %w", err)
	}
	if _, err := s.conn.WriteToUDP(raw, s.remote.Load()); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return audio.ErrCallEnded
		}
		return fmt.Errorf("sip: rtp write: %w", err)
	}
	s.started = true
	s.seq++
	s.ts += uint32(len(payload)) // one byte per G.711 sample
	return nil
}

func (s *rtpSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		s.inbound.Close()
	})
}

// portPool hands out RTP ports from a fixed range.
type portPool struct {
	ip       net.IP
	min, max int

	mu   sync.Mutex
	next int
	used map[int]bool
}

func newPortPool(ip net.IP, lo, hi int) *portPool {
	return &portPool{ip: ip, min: lo, max: hi, next: lo, used: make(map[int]bool)}
}

// listen binds a UDP socket on a free port of the range. With an empty range
// the kernel picks the port.
func (p *portPool) listen() (*net.UDPConn, int, error) {
	if p.min == 0 || p.max < p.min {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: p.ip})
		if err != nil {
			return nil, 0, fmt.Errorf("sip: listen rtp: %w", err)
		}
		return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	span := p.max - p.min + 1
	for range span {
		port := p.next
		p.next++
		if p.next > p.max {
			p.next = p.min
		}
		if p.used[port] {
			continue
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: p.ip, Port: port})
		if err != nil {
			continue
		}
		p.used[port] = true
		return conn, port, nil
	}
	return nil, 0, fmt.Errorf("sip: no free rtp port in %d-%d", p.min, p.max)
}

func (p *portPool) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}
