package sip

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/MrWong99/parley/pkg/audio"
)

func udpPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	listen := func() *net.UDPConn {
		c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		return c
	}
	a, b := listen(), listen()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRTPSession_ReceivesFramesAndSkipsOtherPayloads(t *testing.T) {
	t.Parallel()
	local, peer := udpPair(t)
	s := newRTPSession(local, peer.LocalAddr().(*net.UDPAddr), codecs[0], 20, discard)
	go s.run()
	defer s.close()

	send := func(pt uint8, seq uint16, payload []byte) {
		raw, err := (&rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: pt, SequenceNumber: seq, SSRC: 7},
			Payload: payload,
		}).Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := peer.WriteToUDP(raw, local.LocalAddr().(*net.UDPAddr)); err != nil {
			t.Fatal(err)
		}
	}
	send(101, 1, []byte{1, 2, 3, 4}) // telephone-event
	send(0, 2, bytes.Repeat([]byte{0xAA}, 160))

	done := make(chan []byte, 1)
	go func() {
		f, _ := s.readFrame()
		done <- f
	}()
	select {
	case f := <-done:
		if !bytes.Equal(f, bytes.Repeat([]byte{0xAA}, 160)) {
			t.Errorf("frame = %v..., want 160 x 0xAA", f[:4])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	if got := s.received.Load(); got != 1 {
		t.Errorf("received = %d, want 1", got)
	}

	s.close()
	if _, err := s.readFrame(); !errors.Is(err, audio.ErrCallEnded) {
		t.Errorf("readFrame after close: got %v, want ErrCallEnded", err)
	}
	if err := s.write([]byte{1}); !errors.Is(err, audio.ErrCallEnded) {
		t.Errorf("write after close: got %v, want ErrCallEnded", err)
	}
}

func TestRTPSession_WritePacketizes(t *testing.T) {
	t.Parallel()
	local, peer := udpPair(t)
	s := newRTPSession(local, peer.LocalAddr().(*net.UDPAddr), codecs[1], 20, discard)
	defer s.close()

	// 400 bytes → 160 + 160 + 80.
	if err := s.write(make([]byte, 400)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxPacketBytes)
	var pkts []rtp.Packet
	for range 3 {
		n, _, err := peer.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read packet %d: %v", len(pkts), err)
		}
		var p rtp.Packet
		if err := p.Unmarshal(buf[:n]); err != nil {
			t.Fatal(err)
		}
		pkts = append(pkts, p)
	}

	sizes := []int{160, 160, 80}
	for i, p := range pkts {
		if p.PayloadType != 8 {
			t.Errorf("packet %d: payload type %d, want 8", i, p.PayloadType)
		}
		if len(p.Payload) != sizes[i] {
			t.Errorf("packet %d: payload %d bytes, want %d", i, len(p.Payload), sizes[i])
		}
		if p.Marker != (i == 0) {
			t.Errorf("packet %d: marker = %v", i, p.Marker)
		}
	}
	if pkts[1].SequenceNumber != pkts[0].SequenceNumber+1 || pkts[2].SequenceNumber != pkts[1].SequenceNumber+1 {
		t.Error("sequence numbers not consecutive")
	}
	if pkts[1].Timestamp-pkts[0].Timestamp != 160 || pkts[2].Timestamp-pkts[1].Timestamp != 160 {
		t.Error("timestamps do not advance by samples sent")
	}
	if pkts[0].SSRC != pkts[2].SSRC {
		t.Error("SSRC changed between packets")
	}
}

func TestRTPSession_SymmetricRemote(t *testing.T) {
	t.Parallel()
	local, peer := udpPair(t)
	bogus := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	s := newRTPSession(local, bogus, codecs[0], 20, discard)
	go s.run()
	defer s.close()

	raw, _ := (&rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 0}, Payload: make([]byte, 160)}).Marshal()
	if _, err := peer.WriteToUDP(raw, local.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.readFrame(); err != nil {
		t.Fatal(err)
	}
	if got := s.remote.Load().Port; got != peer.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("remote port = %d, want the sender's", got)
	}
}

func TestPortPool(t *testing.T) {
	t.Parallel()

	// Find two adjacent free ports to make a tiny range.
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	lo := probe.LocalAddr().(*net.UDPAddr).Port
	_ = probe.Close()

	p := newPortPool(net.IPv4(127, 0, 0, 1), lo, lo)
	c1, port, err := p.listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if port != lo {
		t.Errorf("port = %d, want %d", port, lo)
	}
	if _, _, err := p.listen(); err == nil {
		t.Error("second listen on a one-port range should fail")
	}
	_ = c1.Close()
	p.release(port)
	c2, _, err := p.listen()
	if err != nil {
		t.Fatalf("listen after release: %v", err)
	}
	_ = c2.Close()

	eph := newPortPool(net.IPv4(127, 0, 0, 1), 0, 0)
	c3, port3, err := eph.listen()
	if err != nil || port3 == 0 {
		t.Fatalf("ephemeral listen: port %d, err %v", port3, err)
	}
	_ = c3.Close()
}
