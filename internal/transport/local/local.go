// Package local implements [audio.Transport] over raw PCM byte streams. It
// is the microphone and speaker of microphone mode: capture comes from stdin
// or a file and playback goes to stdout or a file, typically piped from and
// to a sound tool such as arecord / aplay or sox.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.Transport = (*Transport)(nil)

// Stdio is the path that selects stdin for input and stdout for output.
const Stdio = "-"

// Config configures a [Transport].
type Config struct {
	// Format is the raw encoding of both streams. Only the linear PCM
	// encodings (u8, s8, s16le) are accepted.
	Format audio.WireFormat

	// FrameMs is the duration of one frame returned by ReadFrame.
	FrameMs int

	// Realtime paces reads to the audio clock. Enable it when the input is
	// a file rather than a live device. Writes are always paced.
	Realtime bool
}

// Transport reads frames from one stream and writes audio to another.
type Transport struct {
	cfg        Config
	frameBytes int
	in         io.Reader
	out        io.Writer
	closers    []io.Closer

	readPacer  *transport.Pacer
	writePacer *transport.Pacer

	mu     sync.Mutex
	closed bool
}

// New returns a Transport over in and out. Either may be nil: a nil input
// ends immediately and a nil output discards playback.
func New(cfg Config, in io.Reader, out io.Writer) (*Transport, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	switch cfg.Format.Encoding {
	case audio.EncodingU8, audio.EncodingS8, audio.EncodingS16LE:
	default:
		return nil, fmt.Errorf("local: encoding %q is not raw PCM", cfg.Format.Encoding)
	}
	if cfg.FrameMs <= 0 {
		return nil, fmt.Errorf("local: frame_ms must be positive, got %d", cfg.FrameMs)
	}
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}
	t := &Transport{
		cfg:        cfg,
		frameBytes: cfg.Format.FrameBytes(cfg.FrameMs),
		in:         in,
		out:        out,
		writePacer: transport.NewPacer(),
	}
	if cfg.Realtime {
		t.readPacer = transport.NewPacer()
	}
	return t, nil
}

// Open opens input and output paths. [Stdio] selects stdin / stdout and an
// empty output discards playback. Files opened here are closed by Close.
func Open(cfg Config, input, output string) (*Transport, error) {
	var (
		in      io.Reader
		out     io.Writer
		closers []io.Closer
	)
	switch input {
	case Stdio:
		in = os.Stdin
	case "":
	default:
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("local: open input: %w", err)
		}
		in = f
		closers = append(closers, f)
	}
	switch output {
	case Stdio:
		out = os.Stdout
	case "":
	default:
		f, err := os.Create(output)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, fmt.Errorf("local: create output: %w", err)
		}
		out = f
		closers = append(closers, f)
	}

	t, err := New(cfg, in, out)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}
	t.closers = closers
	return t, nil
}

// ReadFrame implements [audio.Transport]. A short read at the end of the
// input is padded with silence; the next read reports [audio.ErrCallEnded].
func (t *Transport) ReadFrame() ([]byte, error) {
	if t.isClosed() {
		return nil, audio.ErrCallEnded
	}
	if t.readPacer != nil {
		t.readPacer.Wait(time.Duration(t.cfg.FrameMs) * time.Millisecond)
	}
	frame := make([]byte, t.frameBytes)
	n, err := io.ReadFull(t.in, frame)
	switch {
	case err == nil:
		return frame, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		fillSilence(frame[n:], t.cfg.Format.Encoding)
		t.in = eofReader{}
		return frame, nil
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
		return nil, audio.ErrCallEnded
	default:
		if t.isClosed() {
			return nil, audio.ErrCallEnded
		}
		return nil, fmt.Errorf("local: read: %w", err)
	}
}

// WriteFrame implements [audio.Transport].
func (t *Transport) WriteFrame(frame []byte) error {
	if t.isClosed() {
		return audio.ErrCallEnded
	}
	t.writePacer.Wait(t.duration(len(frame)))
	if _, err := t.out.Write(frame); err != nil {
		if errors.Is(err, os.ErrClosed) || t.isClosed() {
			return audio.ErrCallEnded
		}
		return fmt.Errorf("local: write: %w", err)
	}
	return nil
}

// Drain blocks until the audio written so far has finished playing by the
// write clock. It must be called from the goroutine that calls WriteFrame.
func (t *Transport) Drain() {
	if d := t.writePacer.Remaining(); d > 0 && !t.isClosed() {
		time.Sleep(d)
	}
}

// Format implements [audio.Transport].
func (t *Transport) Format() audio.WireFormat { return t.cfg.Format }

// Close ends the transport and closes any files opened by [Open]. Further
// reads and writes report [audio.ErrCallEnded].
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) duration(n int) time.Duration {
	perSec := t.cfg.Format.SampleRate * t.cfg.Format.Encoding.BytesPerSample()
	return time.Duration(n) * time.Second / time.Duration(perSec)
}

// fillSilence writes the encoding's zero level into b.
func fillSilence(b []byte, enc audio.Encoding) {
	var v byte
	if enc == audio.EncodingU8 {
		v = 128
	}
	for i := range b {
		b[i] = v
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
