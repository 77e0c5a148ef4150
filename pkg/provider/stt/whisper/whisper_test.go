package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

// inferenceRequest captures what the mock server received.
type inferenceRequest struct {
	fields map[string]string
	wav    audio.WAVInfo
}

// newMockServer creates a test server that answers POST /inference with body
// and records every request it receives.
func newMockServer(t *testing.T, status int, body any) (*httptest.Server, func() []inferenceRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []inferenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := inferenceRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			got.wav, _ = audio.ParseWAV(data)
		}
		mu.Lock()
		reqs = append(reqs, got)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []inferenceRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]inferenceRequest(nil), reqs...)
	}
}

var verboseBody = map[string]any{
	"task":     "transcribe",
	"language": "english",
	"duration": 1.5,
	"text":     " What time is it?",
	"segments": []map[string]any{
		{"id": 0, "text": " What time", "start": 0.0, "end": 0.8, "avg_logprob": -0.25, "no_speech_prob": 0.02},
		{"id": 1, "text": " is it?", "start": 0.8, "end": 1.5, "avg_logprob": -0.35, "no_speech_prob": 0.4},
	},
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_ParsesVerboseJSON(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, http.StatusOK, verboseBody)
	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("small"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), make([]int16, 16000), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "What time is it?" {
		t.Errorf("text = %q, want %q", res.Text, "What time is it?")
	}
	if res.Language != "english" {
		t.Errorf("language = %q, want english", res.Language)
	}
	if res.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", res.Duration)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[1].AvgLogProb != -0.35 || res.Segments[1].NoSpeechProb != 0.4 {
		t.Errorf("segment 1 = %+v", res.Segments[1])
	}
	if res.Segments[1].Start != 800*time.Millisecond {
		t.Errorf("segment 1 start = %v, want 800ms", res.Segments[1].Start)
	}
	if !stt.DefaultThresholds().Accept(res) {
		t.Error("confident result rejected by default thresholds")
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(reqs))
	}
	for k, want := range map[string]string{"response_format": "verbose_json", "language": "de", "model": "small"} {
		if got := reqs[0].fields[k]; got != want {
			t.Errorf("field %s = %q, want %q", k, got, want)
		}
	}
}

func TestTranscribe_ResamplesTo16kHz(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, http.StatusOK, verboseBody)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), make([]int16, 8000), 8000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	wav := requests()[0].wav
	if wav.SampleRate != 16000 {
		t.Errorf("uploaded sample rate = %d, want 16000", wav.SampleRate)
	}
	if got := len(wav.Data) / 2; got != 16000 {
		t.Errorf("uploaded %d samples, want 16000", got)
	}
}

func TestTranscribe_PlainJSONHasNoSegments(t *testing.T) {
	t.Parallel()
	srv, _ := newMockServer(t, http.StatusOK, map[string]string{"text": "hello"})
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), make([]int16, 3200), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q, want hello", res.Text)
	}
	if res.Duration != 200*time.Millisecond {
		t.Errorf("duration = %v, want 200ms from the sample count", res.Duration)
	}
	if stt.DefaultThresholds().Accept(res) {
		t.Error("result without segments must not be accepted")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := newMockServer(t, http.StatusInternalServerError, map[string]string{"error": "boom"})
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), make([]int16, 160), 16000); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()
	srv, _ := newMockServer(t, http.StatusOK, verboseBody)
	p, _ := whisper.New(srv.URL, whisper.WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, make([]int16, 160), 16000); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
