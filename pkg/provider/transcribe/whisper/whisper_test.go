package whisper

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribePostsWAVAndParsesText(t *testing.T) {
	var gotLanguage, gotModel string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotWAV, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text": "  turn on the lights \n"}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"), WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := make([]byte, 32000) // 1s at 16kHz
	res, err := p.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Errorf("text = %q, want trimmed transcript", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("language = %q, want en", res.Language)
	}
	if gotLanguage != "en" || gotModel != "base.en" {
		t.Errorf("form fields = (%q, %q), want (en, base.en)", gotLanguage, gotModel)
	}
	if len(gotWAV) != 44+len(pcm) {
		t.Errorf("wav upload = %d bytes, want 44-byte header plus %d", len(gotWAV), len(pcm))
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]byte, 320), 16000); err == nil {
		t.Fatal("no error for HTTP 500")
	}
}

func TestTranscribeHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, make([]byte, 320), 16000); err == nil {
		t.Fatal("no error for cancelled context")
	}
}

func TestNewRequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("accepted empty server URL")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := encodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestPCMToFloat32Mono(t *testing.T) {
	// Stereo frame (16384, -16384) averages to 0.
	in := make([]byte, 4)
	binary.LittleEndian.PutUint16(in[0:], uint16(int16(16384)))
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(in[2:], uint16(neg))

	mono := pcmToFloat32Mono(in, 2)
	if len(mono) != 1 {
		t.Fatalf("mono samples = %d, want 1", len(mono))
	}
	if mono[0] != 0 {
		t.Errorf("sample = %v, want 0", mono[0])
	}

	// Mono passthrough scales to [-1, 1).
	min16 := int16(-32768)
	binary.LittleEndian.PutUint16(in[0:], uint16(min16))
	if got := pcmToFloat32(in[:2])[0]; got != -1.0 {
		t.Errorf("scaled sample = %v, want -1", got)
	}
}
