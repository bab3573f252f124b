package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var testVoice = tts.NewVoice("dNRYyzNgFzPG20ytwO6Z", "elevenlabs")

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_turbo_v2_5" || p.outputFormat != "pcm_24000" {
		t.Errorf("defaults = %q/%q", p.model, p.outputFormat)
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"pcm_24000", 24000, false},
		{"pcm_16000", 16000, false},
		{"pcm_", 0, true},
		{"pcm_abc", 0, true},
		{"ulaw_8000", 0, true},
	}
	for _, tt := range tests {
		got, err := sampleRate(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("sampleRate(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestSynthesize_RequestShape(t *testing.T) {
	var (
		gotPath, gotQuery, gotKey string
		gotBody                   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(make([]byte, 4800))
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	clip, err := p.Synthesize(context.Background(), "Hello!", testVoice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/dNRYyzNgFzPG20ytwO6Z" || gotQuery != "pcm_24000" || gotKey != "secret" {
		t.Errorf("request = %s ?output_format=%s key=%s", gotPath, gotQuery, gotKey)
	}
	if gotBody["text"] != "Hello!" || gotBody["model_id"] != "eleven_turbo_v2_5" {
		t.Errorf("body = %v", gotBody)
	}
	vs, _ := gotBody["voice_settings"].(map[string]any)
	if vs["stability"] != 0.5 || vs["similarity_boost"] != 0.75 || vs["style"] != 0.0 || vs["use_speaker_boost"] != true {
		t.Errorf("voice_settings = %v", vs)
	}
	if clip.Format.SampleRate != 24000 || clip.Format.Channels != 1 || len(clip.Data) != 4800 {
		t.Errorf("clip = %d bytes %+v", len(clip.Data), clip.Format)
	}
}

func TestSynthesize_EmptyVoiceID(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}

func TestSynthesize_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":{"status":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	p, _ := New("bad", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "hi", testVoice)
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *provider.APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Provider != "elevenlabs" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"voices":[
			{"voice_id":"v1","name":"Alice","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"v2","name":"Bob"}]}`)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("len = %d, want 2", len(voices))
	}
	if voices[0].Metadata["category"] != "premade" || voices[0].Metadata["accent"] != "american" {
		t.Errorf("metadata = %v", voices[0].Metadata)
	}
	if voices[1].Provider != "elevenlabs" || len(voices[1].Metadata) != 0 {
		t.Errorf("voice[1] = %+v", voices[1])
	}
}
