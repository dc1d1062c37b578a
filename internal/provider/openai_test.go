package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"jarvis/internal/config"
	"jarvis/internal/domain"
)

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Model != "gpt-4o-mini" || len(body.Messages) != 2 || body.Temperature == nil {
			t.Errorf("unexpected request %+v", body)
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Bonjour !"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Tu es Jarvis."},
			{Role: domain.RoleUser, Content: "Salut"},
		},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Bonjour !" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAI_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad model"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected a 400 error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", hits.Load())
	}
}

func TestOllama_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/chat" || body.Stream || body.Options["num_predict"] == nil {
			t.Errorf("unexpected request %s %+v", r.URL.Path, body)
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":"Salut"},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}`)
	}))
	defer srv.Close()

	p := NewOllama(OllamaConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{MaxTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Salut" || resp.Usage.TotalTokens != 6 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if hdr.Filename != "voice.ogg" || string(data) != "OggS" {
				t.Errorf("unexpected upload %s %q", hdr.Filename, data)
			}
		}
		io.WriteString(w, `{"text":"  Rappelle-moi demain  ","language":"fr"}`)
	}))
	defer srv.Close()

	w := NewWhisperProvider(WhisperConfig{APIBase: srv.URL, Language: "auto", Client: srv.Client(), Logger: testLogger()})
	text, err := w.Transcribe(context.Background(), strings.NewReader("OggS"), "voice.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Rappelle-moi demain" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestFactory_DefaultProviderAndTranscriber(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, APIBase: "http://localhost:1", APIKey: "k"}
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "http://localhost:2", APIKey: "k"}
	cfg.General.FailoverChain = []string{"openai", "groq"}
	cfg.Interaction.Voice.Enabled = true
	cfg.Interaction.Voice.Provider = "openai"

	f := NewFactory(cfg, testLogger())
	p, err := f.DefaultProvider()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "failover(openai→groq)" {
		t.Fatalf("unexpected provider %s", p.Name())
	}
	again, _ := f.Get("groq")
	if again.Name() != "groq" {
		t.Fatalf("compatible gateway should keep its name, got %s", again.Name())
	}

	tr, err := f.Transcriber()
	if err != nil || tr == nil {
		t.Fatalf("expected a transcriber, got %v %v", tr, err)
	}

	if _, err := f.Get("missing"); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}
