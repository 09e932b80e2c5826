package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// completionServer serves an OpenAI-compatible chat completion endpoint
// whose reply is derived from the user message by fn.
func completionServer(t *testing.T, fn func(userContent string) (string, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		var user string
		for _, m := range req.Messages {
			if m.Role == "user" {
				user = m.Content
			}
		}

		reply, status := fn(user)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"nope","type":"server_error"}}`)
			return
		}

		resp := map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProcessor(t *testing.T, srv *httptest.Server) *PostProcessor {
	t.Helper()
	p, err := New("test-key", srv.URL+"/v1", "test-model", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNew_NotConfigured(t *testing.T) {
	if _, err := New("", "", "gpt-4o-mini", zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New(no key) error = %v, want ErrNotConfigured", err)
	}
	if _, err := New("key", "", "", zerolog.Nop()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New(no model) error = %v, want ErrNotConfigured", err)
	}
}

func TestProcess(t *testing.T) {
	srv := completionServer(t, func(user string) (string, int) {
		return "cleaned: " + user, http.StatusOK
	})
	p := newTestProcessor(t, srv)

	got, err := p.Process(context.Background(), "raw transcript")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got != "cleaned: raw transcript" {
		t.Errorf("Process() = %q", got)
	}
}

func TestProcess_ServerError(t *testing.T) {
	srv := completionServer(t, func(string) (string, int) {
		return "", http.StatusBadRequest
	})
	p := newTestProcessor(t, srv)

	if _, err := p.Process(context.Background(), "raw"); err == nil {
		t.Fatal("Process() = nil error, want failure")
	}
}

func TestProcess_Chunked(t *testing.T) {
	var calls int
	srv := completionServer(t, func(user string) (string, int) {
		calls++
		return strings.ToUpper(user[:5]), http.StatusOK
	})
	p := newTestProcessor(t, srv)

	// Two lines that cannot share a chunk under the size limit.
	long := strings.Repeat("a", maxChunkChars-10) + "\n" + strings.Repeat("b", 100)
	got, err := p.Process(context.Background(), long)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("completion calls = %d, want 2", calls)
	}
	if got != "AAAAA\n\nBBBBB" {
		t.Errorf("Process() = %q, want chunk outputs joined", got)
	}
}

func TestProcessFile(t *testing.T) {
	srv := completionServer(t, func(user string) (string, int) {
		return "polished " + user, http.StatusOK
	})
	p := newTestProcessor(t, srv)

	dir := t.TempDir()
	in := filepath.Join(dir, "BV1xx411c7mD_transcript.txt")
	if err := os.WriteFile(in, []byte("rough text"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := p.ProcessFile(context.Background(), in)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if want := filepath.Join(dir, "BV1xx411c7mD_transcript_corrected.txt"); out != want {
		t.Errorf("output path = %q, want %q", out, want)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "polished rough text" {
		t.Errorf("output = %q", data)
	}
}

func TestProcessFile_FallsBackToRaw(t *testing.T) {
	srv := completionServer(t, func(string) (string, int) {
		return "", http.StatusInternalServerError
	})
	p := newTestProcessor(t, srv)

	dir := t.TempDir()
	in := filepath.Join(dir, "clip.txt")
	if err := os.WriteFile(in, []byte("rough text"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := p.ProcessFile(context.Background(), in)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "rough text" {
		t.Errorf("output = %q, want raw text fallback", data)
	}
}

func TestProcessFile_MissingInput(t *testing.T) {
	srv := completionServer(t, func(user string) (string, int) { return user, http.StatusOK })
	p := newTestProcessor(t, srv)

	if _, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("ProcessFile() = nil error for missing input")
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  int
	}{
		{"fits in one", "short", 100, 1},
		{"splits on lines", "aaaa\nbbbb\ncccc", 9, 2},
		{"oversized line stands alone", strings.Repeat("x", 50), 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitChunks(tt.text, tt.limit)
			if len(chunks) != tt.want {
				t.Errorf("splitChunks() produced %d chunks, want %d", len(chunks), tt.want)
			}
			if strings.Join(chunks, "\n") != tt.text {
				t.Errorf("chunks do not reassemble to input: %q", chunks)
			}
		})
	}
}
