package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestIsRunning(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s, want /api/tags", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	})
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning = true for a dead endpoint")
	}
}

func TestListModels(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{Models: []modelEntry{{Name: "phi3.5:latest"}, {Name: "nomic-embed-text"}}})
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
}

func TestHasModel_TagSuffix(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{Models: []modelEntry{{Name: "phi3.5:latest"}}})
	})

	if !c.HasModel(context.Background(), "phi3.5") {
		t.Error("HasModel should match without the tag suffix")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel matched a missing model")
	}
}

func TestChat(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Chat must not request streaming")
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "pong"}, Done: true})
	})

	got, err := c.Chat(context.Background(), "phi3.5", []Message{{Role: "user", Content: "ping"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "pong" {
		t.Errorf("Chat = %q, want pong", got)
	}
}

func TestChatStream_Fragments(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		for _, frag := range []string{"Hel", "lo"} {
			json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: frag}})
		}
		json.NewEncoder(w).Encode(chatResponse{Done: true})
	})

	var got strings.Builder
	err := c.ChatStream(context.Background(), "phi3.5", []Message{{Role: "user", Content: "hi"}}, func(s string) {
		got.WriteString(s)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got.String() != "Hello" {
		t.Errorf("assembled = %q, want Hello", got.String())
	}
}

func TestChatStream_Cancellation(t *testing.T) {
	release := make(chan struct{})
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: "one"}})
		w.(http.Flusher).Flush()
		<-release // hold the stream open
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.ChatStream(ctx, "phi3.5", nil, func(string) { cancel() })
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ChatStream did not return after cancellation")
	}
}

func TestEmbed(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2,0.3]]}`)
	})

	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[]}`)
	})
	if _, err := c.Embed(context.Background(), "m", "x"); err == nil {
		t.Error("expected error for empty embeddings array")
	}
}
