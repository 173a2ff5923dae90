// Package testutil holds test doubles shared across package tests: a fake
// chat-completions HTTP endpoint and a scripted in-process completer.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/onnwee/ghost-bot/openrouter"
)

// CompletionServer fakes an OpenRouter-compatible /chat/completions endpoint.
type CompletionServer struct {
	mu sync.Mutex

	// Response is the content returned on success.
	Response string
	// Status overrides the HTTP status when nonzero.
	Status int
	// Requests records each request body received.
	Requests []CompletionRequest

	srv *httptest.Server
}

// CompletionRequest is the decoded payload of one call.
type CompletionRequest struct {
	Model    string            `json:"model"`
	Messages []openrouter.Turn `json:"messages"`
}

// NewCompletionServer starts the fake endpoint; the caller owns Close.
func NewCompletionServer(response string) *CompletionServer {
	c := &CompletionServer{Response: response}
	c.srv = httptest.NewServer(http.HandlerFunc(c.handle))
	return c
}

func (c *CompletionServer) handle(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	status := c.Status
	response := c.Response
	c.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": response}},
		},
	})
}

// URL returns the fake endpoint base URL.
func (c *CompletionServer) URL() string { return c.srv.URL }

// Close shuts the server down.
func (c *CompletionServer) Close() { c.srv.Close() }

// SetResponse swaps the success content.
func (c *CompletionServer) SetResponse(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Response = text
}

// SetStatus makes subsequent calls fail with the given HTTP status.
func (c *CompletionServer) SetStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = status
}

// Count returns how many calls were received.
func (c *CompletionServer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// Client returns an openrouter client pointed at the fake endpoint.
func (c *CompletionServer) Client(model string) *openrouter.Client {
	return &openrouter.Client{BaseURL: c.srv.URL, APIKey: "test-key", Model: model}
}

// ScriptedCompleter satisfies the Completer interfaces without HTTP. Each call
// pops the next response; Err, when set, fails every call.
type ScriptedCompleter struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     int
	// LastSystem and LastTurns record the most recent request.
	LastSystem []string
	LastTurns  []openrouter.Turn
}

func (s *ScriptedCompleter) Complete(_ context.Context, system []string, turns []openrouter.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.LastSystem = append([]string(nil), system...)
	s.LastTurns = append([]openrouter.Turn(nil), turns...)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "ok", nil
	}
	resp := s.Responses[0]
	if len(s.Responses) > 1 {
		s.Responses = s.Responses[1:]
	}
	return resp, nil
}
