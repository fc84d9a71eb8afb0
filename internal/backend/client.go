// Package backend executes completions against pool endpoints and maps
// transport failures onto typed errors the gateway can act on.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crossbarhq/crossbar/internal/ollama"
	"github.com/crossbarhq/crossbar/internal/route"
)

const completeTimeout = 60 * time.Second

// UnreachableError indicates the pool endpoint did not answer at all.
// The gateway treats this as a failover trigger, not a user error.
type UnreachableError struct {
	Endpoint string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("backend %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// TimeoutError indicates a non-streaming completion exceeded its deadline.
type TimeoutError struct {
	Endpoint string
	Model    string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s timed out after %s on model %s", e.Endpoint, e.After, e.Model)
}

// Client talks to pool backends. One ollama.Client is kept per endpoint so
// connection pooling is shared across requests.
type Client struct {
	mu      sync.Mutex
	clients map[string]*ollama.Client
}

// NewClient creates an empty backend client.
func NewClient() *Client {
	return &Client{clients: make(map[string]*ollama.Client)}
}

func (c *Client) clientFor(endpoint string) *ollama.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	oc, ok := c.clients[endpoint]
	if !ok {
		oc = ollama.New(endpoint)
		c.clients[endpoint] = oc
	}
	return oc
}

// Ping reports whether the endpoint answers. Implements route.Pinger.
func (c *Client) Ping(ctx context.Context, endpoint string) bool {
	return c.clientFor(endpoint).IsRunning(ctx)
}

// Complete runs a non-streaming completion on the decided pool. A hard
// 60-second deadline applies; streaming requests have no such cap.
func (c *Client) Complete(ctx context.Context, d route.Decision, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	messages := buildMessages(system, user)
	out, err := c.clientFor(d.Endpoint).Chat(ctx, d.Model, messages)
	if err != nil {
		return "", c.wrapErr(ctx, d, err)
	}
	return out, nil
}

// Stream runs a streaming completion, invoking onFragment for each token
// fragment as it arrives. The stream runs until the model finishes or ctx
// is cancelled; there is no overall deadline.
func (c *Client) Stream(ctx context.Context, d route.Decision, system, user string, onFragment func(string)) error {
	messages := buildMessages(system, user)
	if err := c.clientFor(d.Endpoint).ChatStream(ctx, d.Model, messages, onFragment); err != nil {
		return c.wrapErr(ctx, d, err)
	}
	return nil
}

func (c *Client) wrapErr(ctx context.Context, d route.Decision, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Endpoint: d.Endpoint, Model: d.Model, After: completeTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// The request context may already be dead; probe with a fresh one.
	probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !c.clientFor(d.Endpoint).IsRunning(probeCtx) {
		return &UnreachableError{Endpoint: d.Endpoint, Err: err}
	}
	return fmt.Errorf("backend %s: %w", d.Endpoint, err)
}

func buildMessages(system, user string) []ollama.Message {
	msgs := make([]ollama.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: user})
	return msgs
}
