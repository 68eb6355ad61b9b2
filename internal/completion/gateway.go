package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "daybrief/internal/log"
	"daybrief/internal/prompt"
)

var (
	// ErrPromptNotLoaded is returned for a key the gateway did not load at startup.
	ErrPromptNotLoaded = errors.New("prompt not loaded")
	// ErrEmptyCompletion is returned when the model produced no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Chatter is the completion collaborator: one system message plus one user
// message in, the first candidate's text out. An empty string with a nil
// error means the model answered without any text.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Observer receives one call per completion request.
type Observer interface {
	Completion(key prompt.Key, elapsed time.Duration, err error)
}

// Gateway sends serialized payloads to the model under a named system prompt.
// Prompts are loaded once at construction; the gateway never retries.
type Gateway struct {
	chatter  Chatter
	prompts  map[prompt.Key]string
	observer Observer
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithObserver reports every request to o.
func WithObserver(o Observer) GatewayOption {
	return func(g *Gateway) {
		g.observer = o
	}
}

// NewGateway loads the prompt for every key from store. A single missing or
// unreadable prompt fails construction.
func NewGateway(chatter Chatter, store prompt.Store, keys []prompt.Key, opts ...GatewayOption) (*Gateway, error) {
	if chatter == nil {
		return nil, errors.New("completion: chatter is nil")
	}
	if store == nil {
		return nil, errors.New("completion: prompt store is nil")
	}

	g := &Gateway{
		chatter: chatter,
		prompts: make(map[prompt.Key]string, len(keys)),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, key := range keys {
		text, err := store.Load(key)
		if err != nil {
			return nil, fmt.Errorf("completion: load prompt %q: %w", key, err)
		}
		g.prompts[key] = text
	}

	appLog.Info("completion gateway ready", "prompts", len(g.prompts))
	return g, nil
}

// Send issues one chat request with the prompt for key as the system message
// and payload as the user message. payload must already be serialized JSON.
func (g *Gateway) Send(ctx context.Context, key prompt.Key, payload string) (string, error) {
	system, ok := g.prompts[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrPromptNotLoaded, key)
	}

	start := time.Now()
	appLog.Debug("completion request", "prompt", key, "payload_len", len(payload))

	text, err := g.chatter.Chat(ctx, system, payload)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCompletion
	}
	elapsed := time.Since(start)
	if g.observer != nil {
		g.observer.Completion(key, elapsed, err)
	}
	if err != nil {
		appLog.Error("completion failed", err, "prompt", key, "elapsed", elapsed)
		if errors.Is(err, ErrEmptyCompletion) {
			return "", err
		}
		return "", fmt.Errorf("completion %q: %w", key, err)
	}

	appLog.Info("completion received", "prompt", key, "elapsed", elapsed, "response_len", len(text))
	return text, nil
}

// SendClean is Send followed by Cleanup, for prompts that answer in JSON.
func (g *Gateway) SendClean(ctx context.Context, key prompt.Key, payload string) (string, error) {
	text, err := g.Send(ctx, key, payload)
	if err != nil {
		return "", err
	}
	return Cleanup(text), nil
}
