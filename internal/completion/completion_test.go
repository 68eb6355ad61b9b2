package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybrief/internal/prompt"
)

type mapStore map[prompt.Key]string

func (m mapStore) Load(key prompt.Key) (string, error) {
	text, ok := m[key]
	if !ok {
		return "", prompt.ErrNotFound
	}
	return text, nil
}

type fakeChatter struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeChatter) Chat(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	return f.reply, f.err
}

type countingObserver struct{ calls int }

func (o *countingObserver) Completion(prompt.Key, time.Duration, error) { o.calls++ }

func TestCleanup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"upper tag", "```JSON\n{\"a\":1}\n```\n", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"stray backticks", "`{\"a\":1}`", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n\t", `{"a":1}`},
		{"backticks inside value kept", "```json\n{\"cmd\":\"`ls`\"}\n```", "{\"cmd\":\"`ls`\"}"},
		{"prose untouched", "Sunny, 24 degrees.", "Sunny, 24 degrees."},
		{"empty", "", ""},
		{"only fence", "```", ""},
		{"nested fences", "```json\n```json\n{}\n```\n```", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cleanup(tt.in))
		})
	}
}

func FuzzCleanupIdempotent(f *testing.F) {
	for _, seed := range []string{
		"", "```", "````", "```json", "```json\n{}\n```", "`x`", " ``` a ``` ",
		"```\r\n{\"a\":\"```\"}\r\n```", "``json\n{}``", "```json{}```",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, s string) {
		once := Cleanup(s)
		if twice := Cleanup(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", s, once, twice)
		}
	})
}

func TestExtractJSONObject(t *testing.T) {
	got, ok := ExtractJSONObject(`Sure! Here it is: {"a":{"b":1}} hope that helps`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1}}`, got)

	_, ok = ExtractJSONObject("no braces here")
	assert.False(t, ok)

	_, ok = ExtractJSONObject("} backwards {")
	assert.False(t, ok)
}

func TestNewGateway_FailsOnMissingPrompt(t *testing.T) {
	store := mapStore{prompt.Summarizer: "summarize"}

	_, err := NewGateway(&fakeChatter{}, store, []prompt.Key{prompt.Summarizer, prompt.AddEvent})
	require.Error(t, err)
	assert.ErrorIs(t, err, prompt.ErrNotFound)
	assert.Contains(t, err.Error(), "add_event")
}

func TestGateway_Send(t *testing.T) {
	store := mapStore{prompt.Summarizer: "summarize", prompt.AddEvent: "schedule"}
	chatter := &fakeChatter{reply: "```json\n{\"ok\":true}\n```"}
	obs := &countingObserver{}

	g, err := NewGateway(chatter, store, []prompt.Key{prompt.Summarizer, prompt.AddEvent}, WithObserver(obs))
	require.NoError(t, err)

	raw, err := g.Send(context.Background(), prompt.AddEvent, `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, chatter.reply, raw)
	assert.Equal(t, "schedule", chatter.system)
	assert.Equal(t, `{"x":1}`, chatter.user)

	clean, err := g.SendClean(context.Background(), prompt.AddEvent, `{"x":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, clean)
	assert.Equal(t, 2, obs.calls)
}

func TestGateway_Errors(t *testing.T) {
	store := mapStore{prompt.Summarizer: "summarize"}

	t.Run("prompt not loaded", func(t *testing.T) {
		chatter := &fakeChatter{reply: "hi"}
		g, err := NewGateway(chatter, store, []prompt.Key{prompt.Summarizer})
		require.NoError(t, err)

		_, err = g.Send(context.Background(), prompt.Feedback, "{}")
		assert.ErrorIs(t, err, ErrPromptNotLoaded)
		assert.Zero(t, chatter.calls)
	})

	t.Run("empty completion", func(t *testing.T) {
		g, err := NewGateway(&fakeChatter{reply: "  \n"}, store, []prompt.Key{prompt.Summarizer})
		require.NoError(t, err)

		_, err = g.Send(context.Background(), prompt.Summarizer, "{}")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("transport error is not retried", func(t *testing.T) {
		boom := errors.New("503 upstream")
		chatter := &fakeChatter{err: boom}
		g, err := NewGateway(chatter, store, []prompt.Key{prompt.Summarizer})
		require.NoError(t, err)

		_, err = g.Send(context.Background(), prompt.Summarizer, "{}")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, chatter.calls)
	})
}

func TestOpenAI_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}},{"message":{"content":"second"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	text, err := c.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "sys"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "user"}, got.Messages[1])
	assert.Equal(t, DefaultOpenAIModel, got.Model)
}

func TestOpenAI_AzureDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/sched-gpt/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "az-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "az-key", BaseURL: srv.URL, Deployment: "sched-gpt", APIVersion: "2024-06-01"})
	require.NoError(t, err)

	text, err := c.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
