package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsFor(endpoint string) *ollama_settings.Settings {
	s := ollama_settings.DefaultSettings()
	s.Endpoint = &endpoint
	return s
}

func TestBuildRequest(t *testing.T) {
	s := ollama_settings.DefaultSettings()
	format := "json"
	keepAlive := "5m"
	s.Format = &format
	s.KeepAlive = &keepAlive

	req, err := BuildRequest(s, []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "be terse"},
		{Role: conversation.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, "hermes3:8b", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "json", body["format"])
	assert.Equal(t, "5m", body["keep_alive"])
	assert.Equal(t, map[string]interface{}{"num_ctx": 4096.0, "temperature": 1.0}, body["options"])

	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be terse", first["content"])
}

func TestBackendCompleteStreams(t *testing.T) {
	var received ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"model":"m","message":{"role":"assistant","content":"Hi"},"done":false}`,
			`garbage`,
			`{"model":"m","message":{"role":"assistant","content":"!"},"done":false}`,
			`{"model":"m","done":true,"eval_count":2}`,
		} {
			_, _ = fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	var deltas []string
	skipped := 0
	backend := NewBackend(WithBackendSkipObserver(SkipObserverFunc(func([]byte, error) { skipped++ })))
	completion, err := backend.Complete(
		context.Background(),
		settingsFor(server.URL+"/api/chat"),
		[]conversation.Turn{{Role: conversation.RoleUser, Content: "hello"}},
		func(delta ContentDelta) { deltas = append(deltas, delta.Text) },
	)
	require.NoError(t, err)

	assert.Equal(t, "Hi!", completion.Content)
	assert.Equal(t, []string{"Hi", "!"}, deltas)
	assert.Equal(t, "m", completion.Model)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, completion.Stats.Skipped)
	require.NotNil(t, completion.Final)
	assert.Equal(t, 2, completion.Final.EvalCount)

	require.Len(t, received.Messages, 1)
	assert.Equal(t, "hello", received.Messages[0].Content)
	assert.Equal(t, "hermes3:8b", received.Model)
}

func TestBackendCompleteStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":"model 'hermes3:8b' not found"}`)
	}))
	defer server.Close()

	_, err := NewBackend().Complete(context.Background(), settingsFor(server.URL), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
	assert.Equal(t, "model 'hermes3:8b' not found", transportErr.Message)
}

func TestBackendCompleteUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	_, err := NewBackend().Complete(context.Background(), settingsFor(endpoint), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestBackendCompleteCancelledMidStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, `{"message":{"content":"partial"}}`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var deltas []string
	_, err := NewBackend().Complete(ctx, settingsFor(server.URL), nil, func(delta ContentDelta) {
		deltas = append(deltas, delta.Text)
		cancel()
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"partial"}, deltas)
}
