package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maximum number of bytes of an error response kept for the error message
const maxErrorBody = 4096

// ChatRequest is the body POSTed to /api/chat.
type ChatRequest struct {
	api.ChatRequest
	KeepAlive string `json:"keep_alive,omitempty"`
}

// Completion is the assembled result of one chat request.
type Completion struct {
	Content string  `json:"content"`
	Model   string  `json:"model"`
	Final   *Record `json:"final,omitempty"`
	Stats   Stats   `json:"stats"`
}

// DeltaHandler receives every delta as soon as it is decoded.
type DeltaHandler func(delta ContentDelta)

// Backend talks to the chat endpoint of an ollama server.
type Backend struct {
	client   *http.Client
	observer SkipObserver
}

type BackendOption func(*Backend)

func WithHTTPClient(client *http.Client) BackendOption {
	return func(b *Backend) {
		if client != nil {
			b.client = client
		}
	}
}

func WithBackendSkipObserver(o SkipObserver) BackendOption {
	return func(b *Backend) {
		if o != nil {
			b.observer = o
		}
	}
}

func NewBackend(options ...BackendOption) *Backend {
	ret := &Backend{
		// no client timeout, callers bound the request with the context
		client:   &http.Client{},
		observer: LogSkipObserver,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// BuildRequest turns the prepared turns and the model settings into the request body.
func BuildRequest(s *ollama_settings.Settings, turns []conversation.Turn) (*ChatRequest, error) {
	messages := make([]api.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, api.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	options, err := s.OptionsMap()
	if err != nil {
		return nil, err
	}

	stream := s.IsStreaming()
	req := &ChatRequest{
		ChatRequest: api.ChatRequest{
			Model:    s.GetModel(),
			Messages: messages,
			Stream:   &stream,
			Options:  options,
		},
	}
	if s.Format != nil {
		req.Format = *s.Format
	}
	if s.KeepAlive != nil {
		req.KeepAlive = *s.KeepAlive
	}

	return req, nil
}

// Complete sends turns to the model and decodes the reply. onDelta may be nil.
//
// The request is bound to ctx: cancelling it aborts the connection and any pending read.
func (b *Backend) Complete(
	ctx context.Context,
	s *ollama_settings.Settings,
	turns []conversation.Turn,
	onDelta DeltaHandler,
) (*Completion, error) {
	endpoint := s.GetEndpoint()

	req, err := BuildRequest(s, turns)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Message: "building request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	log.Debug().
		Str("endpoint", endpoint).
		Str("model", req.Model).
		Int("messages", len(turns)).
		Bool("stream", *req.Stream).
		Msg("sending chat request")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "chat request interrupted")
		}
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	decoder := NewDecoder(ctx, resp.Body, WithSkipObserver(b.observer))
	var sb strings.Builder
	for {
		delta, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var transportErr *TransportError
			if errors.As(err, &transportErr) && transportErr.Endpoint == "" {
				transportErr.Endpoint = endpoint
			}
			return nil, err
		}
		sb.WriteString(delta.Text)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	ret := &Completion{
		Content: sb.String(),
		Model:   req.Model,
		Final:   decoder.Final(),
		Stats:   decoder.Stats(),
	}
	if ret.Final != nil && ret.Final.Model != "" {
		ret.Model = ret.Final.Model
	}

	log.Debug().
		Str("model", ret.Model).
		Int("records", ret.Stats.Records).
		Int("skipped", ret.Stats.Skipped).
		Int("length", len(ret.Content)).
		Msg("chat request completed")

	return ret, nil
}

// readErrorBody extracts the message of an {"error": "..."} body, or returns the raw text.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
