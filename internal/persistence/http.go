package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
	"github.com/aura-chat/peernet/pkg/tracing"
)

// DefaultBaseURL is the persistence API root used when none is configured.
const DefaultBaseURL = "http://localhost:5000/api"

const maxResponseBytes = 8 << 20

// HTTPGateway talks to the persistence HTTP API.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.httpClient = c }
}

// NewHTTPGateway creates a gateway rooted at baseURL (e.g.
// "http://localhost:5000/api").
func NewHTTPGateway(baseURL string, log *logger.Logger, opts ...HTTPOption) *HTTPGateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	g := &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     tracing.Tracer("persistence"),
		logger:     logger.OrNop(log).Component("persistence_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type syncUserRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SyncIdentity posts the identity to /sync-user.
func (g *HTTPGateway) SyncIdentity(ctx context.Context, identity model.Identity) (model.Identity, error) {
	ctx, span := g.tracer.Start(ctx, "persistence.SyncIdentity",
		trace.WithAttributes(attribute.String("identity.id", identity.ID)))
	defer span.End()

	body := syncUserRequest{ID: identity.ID, Name: identity.Name, AvatarURL: identity.AvatarURL}

	var stored model.Identity
	status, err := g.do(ctx, http.MethodPost, "/sync-user", body, &stored)
	if err == nil && status/100 != 2 {
		err = fmt.Errorf("sync-user returned status %d", status)
	}
	if err != nil {
		g.fail(span, "sync_identity", err)
		return model.Identity{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return stored, nil
}

// FetchMessages reads /messages/{conversationID}.
func (g *HTTPGateway) FetchMessages(ctx context.Context, conversationID string) []model.Message {
	ctx, span := g.tracer.Start(ctx, "persistence.FetchMessages",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	var msgs []model.Message
	status, err := g.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(conversationID), nil, &msgs)
	if err == nil && status/100 != 2 {
		err = fmt.Errorf("messages returned status %d", status)
	}
	if err != nil {
		g.fail(span, "fetch_messages", err)
		return nil
	}

	span.SetAttributes(attribute.Int("messages.count", len(msgs)))
	return msgs
}

// AppendMessage posts the message and its conversation id to /messages.
func (g *HTTPGateway) AppendMessage(ctx context.Context, conversationID string, msg model.Message) {
	ctx, span := g.tracer.Start(ctx, "persistence.AppendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.id", msg.ID),
		))
	defer span.End()

	body := model.StoredMessage{Message: msg, ConversationID: conversationID}
	status, err := g.do(ctx, http.MethodPost, "/messages", body, nil)
	if err == nil && status/100 != 2 {
		err = fmt.Errorf("messages returned status %d", status)
	}
	if err != nil {
		g.fail(span, "append_message", err)
	}
}

func (g *HTTPGateway) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.PersistenceFailures.WithLabelValues(op).Inc()
	g.logger.Warn("persistence call failed", zap.String("operation", op), zap.Error(err))
}

// do performs a JSON request. A non-2xx status is returned without error so
// the caller can decide; the server's {"error"} message is folded into err
// when present.
func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return resp.StatusCode, nil
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
