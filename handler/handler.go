package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/inbound"
	"lead-qualifier/internal/usecase"
)

const (
	pathWebhook = "/webhook"
	pathProcess = "/buffer/process"
	pathStart   = "/leads/start"
	pathHealth  = "/healthz"

	headerCorrelationID = "X-Correlation-Id"
)

// Intake is the webhook and delayed-fire side of the use case layer.
type Intake interface {
	Receive(ctx context.Context, msgs []domain.InboundMessage) (usecase.ReceiveResult, error)
	Fire(ctx context.Context, conversationID string) (usecase.FireResult, error)
	BufferDelaySeconds() int
}

// Starter opens a conversation for a listing interest.
type Starter interface {
	Start(ctx context.Context, in usecase.StartInput) (string, error)
}

type Handler struct {
	intake  Intake
	starter Starter
	newID   func() string
}

type Option func(*Handler)

// WithCorrelationIDs overrides how missing correlation ids are generated.
func WithCorrelationIDs(gen func() string) Option {
	return func(h *Handler) {
		if gen != nil {
			h.newID = gen
		}
	}
}

func NewHandler(intake Intake, starter Starter, opts ...Option) (*Handler, error) {
	if intake == nil {
		return nil, errors.New("handler: intake must not be nil")
	}
	if starter == nil {
		return nil, errors.New("handler: starter must not be nil")
	}
	h := &Handler{intake: intake, starter: starter, newID: uuid.NewString}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type webhookResponse struct {
	Received           bool `json:"received"`
	Buffered           bool `json:"buffered,omitempty"`
	Count              int  `json:"count"`
	BufferDelaySeconds int  `json:"bufferDelaySeconds,omitempty"`
}

type processRequest struct {
	ConversationID string `json:"conversationId"`
}

type processResponse struct {
	Processed bool `json:"processed"`
	Drained   int  `json:"drained"`
}

type startRequest struct {
	Phone       string `json:"phone"`
	ListingCode string `json:"listingCode"`
}

type startResponse struct {
	ConversationID string `json:"conversationId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// Handle routes an API Gateway proxy request. Every failure is reported as a
// JSON response. A scheduled fire whose drain fails also returns an error, so
// the delayed-task service redelivers it.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = h.newID()
	}
	r := responder{correlationID: correlationID}

	path := routePath(req)
	allowed, known := routes[path]
	if !known {
		return r.fail(http.StatusNotFound, usecase.ErrorNotFound, "unknown_route", ""), nil
	}
	method := strings.ToUpper(req.HTTPMethod)
	if !slices.Contains(allowed, method) {
		return r.fail(http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed", ""), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return r.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body_encoding", ""), nil
	}

	switch {
	case path == pathHealth, path == pathWebhook && method == http.MethodGet:
		return r.respond(http.StatusOK, statusResponse{Status: "ok"}), nil
	case path == pathWebhook:
		return h.webhook(ctx, r, body), nil
	case path == pathProcess:
		return h.process(ctx, r, body, headerValue(req.Headers, domain.HeaderScheduledTask))
	default:
		return h.start(ctx, r, body), nil
	}
}

var routes = map[string][]string{
	pathWebhook: {http.MethodGet, http.MethodPost},
	pathProcess: {http.MethodPost},
	pathStart:   {http.MethodPost},
	pathHealth:  {http.MethodGet},
}

func (h *Handler) webhook(ctx context.Context, r responder, body []byte) events.APIGatewayProxyResponse {
	msgs := inbound.Normalize(body)
	if len(msgs) == 0 {
		slog.Info("webhook carried no processable messages", "correlationId", r.correlationID)
		return r.respond(http.StatusOK, webhookResponse{Received: false, Count: 0})
	}

	res, err := h.intake.Receive(ctx, msgs)
	if err != nil {
		slog.Error("webhook intake failed", "correlationId", r.correlationID, "err", err)
		return r.fail(http.StatusInternalServerError, usecase.ErrorInternal, "intake_error", err.Error())
	}
	slog.Info("webhook received",
		"correlationId", r.correlationID,
		"count", len(msgs),
		"buffered", res.Buffered,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return r.respond(http.StatusOK, webhookResponse{
		Received:           true,
		Buffered:           res.Buffered > 0,
		Count:              len(msgs),
		BufferDelaySeconds: h.intake.BufferDelaySeconds(),
	})
}

// process drains and answers one conversation. task is the scheduled task key
// when the delayed-task service delivered the request.
func (h *Handler) process(ctx context.Context, r responder, body []byte, task string) (events.APIGatewayProxyResponse, error) {
	var in processRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return r.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json", ""), nil
	}
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	if in.ConversationID == "" {
		return r.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "conversation_id_required", ""), nil
	}

	res, err := h.intake.Fire(ctx, in.ConversationID)
	if err != nil {
		slog.Error("buffer processing failed",
			"correlationId", r.correlationID,
			"conversationId", in.ConversationID,
			"task", task,
			"err", err,
		)
		resp := r.fail(http.StatusInternalServerError, usecase.ErrorInternal, "drain_error", err.Error())
		if task != "" {
			return resp, fmt.Errorf("handler: scheduled fire %s: %w", task, err)
		}
		return resp, nil
	}
	return r.respond(http.StatusOK, processResponse{Processed: res.Processed, Drained: res.Drained}), nil
}

func (h *Handler) start(ctx context.Context, r responder, body []byte) events.APIGatewayProxyResponse {
	var in startRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return r.fail(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_json", "")
	}

	id, err := h.starter.Start(ctx, usecase.StartInput{Phone: in.Phone, ListingCode: in.ListingCode})
	if err != nil {
		return r.useCaseError(err)
	}
	slog.Info("conversation started", "correlationId", r.correlationID, "conversationId", id, "listingCode", in.ListingCode)
	return r.respond(http.StatusOK, startResponse{ConversationID: id})
}

type responder struct {
	correlationID string
}

func (r responder) respond(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "correlationId", r.correlationID, "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: r.correlationID,
		},
		Body: string(body),
	}
}

func (r responder) fail(status int, code usecase.ErrorCode, reason, details string) events.APIGatewayProxyResponse {
	return r.respond(status, errorResponse{Error: string(code), Reason: reason, Details: details})
}

func (r responder) useCaseError(err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		slog.Error("unexpected error", "correlationId", r.correlationID, "err", err)
		return r.fail(http.StatusInternalServerError, usecase.ErrorInternal, "unexpected_error", "")
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "correlationId", r.correlationID, "code", ucErr.Code, "reason", ucErr.Reason, "err", err)
	} else {
		slog.Warn("request rejected", "correlationId", r.correlationID, "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return r.fail(status, ucErr.Code, ucErr.Reason, "")
}

func routePath(req events.APIGatewayProxyRequest) string {
	p := req.Path
	if p == "" {
		p = req.Resource
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
