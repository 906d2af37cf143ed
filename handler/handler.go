// Package handler exposes the assistant over HTTP: the web chat, the Twilio
// WhatsApp webhooks and the operational endpoints. The same router serves
// the standalone server and API Gateway proxy events.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/delivery"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/twilio"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

// Conversations runs turns for one channel.
type Conversations interface {
	Process(ctx context.Context, in conversation.Inbound, t conversation.Transport) (conversation.Result, error)
	History(ctx context.Context, key string) ([]domain.Turn, error)
	Clear(ctx context.Context, key string) error
}

// Messenger is the WhatsApp side of Twilio.
type Messenger interface {
	conversation.Transport
	Fetch(ctx context.Context, sid string) (twilio.Message, error)
	AuthToken(ctx context.Context) (string, error)
	Demo() bool
}

type Catalog interface {
	Products() []domain.Product
	Find(id string) (domain.Product, bool)
}

// Deps are the collaborators a Handler serves. Web may be nil, in which
// case web chat turns run on the WhatsApp controller.
type Deps struct {
	WhatsApp  Conversations
	Web       Conversations
	Messenger Messenger
	Tracker   delivery.Tracker
	Catalog   Catalog
}

// Integrations describes configuration surfaced by the health endpoint.
type Integrations struct {
	OpenAIConfigured bool
	WhatsAppNumber   string
}

type Handler struct {
	deps          Deps
	logger        *slog.Logger
	verifyToken   string
	publicBaseURL string
	validateSig   bool
	integrations  Integrations
	router        chi.Router
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithVerifyToken sets the token GET /api/whatsapp/webhook must present.
func WithVerifyToken(token string) Option {
	return func(h *Handler) {
		h.verifyToken = strings.TrimSpace(token)
	}
}

// WithSignatureValidation rejects Twilio posts whose X-Twilio-Signature does
// not match. publicBaseURL is the scheme and host Twilio was configured with.
func WithSignatureValidation(publicBaseURL string) Option {
	return func(h *Handler) {
		h.validateSig = true
		h.publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	}
}

func WithIntegrations(i Integrations) Option {
	return func(h *Handler) {
		h.integrations = i
	}
}

func NewHandler(deps Deps, opts ...Option) (*Handler, error) {
	if deps.WhatsApp == nil {
		return nil, errors.New("handler: whatsapp conversations must not be nil")
	}
	if deps.Messenger == nil {
		return nil, errors.New("handler: messenger must not be nil")
	}
	if deps.Tracker == nil {
		return nil, errors.New("handler: tracker must not be nil")
	}
	if deps.Catalog == nil {
		return nil, errors.New("handler: catalog must not be nil")
	}
	if deps.Web == nil {
		deps.Web = deps.WhatsApp
	}

	h := &Handler{deps: deps, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.validateSig && h.publicBaseURL == "" {
		return nil, errors.New("handler: signature validation needs a public base URL")
	}
	h.router = h.routes()
	return h, nil
}

// ServeHTTP makes the Handler usable as an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(h.correlation)
	r.Use(h.requestLog)
	r.Use(chiMiddleware.Recoverer)
	r.Use(limitBody)

	r.Get("/api/health", h.health)

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/message", h.chatMessage)
		r.Delete("/session/{sessionId}", h.clearChatSession)
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
	})

	r.Route("/api/whatsapp", func(r chi.Router) {
		r.Get("/webhook", h.verifyWebhook)
		r.With(h.twilioSignature).Post("/webhook", h.incomingMessage)
		r.With(h.twilioSignature).Post("/status", h.statusCallback)
		r.Get("/messages/{sid}", h.getMessage)
		r.Post("/messages/{sid}/refresh", h.refreshMessage)
		r.Get("/conversation/{phoneNumber}", h.getConversation)
		r.Delete("/conversation/{phoneNumber}", h.clearConversation)
		r.Get("/stats", h.stats)
		r.Get("/stats/{phoneNumber}", h.stats)
		r.Get("/health", h.whatsappHealth)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	})
	return r
}

type correlationKey struct{}

// correlation echoes the caller's correlation id or assigns one.
func (h *Handler) correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", correlationID(r.Context()),
		)
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// writeError maps err to a status code. Errors that are not
// *conversation.Error are reported as INTERNAL.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *conversation.Error
	if !errors.As(err, &ce) {
		ce = conversation.NewError(conversation.ErrorInternal, "unexpected_error", err)
	}
	status := statusFor(ce.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"code", ce.Code,
			"reason", ce.Reason,
			"correlation_id", correlationID(r.Context()),
			"err", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: string(ce.Code), Reason: ce.Reason})
}

func statusFor(code conversation.ErrorCode) int {
	switch code {
	case conversation.ErrorInvalidInput, conversation.ErrorInvalidRecipient:
		return http.StatusBadRequest
	case conversation.ErrorRateLimited:
		return http.StatusTooManyRequests
	case conversation.ErrorNetwork:
		return http.StatusGatewayTimeout
	case conversation.ErrorUpstreamUnavailable, conversation.ErrorMalformedResponse, conversation.ErrorSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
