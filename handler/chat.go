package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/phone"
)

const (
	webAddressPrefix = "web:"
	webKeyPrefix     = "web_"
)

var (
	productBlockRe = regexp.MustCompile(`(?s)\*\*\[PRODUCT_START\]\*\*\s*Product Name:\s*(.+?)\s*Price:\s*\$?(\d+\.?\d*)\s*(?:Image:\s*(https?://\S+))?\s*Description:\s*(.+?)\s*\*\*\[PRODUCT_END\]\*\*`)
	anyBlockRe     = regexp.MustCompile(`(?s)\*\*\[PRODUCT_START\]\*\*.*?\*\*\[PRODUCT_END\]\*\*`)
)

type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
}

type productCard struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image,omitempty"`
	Description string  `json:"description"`
}

type chatResponse struct {
	Message     string        `json:"message"`
	Messages    []string      `json:"messages"`
	Images      []string      `json:"images"`
	Products    []productCard `json:"products"`
	HTML        string        `json:"html"`
	SessionID   string        `json:"sessionId"`
	PhoneNumber *string       `json:"phoneNumber"`
	Timestamp   time.Time     `json:"timestamp"`
}

// webTransport accepts every send. Replies reach the browser in the HTTP
// response, so nothing is tracked.
type webTransport struct{}

func (webTransport) Send(context.Context, string, string) (string, error) { return "", nil }

func (webTransport) SendMedia(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (h *Handler) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, conversation.NewError(conversation.ErrorInvalidInput, "invalid_json", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, r, conversation.NewError(conversation.ErrorInvalidInput, "message_required", nil))
		return
	}

	key, sessionID := webSessionKey(req)
	res, err := h.deps.Web.Process(context.WithoutCancel(r.Context()), conversation.Inbound{
		Key:  key,
		To:   webAddressPrefix + key,
		Text: req.Message,
	}, webTransport{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := res.Reply
	if message == "" {
		message = strings.Join(res.Texts, "\n\n")
	}
	if res.Failure != nil {
		writeJSON(w, statusFor(res.Failure.Code), errorResponse{
			Error:   string(res.Failure.Code),
			Reason:  res.Failure.Reason,
			Message: message,
		})
		return
	}

	body, images := conversation.ExtractImages(message)
	html, err := renderHTML(anyBlockRe.ReplaceAllString(body, ""))
	if err != nil {
		h.logger.Warn("render reply html", "session", key, "err", err)
	}
	if len(res.Media) > 0 {
		images = res.Media
	}

	out := chatResponse{
		Message:   message,
		Messages:  nonNil(res.Texts),
		Images:    nonNil(images),
		Products:  parseProducts(res.Reply),
		HTML:      html,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if p := strings.TrimSpace(req.PhoneNumber); p != "" {
		out.PhoneNumber = &p
	}
	writeJSON(w, http.StatusOK, out)
}

// clearChatSession only reaches web sessions; WhatsApp histories are cleared
// through the conversation endpoint.
func (h *Handler) clearChatSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := h.deps.Web.Clear(r.Context(), webKeyPrefix+id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session cleared", "sessionId": id})
}

func (h *Handler) listProducts(w http.ResponseWriter, _ *http.Request) {
	products := h.deps.Catalog.Products()
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.deps.Catalog.Find(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "Product not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"products":  len(h.deps.Catalog.Products()),
		"timestamp": time.Now().UTC(),
	})
}

// webSessionKey returns the store key and the session id reported to the
// client. A phone number shares the WhatsApp session; any other id lives
// under the web_ namespace, which phone keys (digits only) never enter.
func webSessionKey(req chatRequest) (key, sessionID string) {
	if p := strings.TrimSpace(req.PhoneNumber); p != "" {
		if k := phone.SessionKey(p); k != "" {
			return k, k
		}
	}
	sessionID = strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "session_" + uuid.NewString()
	}
	return webKeyPrefix + sessionID, sessionID
}

// parseProducts extracts the product blocks the model is prompted to emit.
func parseProducts(text string) []productCard {
	cards := []productCard{}
	for _, m := range productBlockRe.FindAllStringSubmatch(text, -1) {
		price, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		cards = append(cards, productCard{
			Name:        strings.TrimSpace(m[1]),
			Price:       price,
			Image:       m[3],
			Description: strings.TrimSpace(m[4]),
		})
	}
	return cards
}

func renderHTML(md string) (string, error) {
	md = strings.TrimSpace(md)
	if md == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("handler: render markdown: %w", err)
	}
	return buf.String(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("handler: empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
