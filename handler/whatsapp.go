package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/twilio"
	"shop-assistant/internal/phone"
)

const twilioSignatureHeader = "X-Twilio-Signature"

func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub_verify_token") != h.verifyToken {
		h.logger.Warn("webhook verification failed")
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}
	h.logger.Info("webhook verified")
	writeText(w, http.StatusOK, q.Get("hub_challenge"))
}

// twilioSignature rejects form posts that Twilio did not sign. The URL Twilio
// signed is the configured public base plus the request path and query.
func (h *Handler) twilioSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.validateSig {
			next.ServeHTTP(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeText(w, http.StatusBadRequest, "Bad Request")
			return
		}
		token, err := h.deps.Messenger.AuthToken(r.Context())
		if err != nil {
			h.logger.Error("signature validation unavailable", "err", err)
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		full := h.publicBaseURL + r.URL.Path
		if r.URL.RawQuery != "" {
			full += "?" + r.URL.RawQuery
		}
		if !twilio.ValidSignature(token, full, r.PostForm, r.Header.Get(twilioSignatureHeader)) {
			h.logger.Warn("rejected unsigned twilio request", "path", r.URL.Path)
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// incomingMessage runs the turn before acknowledging. Failures are logged and
// still acknowledged so Twilio does not redeliver the message. The turn runs
// to completion even when Twilio stops waiting for the response.
func (h *Handler) incomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	from := r.PostForm.Get("From")
	if !phone.IsValidWhatsApp(from) {
		h.logger.Warn("ignoring message from invalid number", "from", from)
		writeText(w, http.StatusOK, "OK")
		return
	}

	in := conversation.Inbound{
		Key:         phone.SessionKey(from),
		To:          phone.Normalize(from),
		Text:        r.PostForm.Get("Body"),
		DisplayName: r.PostForm.Get("ProfileName"),
	}
	if n, _ := strconv.Atoi(r.PostForm.Get("NumMedia")); n > 0 {
		in.MediaURL = r.PostForm.Get("MediaUrl0")
		in.MediaType = r.PostForm.Get("MediaContentType0")
	}
	h.logger.Info("whatsapp message received",
		"from", phone.Display(from),
		"country", phone.Country(from).Country,
		"sandbox", phone.IsSandbox(from),
		"media", in.MediaURL != "",
		"correlation_id", correlationID(r.Context()),
	)

	res, err := h.deps.WhatsApp.Process(context.WithoutCancel(r.Context()), in, h.deps.Messenger)
	switch {
	case err == nil:
		h.logger.Info("whatsapp turn completed", "session", in.Key, "path", res.Path, "texts", len(res.Texts), "media", len(res.Media))
	case conversation.CodeOf(err) == conversation.ErrorInvalidInput:
		h.logger.Warn("whatsapp message rejected", "session", in.Key, "err", err)
	default:
		h.logger.Error("whatsapp turn failed", "session", in.Key, "path", res.Path, "code", conversation.CodeOf(err), "err", err)
	}
	writeText(w, http.StatusOK, "OK")
}

func (h *Handler) statusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	sid := strings.TrimSpace(r.PostForm.Get("MessageSid"))
	status := domain.DeliveryStatus(strings.TrimSpace(r.PostForm.Get("MessageStatus")))
	if sid == "" || status == "" {
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	errorCode := r.PostForm.Get("ErrorCode")
	errorMessage := r.PostForm.Get("ErrorMessage")

	if status.Failed() {
		h.logger.Error("message delivery failed", "sid", sid, "status", status, "error_code", errorCode, "error_message", errorMessage)
	} else {
		h.logger.Info("message status update", "sid", sid, "status", status)
	}
	if err := h.deps.Tracker.UpdateStatus(r.Context(), sid, status, errorCode, errorMessage); err != nil {
		h.logger.Error("update delivery status", "sid", sid, "err", err)
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.deps.Tracker.Get(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "Message not tracked"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// refreshMessage pulls the current status from Twilio for messages whose
// callback never arrived.
func (h *Handler) refreshMessage(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	msg, err := h.deps.Messenger.Fetch(r.Context(), sid)
	if err != nil {
		h.logger.Error("fetch message status", "sid", sid, "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(conversation.ErrorUpstreamUnavailable), Reason: "twilio_fetch_error"})
		return
	}
	errorCode := ""
	if msg.ErrorCode != nil {
		errorCode = strconv.Itoa(*msg.ErrorCode)
	}
	if err := h.deps.Tracker.UpdateStatus(r.Context(), sid, domain.DeliveryStatus(msg.Status), errorCode, msg.ErrorMessage); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, tracked, err := h.deps.Tracker.Get(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"messageSid":   sid,
		"status":       msg.Status,
		"errorCode":    errorCode,
		"errorMessage": msg.ErrorMessage,
		"tracked":      tracked,
	}
	if tracked {
		resp["record"] = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "phoneNumber")
	turns, err := h.deps.WhatsApp.History(r.Context(), phone.SessionKey(number))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phoneNumber":         phone.Normalize(number),
		"conversationHistory": turns,
		"messageCount":        len(turns),
	})
}

func (h *Handler) clearConversation(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "phoneNumber")
	if err := h.deps.WhatsApp.Clear(r.Context(), phone.SessionKey(number)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phoneNumber": phone.Normalize(number),
		"cleared":     true,
		"message":     "Conversation history cleared successfully",
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	label, recipient := "all", ""
	if number := chi.URLParam(r, "phoneNumber"); number != "" {
		recipient = phone.Normalize(number)
		label = recipient
	}
	stats, err := h.deps.Tracker.Stats(r.Context(), recipient)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phoneNumber": label,
		"stats":       stats,
		"timestamp":   time.Now().UTC(),
	})
}

// whatsappHealth fails when a secret the bot needs to answer is missing.
func (h *Handler) whatsappHealth(w http.ResponseWriter, _ *http.Request) {
	twilioConfigured := !h.deps.Messenger.Demo()
	var missing []string
	if !twilioConfigured {
		missing = append(missing, "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN")
	}
	if h.integrations.WhatsAppNumber == "" {
		missing = append(missing, "TWILIO_WHATSAPP_NUMBER")
	}
	if !h.integrations.OpenAIConfigured {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":      "error",
			"message":     "Missing required environment variables",
			"missingVars": missing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "WhatsApp Bot",
		"timestamp": time.Now().UTC(),
		"config": map[string]any{
			"twilioConfigured": twilioConfigured,
			"openaiConfigured": h.integrations.OpenAIConfigured,
			"whatsappNumber":   h.integrations.WhatsAppNumber,
		},
	})
}
