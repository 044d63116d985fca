package tracking

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
)

// TokenDecoder verifies unsubscribe tokens.
type TokenDecoder interface {
	Decode(token string) (unsubtoken.Claims, error)
}

var pageTmpl = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>{{.Title}}</h1>
<p>{{.Body}}</p>
</body></html>`))

type page struct {
	Title string
	Body  string
}

// Handler serves unsubscribe links.
type Handler struct {
	tokens TokenDecoder
	sink   Sink
	now    func() time.Time
}

func NewHandler(tokens TokenDecoder, sink Sink) *Handler {
	return &Handler{tokens: tokens, sink: sink, now: time.Now}
}

// Routes returns the standalone router used by cmd/tracking.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	r.Get("/health", h.HandleHealth)
	return r
}

// Mount registers the unsubscribe endpoints on r. GET serves the link a
// recipient clicks; POST serves one-click List-Unsubscribe-Post requests
// from mailbox providers.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Post("/unsubscribe/{token}", h.HandleUnsubscribe)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	claims, err := h.tokens.Decode(token)
	if err != nil {
		status := http.StatusBadRequest
		msg := "This unsubscribe link is invalid."
		if errors.Is(err, unsubtoken.ErrExpired) {
			status = http.StatusGone
			msg = "This unsubscribe link has expired."
		}
		logger.Warn("[tracking] rejected unsubscribe token", "error", err)
		h.respond(w, r, status, page{Title: "Unable to unsubscribe", Body: msg})
		return
	}

	evt := UnsubscribeEvent{
		CampaignID: claims.CampaignID,
		Email:      claims.Email,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		Timestamp:  h.now().UTC(),
	}
	if err := h.sink.Accept(r.Context(), evt); err != nil {
		logger.Error("[tracking] unsubscribe failed", "campaign_id", claims.CampaignID, "error", err)
		h.respond(w, r, http.StatusInternalServerError, page{Title: "Something went wrong", Body: "Please try again later."})
		return
	}

	logger.Info("[tracking] unsubscribe accepted", "campaign_id", claims.CampaignID, "email", claims.Email)
	h.respond(w, r, http.StatusOK, page{Title: "You have been unsubscribed", Body: "You will no longer receive emails from us."})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// respond answers POSTs with JSON and GETs with a small HTML page.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, p page) {
	if r.Method == http.MethodPost {
		if status == http.StatusOK {
			httputil.OK(w, map[string]string{"status": "unsubscribed"})
			return
		}
		httputil.Error(w, status, p.Body)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, p); err != nil {
		logger.Error("[tracking] render page", "error", err)
	}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
