package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/audience"
	"github.com/ignite/campaign-engine/internal/service/dispatch"
)

// actorHeader names the operator who triggered a dispatch. It is stored as
// the campaign's sent_by.
const actorHeader = "X-Actor"

// dispatchRequest keeps campaignId raw so a non-string id is rejected
// instead of silently becoming "".
type dispatchRequest struct {
	CampaignID json.RawMessage `json:"campaignId"`
	TestMode   bool            `json:"testMode"`
	TestEmail  string          `json:"testEmail"`
}

// HandleDispatch sends a campaign live or as a single test message.
//
//	POST /api/campaigns/dispatch
func (h *Handlers) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	var campaignID string
	if len(req.CampaignID) == 0 || string(req.CampaignID) == "null" {
		httputil.BadRequest(w, "campaignId is required")
		return
	}
	if err := json.Unmarshal(req.CampaignID, &campaignID); err != nil {
		httputil.BadRequest(w, "campaignId must be a string")
		return
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		httputil.BadRequest(w, "campaignId is required")
		return
	}

	mode := domain.Live()
	if req.TestMode {
		mode = domain.Test(req.TestEmail)
	}

	ctx, cancel := h.dispatchContext(r)
	defer cancel()
	if actor := r.Header.Get(actorHeader); actor != "" {
		ctx = dispatch.WithActor(ctx, actor)
	}

	res, err := h.dispatcher.Dispatch(ctx, campaignID, mode)
	if err != nil {
		writeDispatchError(w, campaignID, err)
		return
	}
	httputil.OK(w, res)
}

// HandleResume continues an interrupted live dispatch from its checkpoint.
//
//	POST /api/campaigns/{id}/resume
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.dispatchContext(r)
	defer cancel()
	res, err := h.dispatcher.Resume(ctx, id)
	if err != nil {
		writeDispatchError(w, id, err)
		return
	}
	httputil.OK(w, res)
}

func writeDispatchError(w http.ResponseWriter, campaignID string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation), errors.Is(err, audience.ErrConfiguration):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, dispatch.ErrAlreadyDispatched):
		httputil.Conflict(w, "campaign has already been dispatched")
	case errors.Is(err, dispatch.ErrNotResumable):
		httputil.Conflict(w, "campaign has no dispatch in progress")
	case errors.Is(err, dispatch.ErrProviderNotConfigured):
		logger.Error("[api] dispatch refused: provider not configured", "campaign_id", campaignID)
		httputil.Error(w, http.StatusInternalServerError, "email provider is not configured")
	default:
		logger.Error("[api] dispatch failed", "campaign_id", campaignID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, err.Error())
	}
}
