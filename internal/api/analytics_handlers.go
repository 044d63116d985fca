package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/metrics"
)

// defaultMetricsWindow is used when /analytics/campaigns gets no start.
const defaultMetricsWindow = 30 * 24 * time.Hour

// HandleCampaignMetrics aggregates completed campaigns sent in [start, end).
//
//	GET /api/analytics/campaigns?start=2024-03-01&end=2024-04-01
func (h *Handlers) HandleCampaignMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		httputil.BadRequest(w, "end: "+err.Error())
		return
	}
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		httputil.BadRequest(w, "start: "+err.Error())
		return
	}
	if end == nil {
		now := h.now().UTC()
		end = &now
	}
	if start == nil {
		s := end.Add(-defaultMetricsWindow)
		start = &s
	}

	res, err := h.analytics.CampaignMetrics(r.Context(), *start, *end)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleContactGrowth returns per-month contact growth.
//
//	GET /api/analytics/contact-growth?months=6
func (h *Handlers) HandleContactGrowth(w http.ResponseWriter, r *http.Request) {
	months, ok := intParam(w, r, "months")
	if !ok {
		return
	}
	res, err := h.analytics.ContactGrowth(r.Context(), months)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	GET /api/analytics/engagement
func (h *Handlers) HandleEngagement(w http.ResponseWriter, r *http.Request) {
	res, err := h.analytics.EngagementStats(r.Context())
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	GET /api/analytics/tags
func (h *Handlers) HandleTagAnalytics(w http.ResponseWriter, r *http.Request) {
	res, err := h.analytics.TagAnalytics(r.Context())
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleTopCampaigns ranks recent completed campaigns by delivery rate.
//
//	GET /api/analytics/top-campaigns?limit=5
func (h *Handlers) HandleTopCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	res, err := h.analytics.TopCampaigns(r.Context(), limit)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	GET /api/analytics/bounces
func (h *Handlers) HandleBounceAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := h.analytics.BounceAnalysis(r.Context())
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleCompareCampaigns scores the given campaigns side by side.
//
//	POST /api/analytics/compare {"campaign_ids": ["..."]}
func (h *Handlers) HandleCompareCampaigns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CampaignIDs []string `json:"campaign_ids"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.analytics.CompareCampaigns(r.Context(), req.CampaignIDs)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, res)
}

func writeAnalyticsError(w http.ResponseWriter, err error) {
	if errors.Is(err, metrics.ErrValidation) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}

// intParam reads an optional integer query parameter; 0 means absent.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		httputil.BadRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
