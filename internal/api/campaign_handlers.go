package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

const (
	defaultEventLimit = 500
	maxEventLimit     = 5000
)

// HandleListCampaigns lists campaigns newest first.
//
//	GET /api/campaigns?status=draft&page=1&limit=20
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !domain.CampaignStatus(status).Valid() {
		httputil.BadRequest(w, "unknown status "+strconv.Quote(status))
		return
	}
	p := ParsePagination(r, 20, 100)

	list, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{Status: status, Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, NewPaginatedResponse(list, p, int64(total)))
}

// HandleGetCampaign returns one campaign.
//
//	GET /api/campaigns/{id}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleCreateCampaign creates a draft.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), input)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.Created(w, c)
}

// HandleUpdateCampaign edits a draft. Only fields present in the body change.
//
//	PUT /api/campaigns/{id}
func (h *Handlers) HandleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleCampaignEvents reads the ledger of one campaign.
//
//	GET /api/campaigns/{id}/events?type=bounced,sent&since=2024-01-01&until=...&limit=100
func (h *Handlers) HandleCampaignEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		writeCampaignError(w, err)
		return
	}

	q := r.URL.Query()
	f := ledger.Filter{CampaignID: id, Limit: defaultEventLimit}
	if raw := q.Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := domain.EventType(strings.TrimSpace(part))
			if !t.Valid() {
				httputil.BadRequest(w, "unknown event type "+strconv.Quote(string(t)))
				return
			}
			f.EventTypes = append(f.EventTypes, t)
		}
	}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		httputil.BadRequest(w, "since: "+err.Error())
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		httputil.BadRequest(w, "until: "+err.Error())
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxEventLimit)
	}

	events, err := h.events.Query(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if events == nil {
		events = []domain.CampaignEvent{}
	}
	httputil.OK(w, map[string]any{"campaign_id": id, "events": events, "count": len(events)})
}

func writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidCampaign):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrNotEditable):
		httputil.Conflict(w, "campaign is not a draft")
	default:
		httputil.InternalError(w, err)
	}
}

// parseTimeParam accepts RFC 3339 or a bare date. Empty means unset.
func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
	}
	return &t, nil
}
