package metrics

import "time"

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CampaignTotals is the raw sum over a set of campaigns.
type CampaignTotals struct {
	Campaigns    int `json:"campaigns"`
	Recipients   int `json:"recipients"`
	Sent         int `json:"sent"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

// Summary is CampaignTotals with derived delivery figures.
type Summary struct {
	CampaignTotals
	Delivered       int     `json:"delivered"`
	DeliveryRate    float64 `json:"delivery_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// Trend compares a period against the previous calendar month. Count
// changes are percentages; rate changes are percentage points.
type Trend struct {
	SentChange            float64 `json:"sent_change"`
	CampaignsChange       float64 `json:"campaigns_change"`
	DeliveryRateChange    float64 `json:"delivery_rate_change"`
	BounceRateChange      float64 `json:"bounce_rate_change"`
	UnsubscribeRateChange float64 `json:"unsubscribe_rate_change"`
}

// CampaignMetrics is the result of CampaignMetrics.
type CampaignMetrics struct {
	Period         Period  `json:"period"`
	Current        Summary `json:"current"`
	PreviousPeriod Period  `json:"previous_period"`
	Previous       Summary `json:"previous"`
	Trend          Trend   `json:"trend"`
}

// GrowthPoint is one calendar month of contact growth.
type GrowthPoint struct {
	Month         string `json:"month"` // YYYY-MM
	NewContacts   int    `json:"new_contacts"`
	TotalContacts int    `json:"total_contacts"`
}

// ContactBreakdown counts contacts by reachability.
type ContactBreakdown struct {
	ActiveConsented    int `json:"active_consented"`
	ActiveNotConsented int `json:"active_not_consented"`
	Inactive           int `json:"inactive"`
}

// EngagementStats is the result of EngagementStats.
type EngagementStats struct {
	ContactBreakdown
	Total        int     `json:"total"`
	Unsubscribed int     `json:"unsubscribed"`
	ConsentRate  float64 `json:"consent_rate"`
}

// TagCount is one row of TagAnalytics.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// CampaignPerformance is one campaign with its rates.
type CampaignPerformance struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Subject           string     `json:"subject"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	TotalRecipients   int        `json:"total_recipients"`
	TotalSent         int        `json:"total_sent"`
	TotalBounced      int        `json:"total_bounced"`
	TotalUnsubscribed int        `json:"total_unsubscribed"`
	DeliveryRate      float64    `json:"delivery_rate"`
	BounceRate        float64    `json:"bounce_rate"`
	UnsubscribeRate   float64    `json:"unsubscribe_rate"`
	SuccessScore      float64    `json:"success_score,omitempty"`
}

// BounceReason is one row of BounceAnalysis.
type BounceReason struct {
	Reason     string  `json:"reason"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}
