package domain

import "time"

// LeadPayload is the normalized inbound webhook payload describing a lead.
// Parsing and signature verification happen upstream; by the time a payload
// reaches the pipeline it is already normalized.
type LeadPayload struct {
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Company   string    `json:"company"`
	Domain    string    `json:"domain"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// CompanyProfile is the result of the company-analysis enrichment call
type CompanyProfile struct {
	Industry     string  `json:"industry"`
	TalkingPoint string  `json:"talking_point"`
	Website      *string `json:"website,omitempty"`
	Capital      *string `json:"capital,omitempty"`
	Sector       *string `json:"sector,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// Campaign is the result of the campaign-directory lookup
type Campaign struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
}
