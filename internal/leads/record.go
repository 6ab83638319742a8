package leads

import "time"

// BusinessRecord is a business listing extracted from a search-results
// card, optionally enriched with detail-page fields, as persisted by the
// store adapter.
type BusinessRecord struct {
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	Address       string    `json:"address,omitempty"`
	Rating        float64   `json:"rating,omitempty"`
	ReviewCount   int       `json:"review_count,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	LocationLabel string    `json:"location_label,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Website       string    `json:"website,omitempty"`
	Hours         string    `json:"hours,omitempty"`
	Services      []string  `json:"services,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// DetailFields holds the subset of fields parsed from a detail page.
// The detail page may carry a more specific category than the card.
type DetailFields struct {
	Phone    string
	Website  string
	Hours    string
	Category string
	Services []string
}

// IdentityKey derives the stable deduplication key for the record:
// the listing URL when present, otherwise the phone number. An empty
// result means the record has no stable identity and cannot be persisted.
func (r BusinessRecord) IdentityKey() string {
	if r.SourceURL != "" {
		return r.SourceURL
	}
	return r.Phone
}

// IsComplete reports whether the record already carries both a phone
// number and a website. Complete records never trigger a detail visit.
func (r BusinessRecord) IsComplete() bool {
	return r.Phone != "" && r.Website != ""
}

// MergeDetail overlays non-empty detail-page fields onto the record.
// Card values survive unless the detail page supplied a replacement.
func (r *BusinessRecord) MergeDetail(d DetailFields) {
	if d.Phone != "" {
		r.Phone = d.Phone
	}
	if d.Website != "" {
		r.Website = d.Website
	}
	if d.Hours != "" {
		r.Hours = d.Hours
	}
	if d.Category != "" {
		r.Category = d.Category
	}
	if len(d.Services) > 0 {
		r.Services = append([]string(nil), d.Services...)
	}
}
