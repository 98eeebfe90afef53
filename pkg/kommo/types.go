// Package kommo provides OAuth2-authenticated REST access to a Kommo-style
// CRM account: lead retrieval with relation expansion, token lifecycle with
// single-flight refresh, and connectivity diagnostics.
package kommo

import "time"

// TokenState holds the OAuth credential triple for one CRM connection.
// There is exactly one authoritative copy per Client; components read
// snapshots and only the TokenManager replaces it. A refreshed state replaces
// the previous one whole, fields are never merged.
type TokenState struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Lead is a CRM sales opportunity record as returned by GET /api/v4/leads.
// Leads are immutable once fetched; derived values (sale flag, dimension
// labels, computed value) live on the aggregator's enriched copy.
type Lead struct {
	ID                int64              `json:"id"`
	Name              string             `json:"name"`
	Price             float64            `json:"price"`
	StatusID          int                `json:"status_id"`
	PipelineID        int64              `json:"pipeline_id"`
	ResponsibleUserID int64              `json:"responsible_user_id"`
	CreatedAt         int64              `json:"created_at"`
	UpdatedAt         int64              `json:"updated_at"`
	ClosedAt          int64              `json:"closed_at"`
	CustomFields      []CustomFieldValue `json:"custom_fields_values"`
	Embedded          LeadEmbedded       `json:"_embedded"`
}

// LeadEmbedded carries the relations expanded inline via the `with` query
// parameter, avoiding N+1 follow-up calls.
type LeadEmbedded struct {
	Tags            []Tag            `json:"tags"`
	CatalogElements []CatalogElement `json:"catalog_elements"`
}

// Tag is a free-text label attached to a lead. Semantic meaning (salesperson,
// persona, source) is derived downstream by the tag classifier.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CatalogElement is a catalog line item linked to a lead.
type CatalogElement struct {
	ID       int64              `json:"id"`
	Metadata CatalogElementMeta `json:"metadata"`
}

// CatalogElementMeta holds the pricing data of a catalog line item.
type CatalogElementMeta struct {
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// CustomFieldValue is a loosely-typed custom field attached to a lead.
type CustomFieldValue struct {
	FieldID   int64            `json:"field_id"`
	FieldName string           `json:"field_name"`
	Values    []CustomFieldVal `json:"values"`
}

// CustomFieldVal is one value of a custom field.
type CustomFieldVal struct {
	Value any `json:"value"`
}

// Pipeline describes a sales funnel and its stages.
type Pipeline struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Embedded PipelineEmbedded `json:"_embedded"`
}

// PipelineEmbedded holds the statuses of a pipeline.
type PipelineEmbedded struct {
	Statuses []PipelineStatus `json:"statuses"`
}

// PipelineStatus is one stage of a sales funnel.
type PipelineStatus struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Sort int    `json:"sort"`
}

// CustomField describes a custom field definition on the leads entity.
type CustomField struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Account is the CRM account summary from GET /api/v4/account.
type Account struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	Currency  string `json:"currency"`
}
