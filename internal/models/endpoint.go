package models

import "time"

// Endpoint ("webhook") is a delivery target owned by exactly one integration.
// It declares event interest either through SubscriptionQuery (a document
// written against the platform event schema) or through a static Events list.
// When a document is present, Events and DeferIf are populated from the
// parsed document at write time.
type Endpoint struct {
	ID                string            `json:"id"`
	IntegrationID     string            `json:"integration_id"`
	Name              string            `json:"name"`
	TargetURL         string            `json:"target_url"`
	Secret            string            `json:"secret,omitempty"`
	SubscriptionQuery string            `json:"subscription_query,omitempty"`
	Events            []string          `json:"events"`
	DeferIf           []string          `json:"defer_if,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	Active            bool              `json:"active"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SubscribesStatically reports whether the endpoint declares eventType in its
// static event list. Document-based matching is the dispatcher's job since it
// needs a parser.
func (e *Endpoint) SubscribesStatically(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}
