package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySending  DeliveryStatus = "sending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// InFlight reports whether the delivery may still produce an attempt.
func (s DeliveryStatus) InFlight() bool {
	return s == DeliveryPending || s == DeliverySending || s == DeliveryRetrying
}

// Delivery is one unit of async work: a fired event instance bound to a
// single endpoint with its rendered payload. The signature is computed once
// at enqueue time and stays stable across retries.
type Delivery struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EndpointID   string          `json:"endpoint_id"`
	Payload      json.RawMessage `json:"payload"`
	Signature    string          `json:"signature,omitempty"`
	Status       DeliveryStatus  `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Attempt is an append-only record of a single outbound try.
type Attempt struct {
	ID            string `json:"id"`
	DeliveryID    string `json:"delivery_id"`
	AttemptNumber int    `json:"attempt_number"`
	StatusCode    int    `json:"status_code"`
	ResponseBody  string `json:"response_body"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"created_at"`
}
