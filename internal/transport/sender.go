package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Outbound header names.
const (
	HeaderSignature = "X-Hookline-Signature"
	HeaderEvent     = "X-Hookline-Event"
	HeaderDomain    = "X-Hookline-Domain"
	HeaderDelivery  = "X-Hookline-Delivery"
	HeaderEventID   = "X-Hookline-Event-Id"
)

// Target is everything one outbound attempt needs. The signature comes from
// the delivery record; it is never recomputed here.
type Target struct {
	URL        string
	EventType  string
	EventID    string
	DeliveryID string
	Signature  string
	Headers    map[string]string
	Payload    []byte
}

// SendResult is the outcome of one attempt. Permanent marks terminal
// failures the retry loop must not re-run (4xx receiver errors, unknown
// schemes, unroutable addresses).
type SendResult struct {
	StatusCode   int
	ResponseBody string
	DurationMs   int64
	Error        string
	Permanent    bool
}

func (r *SendResult) Success() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// Sender delivers one payload to one target address, dispatching on the
// address scheme: http(s) posts directly, amqp(s) publishes to a queue.
type Sender struct {
	client *http.Client
	amqp   *AMQPSender
	domain string
}

func NewSender(timeout time.Duration, domain string) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		amqp:   NewAMQPSender(),
		domain: domain,
	}
}

func (s *Sender) Send(ctx context.Context, t Target) *SendResult {
	u, err := url.Parse(t.URL)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("unroutable address: %v", err), Permanent: true}
	}

	switch u.Scheme {
	case "http", "https":
		return s.sendHTTP(ctx, t)
	case "amqp", "amqps":
		return s.amqp.Publish(ctx, u, t, s.domain)
	default:
		return &SendResult{Error: fmt.Sprintf("unsupported delivery scheme %q", u.Scheme), Permanent: true}
	}
}

func (s *Sender) sendHTTP(ctx context.Context, t Target) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(t.Payload))
	if err != nil {
		return &SendResult{
			Error:      fmt.Sprintf("failed to create request: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
			Permanent:  true,
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	req.Header.Set(HeaderSignature, t.Signature)
	req.Header.Set(HeaderEvent, t.EventType)
	req.Header.Set(HeaderDomain, s.domain)
	req.Header.Set(HeaderDelivery, t.DeliveryID)
	req.Header.Set(HeaderEventID, t.EventID)
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Connection errors and timeouts are transient.
		return &SendResult{
			Error:      fmt.Sprintf("request failed: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		DurationMs:   time.Since(start).Milliseconds(),
		// Receiver-side client errors never get retried; 5xx does.
		Permanent: resp.StatusCode >= 300 && resp.StatusCode < 500,
	}
}
