package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
)

// PayloadRenderer is the seam into the business-logic layer's query
// execution: it evaluates a subscription document against the event's
// subject and returns the shaped payload. Execution errors belong inside the
// payload as a structured error object so partial payloads still reach the
// receiver; returning a nil payload means there is nothing to deliver and
// the dispatcher skips the endpoint with a logged reason.
type PayloadRenderer interface {
	Render(ctx context.Context, document string, subject map[string]interface{}) (json.RawMessage, error)
}

// SubjectRenderer is the built-in fallback used when no business-logic layer
// is wired in: the whole subject is serialized as the payload, ignoring the
// document's field selections. Serialization errors are folded into the
// payload per the renderer contract.
type SubjectRenderer struct{}

func (SubjectRenderer) Render(_ context.Context, _ string, subject map[string]interface{}) (json.RawMessage, error) {
	if subject == nil {
		return nil, nil
	}
	b, err := json.Marshal(subject)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"errors":[{"message":%q}]}`, err.Error())), nil
	}
	return b, nil
}
