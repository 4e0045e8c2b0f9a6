package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Event is a verified webhook, as stored on the job queue.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Verifier authenticates a raw request and turns it into an Event.
// Errors mean the request must be rejected.
type Verifier interface {
	Verify(r *http.Request, body []byte) (Event, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(r *http.Request, body []byte) (Event, error)

func (f VerifierFunc) Verify(r *http.Request, body []byte) (Event, error) { return f(r, body) }

// HandlerFunc processes one event type.
type HandlerFunc func(ctx context.Context, ev Event) error
