package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"
)

const (
	eventStreamType = "text/event-stream"
	datastarParam   = "datastar"
)

// IsEventStream reports whether the client asked for server-sent events,
// either through the Accept header or the datastar query parameter.
func IsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), eventStreamType) ||
		r.URL.Query().Has(datastarParam)
}

// StreamContext is the Context of an open event stream.
type StreamContext interface {
	Context
	SendSignal(name string, value any) error
	SendSignals(signals map[string]any) error
	Redirect(url string) error
}

// StreamHandler runs for the lifetime of the connection. Returning ends the stream.
type StreamHandler func(stream StreamContext) error

type sseResponse struct {
	handler StreamHandler
}

func (s sseResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if !IsEventStream(r) {
		return errors.Join(ErrBadRequest.WithMessage("event stream required"), ErrNotEventStream)
	}
	return s.handler(&streamContext{
		Context: NewContext(w, r),
		sse:     datastar.NewSSE(w, r),
	})
}

// SSE opens a datastar event stream and hands it to h.
func SSE(h StreamHandler) Response {
	return sseResponse{handler: h}
}

type streamContext struct {
	Context
	sse *datastar.ServerSentEventGenerator
}

func (c *streamContext) SendSignal(name string, value any) error {
	return c.SendSignals(map[string]any{name: value})
}

func (c *streamContext) SendSignals(signals map[string]any) error {
	data, err := json.Marshal(signals)
	if err != nil {
		return err
	}
	return c.sse.PatchSignals(data)
}

func (c *streamContext) Redirect(url string) error {
	return c.sse.Redirect(url)
}
