package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Svix signature headers.
const (
	HeaderSvixID        = "svix-id"
	HeaderSvixTimestamp = "svix-timestamp"
	HeaderSvixSignature = "svix-signature"
)

const svixSecretPrefix = "whsec_"

// SvixVerifier checks HMAC-SHA256 signatures over "<id>.<timestamp>.<body>",
// the scheme used by identity providers that deliver through svix.
type SvixVerifier struct {
	source    string
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

type SvixOption func(*SvixVerifier)

// WithTolerance bounds the allowed distance between the signed timestamp and now.
func WithTolerance(d time.Duration) SvixOption {
	return func(v *SvixVerifier) { v.tolerance = d }
}

func WithVerifierClock(now func() time.Time) SvixOption {
	return func(v *SvixVerifier) { v.now = now }
}

// NewSvixVerifier accepts a "whsec_" base64 secret or a raw one.
func NewSvixVerifier(source, secret string, opts ...SvixOption) (*SvixVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	key := []byte(secret)
	if strings.HasPrefix(secret, svixSecretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, svixSecretPrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: secret is not valid base64", ErrInvalidConfiguration)
		}
		key = decoded
	}
	v := &SvixVerifier{source: source, key: key, tolerance: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Sign returns the svix-signature header value for a message.
func (v *SvixVerifier) Sign(id string, ts time.Time, body []byte) string {
	return "v1," + v.signature(id, ts.Unix(), body)
}

func (v *SvixVerifier) signature(id string, ts int64, body []byte) string {
	h := hmac.New(sha256.New, v.key)
	fmt.Fprintf(h, "%s.%d.", id, ts)
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks the headers and decodes the {type, data} envelope. The event
// id is the svix message id.
func (v *SvixVerifier) Verify(r *http.Request, body []byte) (Event, error) {
	id := r.Header.Get(HeaderSvixID)
	tsRaw := r.Header.Get(HeaderSvixTimestamp)
	sigs := r.Header.Get(HeaderSvixSignature)
	if id == "" || tsRaw == "" || sigs == "" {
		return Event{}, fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: invalid timestamp", ErrInvalidSignature)
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := []byte(v.signature(id, ts, body))
	matched := false
	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal(expected, []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return Event{}, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type == "" {
		return Event{}, fmt.Errorf("%w: expected {type, data} envelope", ErrInvalidPayload)
	}
	return Event{
		ID:         id,
		Type:       envelope.Type,
		Source:     v.source,
		Payload:    envelope.Data,
		ReceivedAt: v.now().UTC(),
	}, nil
}
