package webhook_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/redis"
	"github.com/dmitrymomot/pixelmint/pkg/webhook"
)

const svixSecret = "whsec_c2VjcmV0LWtleS1mb3ItdGVzdHM=" // base64("secret-key-for-tests")

func svixRequest(t *testing.T, v *webhook.SvixVerifier, id string, ts time.Time, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(body))
	r.Header.Set(webhook.HeaderSvixID, id)
	r.Header.Set(webhook.HeaderSvixTimestamp, strconv.FormatInt(ts.Unix(), 10))
	r.Header.Set(webhook.HeaderSvixSignature, "v1,bm90LWl0 "+v.Sign(id, ts, []byte(body)))
	return r
}

func TestSvixVerifier(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	v, err := webhook.NewSvixVerifier("identity", svixSecret, webhook.WithVerifierClock(func() time.Time { return now }))
	require.NoError(t, err)
	body := `{"type":"user.deleted","data":{"id":"user_1","deleted":true}}`

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		r := svixRequest(t, v, "msg_1", now, body)
		ev, err := v.Verify(r, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, "msg_1", ev.ID)
		assert.Equal(t, "user.deleted", ev.Type)
		assert.Equal(t, "identity", ev.Source)
		assert.JSONEq(t, `{"id":"user_1","deleted":true}`, string(ev.Payload))
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		r := svixRequest(t, v, "msg_1", now, body)
		_, err := v.Verify(r, []byte(strings.Replace(body, "user_1", "user_2", 1)))
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		r := svixRequest(t, v, "msg_1", now.Add(-10*time.Minute), body)
		_, err := v.Verify(r, []byte(body))
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		_, err := v.Verify(r, []byte(body))
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
	})

	t.Run("not an envelope", func(t *testing.T) {
		t.Parallel()
		raw := `[1,2,3]`
		r := svixRequest(t, v, "msg_2", now, raw)
		_, err := v.Verify(r, []byte(raw))
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})

	t.Run("bad secret", func(t *testing.T) {
		t.Parallel()
		_, err := webhook.NewSvixVerifier("identity", "")
		assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)
		_, err = webhook.NewSvixVerifier("identity", "whsec_!!!")
		assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)
	})
}

type captureSink struct {
	mu     sync.Mutex
	events []webhook.Event
	err    error
}

func (s *captureSink) Put(_ context.Context, ev webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var staticVerifier = webhook.VerifierFunc(func(r *http.Request, body []byte) (webhook.Event, error) {
	if r.Header.Get("X-Sig") != "ok" {
		return webhook.Event{}, webhook.ErrInvalidSignature
	}
	return webhook.Event{ID: "evt_1", Type: "invoice.paid", Payload: body}, nil
})

func TestIngestor(t *testing.T) {
	t.Parallel()

	post := func(h http.Handler, sig, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		r.Header.Set("X-Sig", sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	t.Run("bad signature is rejected and not enqueued", func(t *testing.T) {
		t.Parallel()
		sink := &captureSink{}
		var outcomes []string
		ing := webhook.NewIngestor("stripe", staticVerifier, sink,
			webhook.WithIngestObserver(func(_, outcome string) { outcomes = append(outcomes, outcome) }))

		w := post(ing, "bad", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, sink.Len())
		assert.Equal(t, []string{"rejected"}, outcomes)
	})

	t.Run("verified event is enqueued and acknowledged", func(t *testing.T) {
		t.Parallel()
		sink := &captureSink{}
		ing := webhook.NewIngestor("stripe", staticVerifier, sink)

		w := post(ing, "ok", `{"a":1}`)
		assert.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, sink.Len())
		assert.Equal(t, "stripe", sink.events[0].Source)
		assert.JSONEq(t, `{"a":1}`, string(sink.events[0].Payload))
	})

	t.Run("enqueue failure is a server error", func(t *testing.T) {
		t.Parallel()
		ing := webhook.NewIngestor("stripe", staticVerifier, &captureSink{err: errors.New("db down")})
		w := post(ing, "ok", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		ing := webhook.NewIngestor("stripe", staticVerifier, &captureSink{}, webhook.WithMaxBodySize(8))
		w := post(ing, "ok", string(bytes.Repeat([]byte("x"), 64)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func newKV(t *testing.T) (*miniredis.Miniredis, *redis.KV) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewKV(client, 100)
}

func TestProcessor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("dispatches once and marks", func(t *testing.T) {
		t.Parallel()
		mr, kv := newKV(t)
		calls := 0
		p := webhook.NewProcessor(kv)
		require.NoError(t, p.Register("invoice.paid", func(context.Context, webhook.Event) error {
			calls++
			return nil
		}))

		ev := webhook.Event{ID: "evt_1", Type: "invoice.paid"}
		require.NoError(t, p.Handle(ctx, ev))
		require.NoError(t, p.Handle(ctx, ev))
		assert.Equal(t, 1, calls)

		key := webhook.ProcessedKeyPrefix + "evt_1"
		assert.True(t, mr.Exists(key))
		assert.Equal(t, 24*time.Hour, mr.TTL(key))
	})

	t.Run("failure leaves no marker", func(t *testing.T) {
		t.Parallel()
		mr, kv := newKV(t)
		fail := true
		p := webhook.NewProcessor(kv)
		require.NoError(t, p.Register("invoice.paid", func(context.Context, webhook.Event) error {
			if fail {
				return errors.New("provider timeout")
			}
			return nil
		}))

		ev := webhook.Event{ID: "evt_2", Type: "invoice.paid"}
		require.Error(t, p.Handle(ctx, ev))
		assert.False(t, mr.Exists(webhook.ProcessedKeyPrefix+"evt_2"))

		fail = false
		require.NoError(t, p.Handle(ctx, ev))
		assert.True(t, mr.Exists(webhook.ProcessedKeyPrefix+"evt_2"))
	})

	t.Run("unknown types are ignored", func(t *testing.T) {
		t.Parallel()
		_, kv := newKV(t)
		var outcome string
		p := webhook.NewProcessor(kv, webhook.WithProcessObserver(func(_ webhook.Event, o string) { outcome = o }))
		require.NoError(t, p.Handle(ctx, webhook.Event{ID: "evt_3", Type: "charge.refunded"}))
		assert.Equal(t, "ignored", outcome)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		t.Parallel()
		_, kv := newKV(t)
		p := webhook.NewProcessor(kv)
		noop := func(context.Context, webhook.Event) error { return nil }
		require.NoError(t, p.Register("a", noop))
		assert.ErrorIs(t, p.Register("a", noop), webhook.ErrDuplicateHandler)
	})
}

func TestQueueSinkRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	ing := webhook.NewIngestor("stripe", staticVerifier, webhook.QueueSink(enq))
	r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"n":1}`))
	r.Header.Set("X-Sig", "ok")
	w := httptest.NewRecorder()
	ing.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	task, err := storage.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, webhook.TaskName, task.TaskName)
	assert.Equal(t, queue.PriorityHigh, task.Priority)

	_, kv := newKV(t)
	var got webhook.Event
	p := webhook.NewProcessor(kv)
	require.NoError(t, p.Register("invoice.paid", func(_ context.Context, ev webhook.Event) error {
		got = ev
		return nil
	}))
	h := p.TaskHandler()
	assert.Equal(t, webhook.TaskName, h.Name())
	require.NoError(t, h.Handle(ctx, task.Payload))
	assert.Equal(t, "evt_1", got.ID)
	assert.Equal(t, "stripe", got.Source)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
}
