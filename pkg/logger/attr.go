package logger

import (
	"log/slog"
	"time"
)

// Error returns an empty Attr for a nil error so callers can log unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func UserID(id string) slog.Attr { return slog.String("user_id", id) }

func RequestID(id string) slog.Attr { return slog.String("request_id", id) }

func Component(name string) slog.Attr { return slog.String("component", name) }

func Feature(name string) slog.Attr { return slog.String("feature", name) }

func Tier(name string) slog.Attr { return slog.String("tier", name) }

func CustomerID(id string) slog.Attr { return slog.String("customer_id", id) }

func SubscriptionID(id string) slog.Attr { return slog.String("subscription_id", id) }

func EventID(id string) slog.Attr { return slog.String("event_id", id) }

func EventType(t string) slog.Attr { return slog.String("event_type", t) }

func TaskID(id string) slog.Attr { return slog.String("task_id", id) }

func RetryCount(n int) slog.Attr { return slog.Int("retry_count", n) }

func Duration(d time.Duration) slog.Attr { return slog.Duration("duration", d) }
