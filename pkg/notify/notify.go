package notify

import (
	"context"
	"errors"
	"strings"
)

// UserChannelPrefix prefixes per-user channels.
const UserChannelPrefix = "user-"

// UserChannel is the channel signals for one user are published on.
func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

// UserFromChannel reverses UserChannel.
func UserFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, UserChannelPrefix)
	return id, ok && id != ""
}

// Notifier publishes a named event on a channel.
type Notifier interface {
	Trigger(ctx context.Context, channel, event string) error
}

// Signal is one delivered event.
type Signal struct {
	Channel string
	Event   string
}

var (
	ErrEmptyChannel = errors.New("notify: channel is required")
	ErrEmptyEvent   = errors.New("notify: event is required")
	ErrHubClosed    = errors.New("notify: hub is closed")
)

func validate(channel, event string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if event == "" {
		return ErrEmptyEvent
	}
	return nil
}
