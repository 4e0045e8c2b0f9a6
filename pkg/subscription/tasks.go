package subscription

import (
	"context"

	"github.com/dmitrymomot/pixelmint/pkg/queue"
)

// SyncTask asks the worker to re-derive one user's record from the provider.
type SyncTask struct {
	UserID string `json:"user_id"`
}

// SyncTaskHandler runs SyncTask payloads.
func (s *Service) SyncTaskHandler() queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, t SyncTask) error {
		_, err := s.Sync(ctx, t.UserID)
		if err == nil {
			s.notify(ctx, t.UserID)
		}
		return err
	})
}
