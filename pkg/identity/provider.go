package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

// Backend fetches a user profile by id.
type Backend interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

type Provider struct {
	backend Backend
	cache   *expirable.LRU[string, User]
	log     *slog.Logger
}

type Option func(*providerConfig)

type providerConfig struct {
	size int
	ttl  time.Duration
	log  *slog.Logger
}

func WithCache(size int, ttl time.Duration) Option {
	return func(c *providerConfig) {
		if size > 0 {
			c.size = size
		}
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *providerConfig) {
		if log != nil {
			c.log = log
		}
	}
}

func NewProvider(backend Backend, opts ...Option) *Provider {
	cfg := providerConfig{size: 1024, ttl: 10 * time.Minute, log: logger.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider{
		backend: backend,
		cache:   expirable.NewLRU[string, User](cfg.size, nil, cfg.ttl),
		log:     cfg.log.With(logger.Component("identity")),
	}
}

// CurrentUserID returns the id of the verified session, or "".
func (p *Provider) CurrentUserID(ctx context.Context) string {
	return jwt.UserID(ctx)
}

// GetUser returns the profile of userID. The session claims are used when
// they belong to that user and carry an email; otherwise the cache and then
// the backend are consulted.
func (p *Provider) GetUser(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrEmptyUserID
	}
	if c, ok := jwt.ClaimsFromContext(ctx); ok && c.Subject == userID && c.Email != "" {
		return User{ID: userID, Email: c.Email, FirstName: c.Name}, nil
	}
	if u, ok := p.cache.Get(userID); ok {
		return u, nil
	}
	if p.backend == nil {
		return User{}, ErrUserNotFound
	}

	u, err := p.backend.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	p.cache.Add(userID, u)
	return u, nil
}

// Contact implements subscription.Directory.
func (p *Provider) Contact(ctx context.Context, userID string) (subscription.Contact, error) {
	u, err := p.GetUser(ctx, userID)
	if err != nil {
		return subscription.Contact{}, err
	}
	return subscription.Contact{Email: u.Email, Name: u.Name()}, nil
}

// Remember stores a profile received from a webhook.
func (p *Provider) Remember(u User) {
	if u.ID != "" {
		p.cache.Add(u.ID, u)
	}
}

// Forget drops a cached profile.
func (p *Provider) Forget(userID string) {
	p.cache.Remove(userID)
}

// LoggerExtractor adds the session user id to log records.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := jwt.UserID(ctx); id != "" {
			return logger.UserID(id), true
		}
		return slog.Attr{}, false
	}
}
