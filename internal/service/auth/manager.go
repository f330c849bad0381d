package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	"OtcPull/pkg/cache"
	pkghttp "OtcPull/pkg/http"
	"OtcPull/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Option configures a Manager.
type Option func(*Manager)

// WithCache persists sessions under session:<email>.
func WithCache(svc cache.Service, email string, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cache = svc
		m.cacheKey = cache.GenerateKey("session", email)
		m.cacheTTL = ttl
	}
}

// WithProfileCheck sets the cheap authenticated call used by Refresh.
func WithProfileCheck(client *pkghttp.Client, profileURL string) Option {
	return func(m *Manager) {
		m.client = client
		m.profileURL = profileURL
	}
}

func WithLoginTimeout(d time.Duration) Option {
	return func(m *Manager) { m.loginTimeout = d }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.refreshInterval = d }
}

// Manager owns the broker session. Readers get immutable copies; acquire
// and refresh never run concurrently.
type Manager struct {
	strategies []Strategy
	clock      drepo.Clock
	log        *logger.Logger
	metrics    drepo.Metrics

	cache    cache.Service
	cacheKey string
	cacheTTL time.Duration

	client     *pkghttp.Client
	profileURL string

	loginTimeout    time.Duration
	refreshInterval time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	current *models.Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ drepo.SessionProvider = (*Manager)(nil)

func NewManager(strategies []Strategy, clock drepo.Clock, log *logger.Logger, metrics drepo.Metrics, opts ...Option) *Manager {
	m := &Manager{
		strategies:      strategies,
		clock:           clock,
		log:             log.With(logger.String("component", "auth")),
		metrics:         metrics,
		loginTimeout:    15 * time.Second,
		refreshInterval: 4 * time.Minute,
		cacheTTL:        12 * time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire logs in with the first strategy that succeeds.
func (m *Manager) Acquire(ctx context.Context) (models.Session, error) {
	v, err, _ := m.group.Do("session", func() (any, error) {
		return m.acquire(ctx)
	})
	if err != nil {
		return models.Session{}, err
	}
	return v.(models.Session), nil
}

func (m *Manager) acquire(ctx context.Context) (models.Session, error) {
	if len(m.strategies) == 0 {
		return models.Session{}, fmt.Errorf("%w: no login strategies", models.ErrAuthenticationFailed)
	}
	start := m.clock.Now()
	var errs []error
	for _, s := range m.strategies {
		lctx, cancel := context.WithTimeout(ctx, m.loginTimeout)
		sess, err := s.Login(lctx)
		cancel()
		if err != nil {
			m.metrics.RecordError("auth_" + s.Name())
			m.log.Warn("login strategy failed", logger.String("strategy", s.Name()), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		sess.Strategy = s.Name()
		if sess.IssuedAt.IsZero() {
			sess.IssuedAt = m.clock.Now()
		}
		if sess.ExpiresAt == nil {
			sess.ExpiresAt = tokenExpiry(sess.Token)
		}
		m.set(&sess)
		m.store(ctx, sess)
		m.metrics.RecordLatency("auth_acquire", m.clock.Now().Sub(start).Seconds())
		m.log.Info("session acquired",
			logger.String("strategy", sess.Strategy),
			logger.String("user_id", sess.UserID),
		)
		return sess, nil
	}
	return models.Session{}, fmt.Errorf("%w: %w", models.ErrAuthenticationFailed, errors.Join(errs...))
}

// Current returns the live session, acquiring one if there is none or it
// has expired.
func (m *Manager) Current(ctx context.Context) (models.Session, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != nil && !cur.Expired(m.clock.Now()) {
		return *cur, nil
	}
	v, err, _ := m.group.Do("session", func() (any, error) {
		m.mu.RLock()
		cur := m.current
		m.mu.RUnlock()
		if cur != nil && !cur.Expired(m.clock.Now()) {
			return *cur, nil
		}
		return m.acquire(ctx)
	})
	if err != nil {
		return models.Session{}, err
	}
	return v.(models.Session), nil
}

// Invalidate drops the session if token is still the current one. A stale
// token from an already replaced session is ignored.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	if m.current == nil || m.current.Token != token {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	m.metrics.RecordError("session_expired")
	m.log.Warn("session invalidated")
	if m.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.cache.Delete(ctx, m.cacheKey)
	}
}

// Refresh checks the session with a profile fetch. A 401/403 or a known
// expiry in the past re-enters acquire.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do("session", func() (any, error) {
		m.mu.RLock()
		cur := m.current
		m.mu.RUnlock()
		if cur == nil {
			return m.acquire(ctx)
		}
		if cur.Expired(m.clock.Now()) {
			m.Invalidate(cur.Token)
			return m.acquire(ctx)
		}
		err := m.checkProfile(ctx, *cur)
		if errors.Is(err, models.ErrSessionExpired) {
			m.Invalidate(cur.Token)
			return m.acquire(ctx)
		}
		if err != nil {
			m.metrics.RecordError("auth_refresh")
			return nil, err
		}
		return *cur, nil
	})
	return err
}

func (m *Manager) checkProfile(ctx context.Context, s models.Session) error {
	if m.client == nil || m.profileURL == "" {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, m.loginTimeout)
	defer cancel()
	var discard []byte
	err := m.client.SendAndParse(pctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    m.profileURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.Token,
			"Cookie":        "ssid=" + s.Token,
		},
	}, &discard)
	var se *pkghttp.StatusError
	if errors.As(err, &se) && (se.Code == 401 || se.Code == 403) {
		return fmt.Errorf("profile: %w", models.ErrSessionExpired)
	}
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}

// Start restores a cached session or acquires a new one, then refreshes it
// every refresh interval until Close.
func (m *Manager) Start(ctx context.Context) error {
	if !m.restore(ctx) {
		if _, err := m.Acquire(ctx); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.refreshLoop(ctx)
	return nil
}

func (m *Manager) refreshLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		if err := m.clock.SleepUntil(ctx, m.clock.Now().Add(m.refreshInterval)); err != nil {
			return
		}
		if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.log.Error("session refresh failed", logger.Error(err))
		}
	}
}

// Close stops the refresher.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) restore(ctx context.Context) bool {
	if m.cache == nil {
		return false
	}
	var s models.Session
	if err := m.cache.Get(ctx, m.cacheKey, &s); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			m.log.Warn("session cache read failed", logger.Error(err))
		}
		return false
	}
	if s.Token == "" || s.Expired(m.clock.Now()) {
		return false
	}
	if err := m.checkProfile(ctx, s); err != nil {
		m.log.Info("cached session rejected", logger.Error(err))
		_ = m.cache.Delete(ctx, m.cacheKey)
		return false
	}
	m.set(&s)
	m.log.Info("session restored from cache", logger.String("strategy", s.Strategy))
	return true
}

func (m *Manager) set(s *models.Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

func (m *Manager) store(ctx context.Context, s models.Session) {
	if m.cache == nil {
		return
	}
	ttl := m.cacheTTL
	if s.ExpiresAt != nil {
		if left := s.ExpiresAt.Sub(m.clock.Now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	if err := m.cache.Set(ctx, m.cacheKey, s, ttl); err != nil {
		m.log.Warn("session cache write failed", logger.Error(err))
	}
}
