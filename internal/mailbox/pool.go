package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/facturio/internal/account/domain"
	"go.uber.org/zap"
)

// DialFunc opens a fresh authenticated session for an account.
type DialFunc func(ctx context.Context, account accountdomain.MailboxAccount) (Session, error)

// Config bounds pool behavior. Size defaults to the account's PoolSize and
// is capped to respect remote per-account connection ceilings.
type Config struct {
	Size           int
	AcquireTimeout time.Duration
	DialAttempts   int
	DialBackoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 2
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 2 * time.Second
	}
	return c
}

// Pool hands out sessions for one account. Sessions returned unhealthy are
// discarded and replaced lazily on the next acquire.
type Pool struct {
	account accountdomain.MailboxAccount
	dial    DialFunc
	cfg     Config
	log     *zap.Logger

	tokens chan struct{}
	mu     sync.Mutex
	idle   []Session
	closed bool
}

func NewPool(account accountdomain.MailboxAccount, dial DialFunc, cfg Config, log *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if account.PoolSize > 0 && account.PoolSize < cfg.Size {
		cfg.Size = account.PoolSize
	}
	tokens := make(chan struct{}, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		tokens <- struct{}{}
	}
	return &Pool{
		account: account,
		dial:    dial,
		cfg:     cfg,
		log:     log.Named("mailbox.pool").With(zap.String("account_id", account.ID.String())),
		tokens:  tokens,
	}
}

// Acquire returns a healthy session, reusing an idle one when possible.
// Blocks up to the acquire timeout waiting for capacity.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: pool at capacity for %s", ErrConnectionUnavailable, p.account.Username)
	}

	for {
		session := p.popIdle()
		if session == nil {
			break
		}
		if err := session.Check(ctx); err != nil {
			p.log.Debug("discarding stale session", zap.Error(err))
			_ = session.Close()
			continue
		}
		return session, nil
	}

	session, err := p.dialWithRetry(ctx)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return session, nil
}

// Release returns a session to the pool. Unhealthy sessions are closed; the
// pool replaces them lazily.
func (p *Pool) Release(session Session, healthy bool) {
	if session != nil {
		if healthy {
			p.pushIdle(session)
		} else {
			_ = session.Close()
		}
	}
	select {
	case p.tokens <- struct{}{}:
	default:
	}
}

// Close discards all idle sessions.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, s := range idle {
		_ = s.Close()
	}
}

func (p *Pool) popIdle() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	session := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return session
}

func (p *Pool) pushIdle(session Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = session.Close()
		return
	}
	p.idle = append(p.idle, session)
	p.mu.Unlock()
}

// dialWithRetry retries transient failures with linear backoff. Auth
// failures surface immediately.
func (p *Pool) dialWithRetry(ctx context.Context) (Session, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.DialAttempts; attempt++ {
		session, err := p.dial(ctx, p.account)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		lastErr = err
		p.log.Warn("dial failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransientIO, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.cfg.DialBackoff):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrTransientIO, lastErr)
}

// Manager keeps one pool per account.
type Manager struct {
	dial DialFunc
	cfg  Config
	log  *zap.Logger

	mu    sync.Mutex
	pools map[snowflake.ID]*Pool
}

func NewManager(dial DialFunc, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		dial:  dial,
		cfg:   cfg,
		log:   log,
		pools: make(map[snowflake.ID]*Pool),
	}
}

// PoolFor returns the pool for an account, creating it on first use.
func (m *Manager) PoolFor(account accountdomain.MailboxAccount) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[account.ID]; ok {
		return pool
	}
	pool := NewPool(account, m.dial, m.cfg, m.log)
	m.pools[account.ID] = pool
	return pool
}

// Close shuts down every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.Close()
	}
	m.pools = make(map[snowflake.ID]*Pool)
}
