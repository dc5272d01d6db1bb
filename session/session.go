// Package session implements the synchronized (heartbeat-lease) session
// used to serialize long-running jobs such as an online index build across
// process restarts (spec §4.R): a single lock holder record persisted at a
// well-known key, renewed on a timer, and reclaimable once it goes stale.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/logging"
)

// LockHolder is the persisted state of whoever currently holds a lock.
type LockHolder struct {
	SessionID     string    `json:"sessionId"`
	SessionName   string    `json:"sessionName"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (h LockHolder) expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && now.After(h.ExpiresAt)
}

func (h LockHolder) stale(now time.Time, staleThreshold time.Duration) bool {
	return now.Sub(h.LastHeartbeat) > staleThreshold
}

// Session represents one process's attempt to hold a named lock. Acquire
// must succeed before Renew/Release are meaningful.
type Session struct {
	db     kv.Database
	key    []byte
	cfg    config.Session
	log    logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	holder  LockHolder
	held    bool
	stopCh  chan struct{}
	stopped chan struct{}
}

// New constructs a Session that will contend for the lock stored at key.
func New(db kv.Database, key []byte, cfg config.Session, log logging.Logger) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Session{db: db, key: key, cfg: cfg, log: log, now: time.Now}
}

func (s *Session) load(ctx context.Context, txn kv.Transaction) (LockHolder, bool, error) {
	raw, err := txn.GetValue(ctx, s.key, false)
	if err != nil {
		return LockHolder{}, false, err
	}
	if raw == nil {
		return LockHolder{}, false, nil
	}
	var h LockHolder
	if err := json.Unmarshal(raw, &h); err != nil {
		return LockHolder{}, false, engineerr.New(engineerr.InvalidLockData, "lock holder record is corrupt", "cause", err.Error())
	}
	return h, true, nil
}

func (s *Session) store(txn kv.Transaction, h LockHolder) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	txn.SetValue(s.key, raw)
	return nil
}

// Acquire attempts to take the lock, succeeding immediately if it is free,
// expired, or (with AllowLockStealing) held but stale. It starts a
// background goroutine that renews the lease every
// cfg.RenewalIntervalSeconds until Release is called.
func (s *Session) Acquire(ctx context.Context) error {
	txn, err := s.db.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Cancel()

	existing, found, err := s.load(ctx, txn)
	if err != nil {
		return err
	}

	now := s.now()
	staleThreshold := time.Duration(s.cfg.StaleThresholdSeconds) * time.Second
	if found && !existing.expired(now) {
		ownedByOther := existing.SessionID != s.cfg.SessionID
		if ownedByOther && !(s.cfg.AllowLockStealing && existing.stale(now, staleThreshold)) {
			return engineerr.New(engineerr.LockNotAcquired, "lock held by another session",
				"heldBy", existing.SessionID, "expiresAt", existing.ExpiresAt)
		}
	}

	holder := LockHolder{
		SessionID:     s.cfg.SessionID,
		SessionName:   s.cfg.SessionName,
		AcquiredAt:    now,
		LastHeartbeat: now,
		ExpiresAt:     now.Add(time.Duration(s.cfg.LockTimeoutSeconds) * time.Second),
	}
	if err := s.store(txn, holder); err != nil {
		return err
	}
	if _, err := txn.Commit(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.holder = holder
	s.held = true
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.renewLoop()
	return nil
}

// Renew extends the lease. It fails with engineerr.LockLost if another
// session has since taken over the key.
func (s *Session) Renew(ctx context.Context) error {
	txn, err := s.db.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Cancel()

	existing, found, err := s.load(ctx, txn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	mySessionID := s.cfg.SessionID
	s.mu.Unlock()

	if !found || existing.SessionID != mySessionID {
		return engineerr.New(engineerr.LockLost, "lock no longer held by this session")
	}

	now := s.now()
	existing.LastHeartbeat = now
	existing.ExpiresAt = now.Add(time.Duration(s.cfg.LockTimeoutSeconds) * time.Second)
	if err := s.store(txn, existing); err != nil {
		return err
	}
	if _, err := txn.Commit(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.holder = existing
	s.mu.Unlock()
	return nil
}

func (s *Session) renewLoop() {
	defer close(s.stopped)
	interval := time.Duration(s.cfg.RenewalIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Renew(context.Background()); err != nil {
				s.log.WithField("session", s.cfg.SessionID).Warnf("lock renewal failed: %v", err)
				s.mu.Lock()
				s.held = false
				s.mu.Unlock()
				return
			}
		}
	}
}

// Release stops background renewal and clears the lock, but only if it is
// still owned by this session (a lock that was stolen must not be cleared
// by its former holder).
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
	}
	stopped := s.stopped
	s.held = false
	s.mu.Unlock()
	if stopped != nil {
		<-stopped
	}

	txn, err := s.db.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Cancel()

	existing, found, err := s.load(ctx, txn)
	if err != nil {
		return err
	}
	if !found || existing.SessionID != s.cfg.SessionID {
		return nil
	}
	txn.Clear(s.key)
	_, err = txn.Commit(ctx)
	return err
}

// IsHeld reports whether this session currently believes it holds the lock.
func (s *Session) IsHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Holder returns the last-known lock holder state.
func (s *Session) Holder() LockHolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}
