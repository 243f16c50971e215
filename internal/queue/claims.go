package queue

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

// ClaimsFile maps relative path → lease timestamp in milliseconds since
// epoch, shared by every worker process on the repository.
const ClaimsFile = "file-claims.json"

// claimStore persists the lease map. Every read-check-write runs under
// an OS file lock on a sibling lock file, so claim check-and-set is
// atomic across processes, not just within one.
type claimStore struct {
	path string
	lock *flock.Flock
}

func newClaimStore(stateDir string) *claimStore {
	path := filepath.Join(stateDir, ClaimsFile)
	return &claimStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// load tolerates absent and corrupt claim files; both come back empty,
// corruption with a logged notice.
func (c *claimStore) load() map[string]int64 {
	claims := map[string]int64{}
	err := state.LoadJSON(c.path, &claims)
	if err != nil {
		if state.IsCorrupt(err) {
			slog.Warn("claims_corrupt_resetting",
				slog.String("path", c.path),
				slog.String("error", err.Error()))
		}
		return map[string]int64{}
	}
	if claims == nil {
		claims = map[string]int64{}
	}
	return claims
}

func (c *claimStore) withLock(fn func() error) error {
	if err := c.lock.Lock(); err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeClaimLock,
			"failed to lock claim file", err).WithDetail("path", c.path)
	}
	defer func() { _ = c.lock.Unlock() }()
	return fn()
}

// TryClaim records a lease on rel unless a live one already exists.
func (c *claimStore) TryClaim(rel string, now time.Time, timeout time.Duration) (bool, error) {
	claimed := false
	err := c.withLock(func() error {
		claims := c.load()
		if ts, ok := claims[rel]; ok && !claimExpired(now, ts, timeout) {
			return nil
		}
		claims[rel] = now.UnixMilli()
		if err := state.SaveJSON(c.path, claims); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// Release drops the lease on rel, reporting the claim timestamp it held
// so callers can derive a processing duration.
func (c *claimStore) Release(rel string) (claimedAtMs int64, existed bool, err error) {
	err = c.withLock(func() error {
		claims := c.load()
		ts, ok := claims[rel]
		if !ok {
			return nil
		}
		delete(claims, rel)
		if err := state.SaveJSON(c.path, claims); err != nil {
			return err
		}
		claimedAtMs, existed = ts, true
		return nil
	})
	return claimedAtMs, existed, err
}

// SweepExpired removes every expired lease and reports how many went.
func (c *claimStore) SweepExpired(now time.Time, timeout time.Duration) (int, error) {
	removed := 0
	err := c.withLock(func() error {
		claims := c.load()
		for rel, ts := range claims {
			if claimExpired(now, ts, timeout) {
				delete(claims, rel)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return state.SaveJSON(c.path, claims)
	})
	return removed, err
}

// Live returns the currently live leases. Read-only; no lock taken.
func (c *claimStore) Live(now time.Time, timeout time.Duration) map[string]int64 {
	claims := c.load()
	live := make(map[string]int64, len(claims))
	for rel, ts := range claims {
		if !claimExpired(now, ts, timeout) {
			live[rel] = ts
		}
	}
	return live
}
