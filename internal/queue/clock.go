package queue

import "time"

// Clock supplies the current time. Injecting it makes lease expiry a
// pure function of (now, claimTime, timeout), testable without real
// clocks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation used outside tests.
func SystemClock() Clock { return systemClock{} }

// claimExpired reports whether a lease taken at claimedAtMs (milliseconds
// since epoch) has run out. A claim is live while now − claimTime is
// strictly under the timeout.
func claimExpired(now time.Time, claimedAtMs int64, timeout time.Duration) bool {
	return now.UnixMilli()-claimedAtMs >= timeout.Milliseconds()
}
