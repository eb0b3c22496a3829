package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota native value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount  uint32
	ValueUsed uint64
	EpochID   uint64
}

// Quota defines the limits enforced for a module interaction per address.
// Both limits apply per epoch of EpochSeconds; MaxRequestsPerMin only means
// per minute while EpochSeconds is left at its one minute default.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxNativePerEpoch uint64
	EpochSeconds      uint32
}

// CheckQuota verifies whether the additional request and native value fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addValue > 0 {
		if next.ValueUsed > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueUsed += addValue
	}
	if q.MaxNativePerEpoch > 0 && next.ValueUsed > q.MaxNativePerEpoch {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerMin > 0 || q.MaxNativePerEpoch > 0
}

// EpochAt maps a unix timestamp onto the quota epoch. A zero EpochSeconds
// defaults to one minute windows.
func (q Quota) EpochAt(unix int64) uint64 {
	if unix < 0 {
		return 0
	}
	window := int64(q.EpochSeconds)
	if window <= 0 {
		window = 60
	}
	return uint64(unix / window)
}

// QuotaTracker keeps per-address usage counters for a single module. Reserve
// charges the counters atomically so concurrent callers cannot overrun a
// limit; callers Release the reservation when the guarded operation fails so
// failed attempts are not charged.
type QuotaTracker struct {
	mu    sync.Mutex
	quota Quota
	usage map[[20]byte]QuotaNow
}

// Reservation is usage charged by Reserve and not yet released.
type Reservation struct {
	addr    [20]byte
	epochID uint64
	req     uint32
	value   uint64
	held    bool
}

// NewQuotaTracker creates a tracker enforcing the supplied limits.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[[20]byte]QuotaNow)}
}

// Reserve charges the additional usage for addr at the supplied unix time and
// fails without charging anything when a limit would be exceeded.
func (t *QuotaTracker) Reserve(addr [20]byte, unix int64, addReq uint32, addValue uint64) (Reservation, error) {
	if t == nil {
		return Reservation{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	epoch := t.quota.EpochAt(unix)
	next, err := CheckQuota(t.quota, epoch, t.usage[addr], addReq, addValue)
	if err != nil {
		return Reservation{}, err
	}
	t.usage[addr] = next
	return Reservation{addr: addr, epochID: epoch, req: addReq, value: addValue, held: true}, nil
}

// Release returns reserved usage. Reservations from an epoch that already
// rolled over are dropped with it.
func (t *QuotaTracker) Release(r Reservation) {
	if t == nil || !r.held {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.usage[r.addr]
	if !ok || current.EpochID != r.epochID {
		return
	}
	current.ReqCount -= min(current.ReqCount, r.req)
	current.ValueUsed -= min(current.ValueUsed, r.value)
	t.usage[r.addr] = current
}

// Usage returns the counters charged to addr.
func (t *QuotaTracker) Usage(addr [20]byte) QuotaNow {
	if t == nil {
		return QuotaNow{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[addr]
}

// Limits returns the limits enforced by the tracker.
func (t *QuotaTracker) Limits() Quota {
	if t == nil {
		return Quota{}
	}
	return t.quota
}
