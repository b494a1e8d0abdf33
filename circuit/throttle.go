package circuit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// A Category names one of the fixed throttle buckets a Throttle manages.
type Category int

// The fixed set of throttle categories, per spec.md §4.1.
const (
	CategoryResend Category = iota
	CategoryLand
	CategoryWind
	CategoryCloud
	CategoryTask
	CategoryTexture
	CategoryAsset

	categoryCount
)

func (c Category) String() string {
	switch c {
	case CategoryResend:
		return "resend"
	case CategoryLand:
		return "land"
	case CategoryWind:
		return "wind"
	case CategoryCloud:
		return "cloud"
	case CategoryTask:
		return "task"
	case CategoryTexture:
		return "texture"
	case CategoryAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// Rebalance bounds for Throttle.UpdateAverage's dynamic adjustment, as
// fractions of a bucket's nominal rate.
const (
	rebalanceFloor   = 0.20
	rebalanceCeiling = 2.00
	rebalanceStep    = 0.10
)

type bucket struct {
	nominal    float64 // bytes/sec
	allocated  float64 // bytes/sec, drifts under dynamic adjustment
	capacity   float64 // bytes, burst size
	limiter    *rate.Limiter
}

// A Throttle is a per-circuit, per-category token-bucket bandwidth limiter.
// The category set is fixed at creation; it is not safe to add or remove
// categories afterward. All methods are safe for concurrent use.
type Throttle struct {
	mu      sync.Mutex
	buckets [categoryCount]bucket
	last    time.Time
}

// NominalRates maps a Category to its nominal bytes/sec allocation.
type NominalRates [categoryCount]float64

// DefaultTotalBandwidth is the total bytes/sec split evenly across
// categories by DefaultNominalRates when a Table is created without
// WithNominalRates.
const DefaultTotalBandwidth = 100000

// DefaultNominalRates returns a reasonable default allocation, evenly
// split across categories at the given total bytes/sec.
func DefaultNominalRates(totalBytesPerSec float64) NominalRates {
	var r NominalRates
	per := totalBytesPerSec / float64(categoryCount)
	for i := range r {
		r[i] = per
	}
	return r
}

// NewThrottle creates a Throttle whose buckets start at their nominal
// rates, each with a burst capacity equal to one second's worth of
// nominal bandwidth.
func NewThrottle(rates NominalRates) *Throttle {
	t := &Throttle{last: time.Now()}
	for i, nominal := range rates {
		t.buckets[i] = bucket{
			nominal:   nominal,
			allocated: nominal,
			capacity:  nominal,
			limiter:   rate.NewLimiter(rate.Limit(nominal), int(nominal)),
		}
	}
	return t
}

// CheckOverflow reports whether admitting size bytes in category would
// exceed that bucket's current allocation. If it would not, the bytes are
// debited and CheckOverflow returns false; otherwise nothing is debited
// and it returns true.
func (t *Throttle) CheckOverflow(cat Category, size int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[cat]
	return !b.limiter.AllowN(time.Now(), size)
}

// UpdateAverage refills every bucket proportional to elapsed time (handled
// internally by the underlying limiters on their next check) and runs one
// step of the dynamic-adjustment rebalance: categories sitting near-empty
// borrow allocation from categories sitting near-full, bounded by
// [20%, 200%] of nominal and conserving the total allocation.
func (t *Throttle) UpdateAverage() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.last = now

	var fullness [categoryCount]float64
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.capacity > 0 {
			fullness[i] = b.limiter.TokensAt(now) / b.capacity
		}
	}

	starved, surplus := -1, -1
	for i := range fullness {
		if fullness[i] < 0.25 && (starved == -1 || fullness[i] < fullness[starved]) {
			starved = i
		}
		if fullness[i] > 0.75 && (surplus == -1 || fullness[i] > fullness[surplus]) {
			surplus = i
		}
	}
	if starved == -1 || surplus == -1 || starved == surplus {
		return
	}

	sb, tb := &t.buckets[surplus], &t.buckets[starved]
	delta := tb.nominal * rebalanceStep
	if room := sb.allocated - sb.nominal*rebalanceFloor; delta > room {
		delta = room
	}
	if room := tb.nominal*rebalanceCeiling - tb.allocated; delta > room {
		delta = room
	}
	if delta <= 0 {
		return
	}

	sb.allocated -= delta
	tb.allocated += delta
	sb.limiter.SetLimitAt(now, rate.Limit(sb.allocated))
	tb.limiter.SetLimitAt(now, rate.Limit(tb.allocated))
}

// ResetDynamicAdjust resets every bucket's allocation back to its nominal
// rate, undoing any rebalancing performed by UpdateAverage.
func (t *Throttle) ResetDynamicAdjust() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for i := range t.buckets {
		b := &t.buckets[i]
		b.allocated = b.nominal
		b.limiter.SetLimitAt(now, rate.Limit(b.nominal))
	}
}

// Allocated returns the current bytes/sec allocation of cat, which may
// have drifted from nominal due to dynamic adjustment.
func (t *Throttle) Allocated(cat Category) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets[cat].allocated
}
