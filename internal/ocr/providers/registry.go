package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
)

// defaultTierConcurrency bounds how many calls into a single tier's Driver
// may run at once. Engines like the tesseract CLI driver or a local HTTP
// sidecar hold process-local state that isn't safe for unbounded
// concurrent entry; this is the backpressure valve for that.
const defaultTierConcurrency = 2

// DefaultTierTimeout is the soft wall-clock budget applied to a single
// Extract call when the registry wasn't given an explicit override.
const DefaultTierTimeout = 60 * time.Second

// Registry holds one Driver per tier and resolves the active, ordered tier
// list by intersecting configured tiers with host availability. It also
// gates concurrent entry into each tier's driver and bounds how long a
// single Extract call may run.
type Registry struct {
	drivers     map[Tier]Driver
	available   map[Tier]bool
	slots       map[Tier]chan struct{}
	tierTimeout time.Duration
}

// NewRegistry builds a Registry with a bounded per-tier concurrency of
// concurrency (falling back to defaultTierConcurrency when <= 0). Each
// driver's availability is probed once here and cached.
func NewRegistry(concurrency int, drivers ...Driver) *Registry {
	if concurrency <= 0 {
		concurrency = defaultTierConcurrency
	}

	r := &Registry{
		drivers:     make(map[Tier]Driver, len(drivers)),
		available:   make(map[Tier]bool, len(drivers)),
		slots:       make(map[Tier]chan struct{}, len(drivers)),
		tierTimeout: DefaultTierTimeout,
	}
	for _, d := range drivers {
		r.drivers[d.Tier()] = d
		r.available[d.Tier()] = d.Available(context.Background())
		r.slots[d.Tier()] = make(chan struct{}, concurrency)
	}
	return r
}

// WithTierTimeout overrides the default per-tier wall-clock budget.
func (r *Registry) WithTierTimeout(timeout time.Duration) *Registry {
	r.tierTimeout = timeout
	return r
}

// Driver returns the driver registered for tier, if any.
func (r *Registry) Driver(tier Tier) (Driver, bool) {
	d, ok := r.drivers[tier]
	return d, ok
}

// ActiveTiers filters configuredTiers down to the ones whose driver is
// registered and reported itself available on this host when the registry
// was built, preserving configuration order.
func (r *Registry) ActiveTiers(ctx context.Context, configuredTiers []string) []Tier {
	active := make([]Tier, 0, len(configuredTiers))
	for _, raw := range configuredTiers {
		tier := Tier(raw)
		if _, ok := r.drivers[tier]; !ok {
			continue
		}
		if !r.available[tier] {
			continue
		}
		active = append(active, tier)
	}
	return active
}

// Extract runs tier's driver under two guards: a bounded per-tier
// concurrency slot (so a non-thread-safe local engine is never entered
// beyond its configured concurrency) and a per-tier wall-clock timeout (so
// a hung call counts as a tier failure, not a per-image one). tier must
// already be a member of ActiveTiers' result.
func (r *Registry) Extract(ctx context.Context, tier Tier, imageBytes []byte, languageHint *string) (Result, error) {
	driver, ok := r.drivers[tier]
	if !ok {
		return Result{}, fmt.Errorf("no driver registered for tier %q", tier)
	}

	slot := r.slots[tier]
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-slot }()

	tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()

	out, err := driver.Extract(tierCtx, imageBytes, languageHint)
	if err != nil && tierCtx.Err() == context.DeadlineExceeded {
		return Result{}, ocrerr.Wrap(ocrerr.CodeOCREngineError, fmt.Sprintf("tier %s exceeded its wall-clock budget", tier), err)
	}
	return out, err
}
