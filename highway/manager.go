package highway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
)

// managedHighway pairs a Highway with the Manager's load accounting for
// it. load is a percentage-points accumulator across every outstanding
// lease (see Manager.Lease); it is not derived from the highway's actual
// mailbox depth, since leases represent *expected* load, assigned before
// any task is ever submitted.
type managedHighway struct {
	highway *Highway
	load    int
}

// Manager owns a pool of single-thread Highways plus one shared
// multi-thread Plant, and leases highways out to callers
// (node constructors, typically) by least-loaded-first assignment with
// lazy growth and lazy shrink.
type Manager struct {
	mu sync.Mutex

	highways []*managedHighway
	nextID   int

	plant *Plant

	minHighways     int
	maxHighways     int
	autoRegulation  bool
	highwayOpts     []Option
	regulateLimiter *catrate.Limiter

	watchdogCtx    context.Context
	watchdogCancel context.CancelFunc
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	localWorkersCount   int
	localMailboxCap     int
	minHighways         int
	maxHighways         int
	autoRegulation      bool
	highwayOpts         []Option
	regulateWindow      time.Duration
	regulateMaxPerWindow int
}

// WithLocalWorkers sets the shared Plant's worker count and mailbox
// capacity.
func WithLocalWorkers(count, mailboxCapacity int) ManagerOption {
	return func(c *managerConfig) { c.localWorkersCount, c.localMailboxCap = count, mailboxCapacity }
}

// WithHighwayRange sets the pool's [min, max] highway count.
func WithHighwayRange(minHighways, maxHighways int) ManagerOption {
	return func(c *managerConfig) { c.minHighways, c.maxHighways = minHighways, maxHighways }
}

// WithAutoRegulation enables lazy pool growth (on Lease, when the
// least-loaded highway would be overcommitted) and lazy shrink (on
// Release, when a highway's load drops to zero and the pool is above its
// minimum).
func WithAutoRegulation(enabled bool) ManagerOption {
	return func(c *managerConfig) { c.autoRegulation = enabled }
}

// WithHighwayOptions sets the Option list applied to every highway the
// Manager constructs (name is overridden per-instance regardless).
func WithHighwayOptions(opts ...Option) ManagerOption {
	return func(c *managerConfig) { c.highwayOpts = opts }
}

// WithRegulationRateLimit bounds how often, within window, the Manager
// may grow or shrink the pool, via a go-catrate limiter — the same
// "bound the rate of a self-adjusting action" idea as a highway's own
// watchdog repair limit, applied here to pool resizing instead of worker
// restarts.
func WithRegulationRateLimit(window time.Duration, maxAdjustments int) ManagerOption {
	return func(c *managerConfig) { c.regulateWindow, c.regulateMaxPerWindow = window, maxAdjustments }
}

// NewManager constructs a Manager: one shared Plant, and min_highways
// single-thread Highways, each configured to opportunistically drain the
// Plant's shared mailbox when its own is empty.
func NewManager(opts ...ManagerOption) *Manager {
	c := &managerConfig{minHighways: 1, maxHighways: 1}
	for _, o := range opts {
		o(c)
	}
	if c.maxHighways < c.minHighways {
		c.maxHighways = c.minHighways
	}

	plant := NewPlant(c.localWorkersCount, c.localMailboxCap, c.highwayOpts...)

	m := &Manager{
		plant:          plant,
		minHighways:    c.minHighways,
		maxHighways:    c.maxHighways,
		autoRegulation: c.autoRegulation,
		highwayOpts:    c.highwayOpts,
	}
	if c.regulateWindow > 0 {
		m.regulateLimiter = catrate.NewLimiter(map[time.Duration]int{c.regulateWindow: c.regulateMaxPerWindow})
	}
	m.watchdogCtx, m.watchdogCancel = context.WithCancel(context.Background())

	for i := 0; i < c.minHighways; i++ {
		m.spawnHighway()
	}

	return m
}

func (m *Manager) spawnHighway() *managedHighway {
	m.nextID++
	opts := append(append([]Option{}, m.highwayOpts...),
		WithName(fmt.Sprintf("highway-%d", m.nextID)),
		WithSharedMailbox(m.plant.Mailbox()),
	)
	h := New(opts...)
	go h.RunWatchdog(m.watchdogCtx, 50*time.Millisecond)
	mh := &managedHighway{highway: h}
	m.highways = append(m.highways, mh)
	return mh
}

func (m *Manager) regulationAllowed() bool {
	if m.regulateLimiter == nil {
		return true
	}
	_, ok := m.regulateLimiter.Allow("regulate")
	return ok
}

// Lease returns a Proxy to the least-loaded highway able to absorb
// expectedLoadPercent, growing the pool first if the least-loaded highway
// would be pushed over 100% and auto-regulation is enabled and the pool
// is below its cap.
func (m *Manager) Lease(expectedLoadPercent int) *Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(m.highways, func(i, j int) bool { return m.highways[i].load < m.highways[j].load })

	var target *managedHighway
	if len(m.highways) == 0 {
		target = m.spawnHighway()
	} else {
		least := m.highways[0]
		if least.load+expectedLoadPercent > 100 && m.autoRegulation && len(m.highways) < m.maxHighways && m.regulationAllowed() {
			target = m.spawnHighway()
		} else {
			target = least
		}
	}

	target.load += expectedLoadPercent
	mh := target
	return NewProxy(mh.highway, func() { m.release(mh, expectedLoadPercent) })
}

func (m *Manager) release(mh *managedHighway, expectedLoadPercent int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mh.load -= expectedLoadPercent
	if mh.load < 0 {
		mh.load = 0
	}

	if mh.load == 0 && m.autoRegulation && len(m.highways) > m.minHighways && m.regulationAllowed() {
		for i, h := range m.highways {
			if h == mh {
				m.highways = append(m.highways[:i], m.highways[i+1:]...)
				break
			}
		}
		go mh.highway.Destroy()
	}
}

// HighwayCount reports the current pool size, for diagnostics/tests.
func (m *Manager) HighwayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.highways)
}

// Plant exposes the shared multi-thread mailbox worker pool, e.g. for
// submitting overflow work directly rather than via a leased highway.
func (m *Manager) Plant() *Plant { return m.plant }

// Destroy stops every highway, the shared plant, and the watchdog loops.
func (m *Manager) Destroy() {
	m.watchdogCancel()

	m.mu.Lock()
	highways := m.highways
	m.highways = nil
	m.mu.Unlock()

	for _, mh := range highways {
		mh.highway.Destroy()
	}
	m.plant.Destroy()
}
