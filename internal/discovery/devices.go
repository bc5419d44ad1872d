package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// DeviceListener is notified of committed registry changes. Calls are made
// outside the registry lock, after the whole batch has been committed.
type DeviceListener interface {
	DeviceArrived(reg Registration)
	DeviceDeparted(id Identity)
}

// DevicePolicy holds the per-gateway device handling switches.
type DevicePolicy struct {
	// IgnoreUnnamed skips devices whose friendly name cannot be resolved.
	IgnoreUnnamed bool
	// DepartureCheck confirms a missing device with a liveness probe before
	// removing it.
	DepartureCheck bool
	// UnpairOnDeparture removes the link key of departing fleet devices.
	UnpairOnDeparture bool
	// CachedRecheck probes devices the stack remembers but the inquiry did not
	// report, and registers them if they answer. Remembered devices missing
	// from an inquiry also get a departure probe whatever DepartureCheck says.
	CachedRecheck bool
}

// DeviceRegistry is the de-duplicated map of reachable devices. It diffs each
// inquiry batch against its current keys and publishes arrivals and
// departures.
type DeviceRegistry struct {
	radio  Radio
	work   *WorkManager
	fleet  *Fleet
	names  *NameCache
	policy DevicePolicy

	mu        sync.Mutex
	started   bool
	devices   map[Identity]Registration
	checking  map[Identity]struct{}
	listeners []DeviceListener
}

// NewDeviceRegistry creates a stopped registry. fleet may be nil.
func NewDeviceRegistry(radio Radio, work *WorkManager, fleet *Fleet, names *NameCache, policy DevicePolicy) *DeviceRegistry {
	if names == nil {
		names = NewNameCache(nil, nil)
	}
	return &DeviceRegistry{
		radio:    radio,
		work:     work,
		fleet:    fleet,
		names:    names,
		policy:   policy,
		devices:  make(map[Identity]Registration),
		checking: make(map[Identity]struct{}),
	}
}

// AddListener registers l for arrival and departure notifications.
func (r *DeviceRegistry) AddListener(l DeviceListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Start loads the name cache and begins accepting batches. A name cache that
// cannot be read is logged and treated as empty.
func (r *DeviceRegistry) Start() {
	if err := r.names.Load(); err != nil {
		logging.Warn("Failed to load name cache, starting empty", zap.Error(err))
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	logging.Info("Device registry started",
		zap.Bool("ignore_unnamed", r.policy.IgnoreUnnamed),
		zap.Bool("departure_check", r.policy.DepartureCheck),
		zap.Bool("unpair_on_departure", r.policy.UnpairOnDeparture),
		zap.Bool("cached_recheck", r.policy.CachedRecheck),
		zap.Bool("fleet", r.fleet.Configured()),
	)
}

// Stop unregisters every device and persists the name cache. The persistence
// error, if any, is logged and returned; the registry is stopped regardless.
func (r *DeviceRegistry) Stop() error {
	r.mu.Lock()
	r.started = false
	removed := r.drainLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	for _, reg := range removed {
		logging.LogRegistryEvent("unregistered", reg.Device.Identity.Address)
	}
	notifyDepartures(listeners, removed)

	if err := r.names.Persist(); err != nil {
		logging.Error("Failed to persist name cache", zap.Error(err))
		return fmt.Errorf("persist name cache: %w", err)
	}
	logging.Info("Device registry stopped")
	return nil
}

// OnBatch applies the result of one inquiry. A nil slice means the inquiry
// failed: every device is unregistered. OnBatch runs on the WorkManager
// worker, since name queries and pairing use the radio.
func (r *DeviceRegistry) OnBatch(ctx context.Context, discovered []Identity) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		logging.Debug("Ignoring inquiry batch, registry not started")
		return
	}

	if discovered == nil {
		removed := r.drainLocked()
		listeners := r.listenersLocked()
		r.mu.Unlock()

		logging.Warn("Inquiry failed, unregistering all devices", zap.Int("devices", len(removed)))
		r.depart(listeners, removed)
		return
	}

	seen := make(map[Identity]struct{}, len(discovered))
	for _, id := range discovered {
		seen[id] = struct{}{}
	}
	var departed, arrived []Identity
	for id := range r.devices {
		if _, ok := seen[id]; !ok {
			departed = append(departed, id)
		}
	}
	for id := range seen {
		if _, ok := r.devices[id]; !ok {
			arrived = append(arrived, id)
		}
	}
	r.mu.Unlock()

	sortIdentities(departed)
	sortIdentities(arrived)

	logging.Debug("Inquiry batch diffed",
		zap.Int("discovered", len(discovered)),
		zap.Int("arrived", len(arrived)),
		zap.Int("departed", len(departed)),
	)

	// Devices the stack still remembers are confirmed gone before removal.
	var cached map[Identity]struct{}
	if r.policy.CachedRecheck {
		cached = r.cachedDevices()
	}

	var immediate []Identity
	for _, id := range departed {
		_, remembered := cached[id]
		if r.policy.DepartureCheck || remembered {
			r.scheduleDepartureCheck(id)
		} else {
			immediate = append(immediate, id)
		}
	}

	candidates := make([]Registration, 0, len(arrived))
	for _, id := range arrived {
		if ctx.Err() != nil {
			logging.Warn("Inquiry batch interrupted, discarding arrivals")
			return
		}
		if reg, ok := r.admit(ctx, id); ok {
			candidates = append(candidates, reg)
		}
	}

	removed, added, listeners := r.commit(immediate, candidates)
	r.depart(listeners, removed)
	notifyArrivals(listeners, added)

	if r.policy.CachedRecheck {
		r.recheckCached(seen, cached)
	}
}

// Snapshot returns the current registrations ordered by address.
func (r *DeviceRegistry) Snapshot() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Registration, 0, len(r.devices))
	for _, reg := range r.devices {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.Identity.Address < out[j].Device.Identity.Address
	})
	return out
}

// Lookup returns the registration of id, if registered.
func (r *DeviceRegistry) Lookup(id Identity) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.devices[id]
	return reg, ok
}

// Len returns the number of registered devices.
func (r *DeviceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// admit resolves and vets a newly seen device. It returns false when the
// device must not be registered.
func (r *DeviceRegistry) admit(ctx context.Context, id Identity) (Registration, bool) {
	dev := ResolvedDevice{Identity: id, Name: r.resolveName(ctx, id)}

	if !dev.Named() && r.policy.IgnoreUnnamed {
		logging.Debug("Ignoring unnamed device", zap.String("address", id.Address))
		return Registration{}, false
	}
	if !r.fleet.Accepts(dev) {
		logging.Debug("Device does not match filter", zap.String("device", dev.String()))
		return Registration{}, false
	}

	entry := r.fleet.Match(dev)
	dev.Authenticated = r.radio.IsAuthenticated(id)
	if !dev.Authenticated {
		if err := r.pair(ctx, dev, entry); err != nil {
			logging.Warn("Pairing failed, device not registered",
				zap.String("device", dev.String()),
				zap.Error(err),
			)
			return Registration{}, false
		}
		dev.Authenticated = entry != nil
	}

	return newRegistration(dev, entry), true
}

func (r *DeviceRegistry) resolveName(ctx context.Context, id Identity) string {
	if name, ok := r.names.Lookup(id); ok {
		return name
	}
	name, err := r.radio.FriendlyName(ctx, id)
	if err != nil {
		logging.Warn("Could not get friendly name",
			zap.String("address", id.Address),
			zap.Error(radioErr("name", id, err)),
		)
		return ""
	}
	name = strings.TrimSpace(name)
	r.names.Put(id, name)
	return name
}

// pair authenticates dev against entry. Without a fleet every device is
// accepted unpaired.
func (r *DeviceRegistry) pair(ctx context.Context, dev ResolvedDevice, entry *FleetEntry) error {
	if !r.fleet.Configured() {
		return nil
	}
	if entry == nil {
		return ErrNoFleetMatch
	}
	logging.LogRadioOperation("pair", dev.Identity.Address, "start")
	if err := r.radio.Pair(ctx, dev.Identity, entry.PIN); err != nil {
		logging.LogRadioOperation("pair", dev.Identity.Address, "failed")
		return fmt.Errorf("%w: %w", ErrPairingFailed, radioErr("pair", dev.Identity, err))
	}
	logging.LogRadioOperation("pair", dev.Identity.Address, "paired")
	return nil
}

// commit removes ids and adds candidates in one critical section. Candidates
// already registered are dropped, so a device never arrives twice.
func (r *DeviceRegistry) commit(ids []Identity, candidates []Registration) (removed, added []Registration, listeners []DeviceListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, nil, nil
	}
	for _, id := range ids {
		if reg, ok := r.devices[id]; ok {
			delete(r.devices, id)
			removed = append(removed, reg)
		}
	}
	for _, reg := range candidates {
		id := reg.Device.Identity
		if _, ok := r.devices[id]; ok {
			continue
		}
		r.devices[id] = reg
		added = append(added, reg)
	}
	return removed, added, r.listenersLocked()
}

// depart unpairs (when configured) and announces removed registrations.
func (r *DeviceRegistry) depart(listeners []DeviceListener, removed []Registration) {
	for _, reg := range removed {
		logging.LogRegistryEvent("departed", reg.Device.Identity.Address)
		if r.policy.UnpairOnDeparture && r.fleet.Accepts(reg.Device) {
			if err := r.radio.Unpair(reg.Device.Identity); err != nil {
				logging.Warn("Unpairing failed",
					zap.String("device", reg.Device.String()),
					zap.Error(radioErr("unpair", reg.Device.Identity, err)),
				)
			} else {
				logging.LogRadioOperation("unpair", reg.Device.Identity.Address, "unpaired")
			}
		}
	}
	notifyDepartures(listeners, removed)
}

// scheduleDepartureCheck queues a liveness probe for a device missing from
// the last inquiry. The device is removed only if the probe confirms it gone.
func (r *DeviceRegistry) scheduleDepartureCheck(id Identity) {
	if !r.markChecking(id) {
		return
	}

	err := r.work.Submit("departure-check "+id.Address, func(ctx context.Context) {
		defer r.doneChecking(id)

		present, err := probePresence(ctx, r.radio, id)
		switch {
		case errors.Is(err, ErrAborted):
			return
		case err != nil:
			logging.Warn("Departure check failed, treating device as gone",
				zap.String("address", id.Address),
				zap.Error(err),
			)
		case present:
			logging.Debug("Device missed by inquiry but still answers", zap.String("address", id.Address))
			return
		}

		removed, _, listeners := r.commit([]Identity{id}, nil)
		r.depart(listeners, removed)
	})
	if err != nil {
		r.doneChecking(id)
		logging.Debug("Departure check not scheduled", zap.String("address", id.Address), zap.Error(err))
	}
}

// markChecking reserves the single outstanding probe slot of id. It returns
// false when a probe for id is already queued or running.
func (r *DeviceRegistry) markChecking(id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, pending := r.checking[id]; pending {
		return false
	}
	r.checking[id] = struct{}{}
	return true
}

func (r *DeviceRegistry) doneChecking(id Identity) {
	r.mu.Lock()
	delete(r.checking, id)
	r.mu.Unlock()
}

// cachedDevices returns the devices the stack remembers, or nil when the
// radio keeps no cache.
func (r *DeviceRegistry) cachedDevices() map[Identity]struct{} {
	cache, ok := r.radio.(DeviceCache)
	if !ok {
		return nil
	}
	out := make(map[Identity]struct{})
	for _, cached := range cache.CachedDevices() {
		out[NewIdentity(cached.Address)] = struct{}{}
	}
	return out
}

// eligible reports whether a device could pass admission with what is
// already known about it, without touching the radio.
func (r *DeviceRegistry) eligible(id Identity) bool {
	name, _ := r.names.Lookup(id)
	dev := ResolvedDevice{Identity: id, Name: name}
	if !dev.Named() && r.policy.IgnoreUnnamed {
		return false
	}
	return r.fleet.Accepts(dev)
}

// recheckCached probes devices the stack remembers but the inquiry did not
// report, and registers those that answer. Devices admission would reject
// are not probed.
func (r *DeviceRegistry) recheckCached(seen, cached map[Identity]struct{}) {
	candidates := make([]Identity, 0, len(cached))
	for id := range cached {
		if _, reported := seen[id]; reported {
			continue
		}
		if _, registered := r.Lookup(id); registered {
			continue
		}
		if !r.eligible(id) {
			continue
		}
		candidates = append(candidates, id)
	}
	sortIdentities(candidates)

	for _, id := range candidates {
		if !r.markChecking(id) {
			continue
		}
		err := r.work.Submit("cached-check "+id.Address, func(ctx context.Context) {
			defer r.doneChecking(id)

			present, err := probePresence(ctx, r.radio, id)
			if err != nil || !present {
				return
			}
			logging.Info("Cached device answers, registering", zap.String("address", id.Address))
			reg, ok := r.admit(ctx, id)
			if !ok {
				return
			}
			_, added, listeners := r.commit(nil, []Registration{reg})
			notifyArrivals(listeners, added)
		})
		if err != nil {
			r.doneChecking(id)
			return
		}
	}
}

func (r *DeviceRegistry) drainLocked() []Registration {
	removed := make([]Registration, 0, len(r.devices))
	for _, reg := range r.devices {
		removed = append(removed, reg)
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].Device.Identity.Address < removed[j].Device.Identity.Address
	})
	r.devices = make(map[Identity]Registration)
	return removed
}

func (r *DeviceRegistry) listenersLocked() []DeviceListener {
	out := make([]DeviceListener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func notifyArrivals(listeners []DeviceListener, added []Registration) {
	for _, reg := range added {
		logging.LogRegistryEvent("arrived", reg.Device.Identity.Address)
		for _, l := range listeners {
			l.DeviceArrived(reg)
		}
	}
}

func notifyDepartures(listeners []DeviceListener, removed []Registration) {
	for _, reg := range removed {
		for _, l := range listeners {
			l.DeviceDeparted(reg.Device.Identity)
		}
	}
}

func sortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Address < ids[j].Address })
}
