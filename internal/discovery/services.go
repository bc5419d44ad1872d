package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// EndpointListener is notified whenever the endpoint set of a device is
// replaced. An empty set means the device's endpoints were removed.
type EndpointListener interface {
	EndpointsChanged(id Identity, endpoints []Endpoint)
}

// ServiceRegistry maps registered devices to their resolved endpoints. It
// resolves each arriving device through the WorkManager and retries empty
// results according to the device's fleet entry.
type ServiceRegistry struct {
	radio resolutionRadio
	work  *WorkManager
	fleet *Fleet

	mu         sync.Mutex
	endpoints  map[Identity][]Endpoint
	attempts   map[Identity]int
	generation map[Identity]uint64
	nextGen    uint64
	stopped    bool
	listeners  []EndpointListener
}

// NewServiceRegistry creates an empty registry. fleet may be nil.
func NewServiceRegistry(radio resolutionRadio, work *WorkManager, fleet *Fleet) *ServiceRegistry {
	return &ServiceRegistry{
		radio:      radio,
		work:       work,
		fleet:      fleet,
		endpoints:  make(map[Identity][]Endpoint),
		attempts:   make(map[Identity]int),
		generation: make(map[Identity]uint64),
	}
}

// AddListener registers l for endpoint notifications.
func (r *ServiceRegistry) AddListener(l EndpointListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// DeviceArrived implements DeviceListener.
func (r *ServiceRegistry) DeviceArrived(reg Registration) {
	r.OnArrival(reg)
}

// DeviceDeparted implements DeviceListener.
func (r *ServiceRegistry) DeviceDeparted(id Identity) {
	r.OnDeparture(id)
}

// OnArrival queues the resolution of a newly registered device.
func (r *ServiceRegistry) OnArrival(reg Registration) {
	id := reg.Device.Identity

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.nextGen++
	gen := r.nextGen
	r.generation[id] = gen
	delete(r.attempts, id)
	r.mu.Unlock()

	r.submit(reg.Device, r.fleet.Match(reg.Device), gen)
}

// OnDeparture removes the device's endpoints and invalidates any resolution
// still queued or running for it.
func (r *ServiceRegistry) OnDeparture(id Identity) {
	r.mu.Lock()
	_, had := r.endpoints[id]
	delete(r.endpoints, id)
	delete(r.attempts, id)
	delete(r.generation, id)
	listeners := r.listenersLocked()
	r.mu.Unlock()

	if had {
		logging.LogRegistryEvent("endpoints_removed", id.Address)
		notifyEndpoints(listeners, id, nil)
	}
}

// Stop removes every endpoint. Resolutions still queued are dropped when they
// run.
func (r *ServiceRegistry) Stop() {
	r.mu.Lock()
	r.stopped = true
	ids := make([]Identity, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	r.endpoints = make(map[Identity][]Endpoint)
	r.attempts = make(map[Identity]int)
	r.generation = make(map[Identity]uint64)
	listeners := r.listenersLocked()
	r.mu.Unlock()

	sortIdentities(ids)
	for _, id := range ids {
		notifyEndpoints(listeners, id, nil)
	}
	logging.Info("Service registry stopped", zap.Int("devices", len(ids)))
}

// Snapshot returns a copy of all endpoint sets.
func (r *ServiceRegistry) Snapshot() map[Identity][]Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Identity][]Endpoint, len(r.endpoints))
	for id, eps := range r.endpoints {
		out[id] = append([]Endpoint(nil), eps...)
	}
	return out
}

// Endpoints returns the endpoints of id.
func (r *ServiceRegistry) Endpoints(id Identity) []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Endpoint(nil), r.endpoints[id]...)
}

// Attempts returns the retry counter of id; zero when absent.
func (r *ServiceRegistry) Attempts(id Identity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

func (r *ServiceRegistry) submit(dev ResolvedDevice, entry *FleetEntry, gen uint64) {
	err := r.work.Submit("resolve "+dev.Identity.Address, func(ctx context.Context) {
		r.resolve(ctx, dev, entry, gen)
	})
	if err != nil {
		logging.Debug("Service resolution not queued",
			zap.String("address", dev.Identity.Address),
			zap.Error(err),
		)
	}
}

// currentLocked reports whether gen is still the live resolution round of id.
func (r *ServiceRegistry) currentLocked(id Identity, gen uint64) bool {
	return !r.stopped && r.generation[id] == gen
}

func (r *ServiceRegistry) current(id Identity, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked(id, gen)
}

func (r *ServiceRegistry) resolve(ctx context.Context, dev ResolvedDevice, entry *FleetEntry, gen uint64) {
	id := dev.Identity
	if !r.current(id, gen) {
		logging.Debug("Skipping resolution of departed device", zap.String("address", id.Address))
		return
	}

	records, err := NewResolutionAgent(r.radio, dev).Run(ctx)
	switch {
	case errors.Is(err, ErrAborted):
		return
	case errors.Is(err, ErrAdapterUnavailable):
		logging.Warn("Adapter unavailable, giving up service resolution", zap.String("address", id.Address))
		r.clearAttempts(id, gen)
		return
	case err != nil:
		logging.Warn("Service search failed", zap.String("address", id.Address), zap.Error(err))
		records = nil
	}

	eps := buildEndpoints(id, entry, records)
	if len(eps) == 0 {
		r.retry(dev, entry, gen)
		return
	}

	r.mu.Lock()
	if !r.currentLocked(id, gen) {
		r.mu.Unlock()
		logging.Debug("Dropping endpoints of departed device", zap.String("address", id.Address))
		return
	}
	r.endpoints[id] = eps
	delete(r.attempts, id)
	listeners := r.listenersLocked()
	r.mu.Unlock()

	logging.LogRegistryEvent("endpoints_registered", id.Address)
	notifyEndpoints(listeners, id, eps)
}

// retry resubmits the resolution after an empty result. Devices without a
// fleet entry are retried every time; fleet devices only while retryable and
// below their retry limit.
func (r *ServiceRegistry) retry(dev ResolvedDevice, entry *FleetEntry, gen uint64) {
	id := dev.Identity

	r.mu.Lock()
	if !r.currentLocked(id, gen) {
		r.mu.Unlock()
		return
	}
	attempts := r.attempts[id]
	if entry != nil && (!entry.Retry || attempts >= entry.RetryLimit()) {
		delete(r.attempts, id)
		r.mu.Unlock()
		logging.Info("No services found, giving up",
			zap.String("device", dev.String()),
			zap.Int("attempts", attempts+1),
		)
		return
	}
	r.attempts[id] = attempts + 1
	r.mu.Unlock()

	logging.Info("No services found, retrying",
		zap.String("device", dev.String()),
		zap.Int("retry", attempts+1),
	)
	r.submit(dev, entry, gen)
}

func (r *ServiceRegistry) clearAttempts(id Identity, gen uint64) {
	r.mu.Lock()
	if r.currentLocked(id, gen) {
		delete(r.attempts, id)
	}
	r.mu.Unlock()
}

func (r *ServiceRegistry) listenersLocked() []EndpointListener {
	out := make([]EndpointListener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// buildEndpoints converts records into endpoints. Fleet devices get
// authenticated connection URLs. Records without a URL are skipped.
func buildEndpoints(id Identity, entry *FleetEntry, records []ServiceRecord) []Endpoint {
	sec := SecurityNone
	if entry != nil {
		sec = SecurityAuthenticate
	}
	var eps []Endpoint
	for _, rec := range records {
		url := rec.ConnectionURL(sec)
		if url == "" {
			continue
		}
		eps = append(eps, Endpoint{
			Device:     id,
			URL:        url,
			Attributes: rec.Attributes(),
			Handle:     uuid.New(),
		})
	}
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].URL < eps[j].URL })
	return eps
}

func notifyEndpoints(listeners []EndpointListener, id Identity, eps []Endpoint) {
	for _, l := range listeners {
		l.EndpointsChanged(id, eps)
	}
}
