package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRadio is an in-memory radio. Callbacks are delivered from separate
// goroutines, as real stacks do.
type fakeRadio struct {
	mu sync.Mutex

	off   bool
	stack string

	inquiryFound  []Identity
	inquiryStatus InquiryStatus
	inquiryErr    error
	holdInquiry   bool

	present      map[Identity]bool
	records      map[Identity][]ServiceRecord
	recordsAfter map[Identity]int
	searchErr    error
	holdSearch   bool

	names   map[Identity]string
	nameErr error

	authenticated map[Identity]bool
	pins          map[Identity]string
	cached        []Identity

	pairCalls   []Identity
	unpairCalls []Identity
	nameCalls   []Identity
	searches    map[Identity]int
	probes      map[Identity]int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		stack:         "bluez",
		present:       make(map[Identity]bool),
		records:       make(map[Identity][]ServiceRecord),
		recordsAfter:  make(map[Identity]int),
		names:         make(map[Identity]string),
		authenticated: make(map[Identity]bool),
		pins:          make(map[Identity]string),
		searches:      make(map[Identity]int),
		probes:        make(map[Identity]int),
	}
}

func (f *fakeRadio) PoweredOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.off
}

func (f *fakeRadio) StackName() string {
	return f.stack
}

func (f *fakeRadio) StartInquiry(_ InquiryMode, l InquiryListener) error {
	f.mu.Lock()
	found := append([]Identity(nil), f.inquiryFound...)
	status, err, hold := f.inquiryStatus, f.inquiryErr, f.holdInquiry
	f.mu.Unlock()

	if err != nil {
		return err
	}
	go func() {
		for _, id := range found {
			l.DeviceFound(id)
		}
		if !hold {
			l.InquiryDone(status)
		}
	}()
	return nil
}

func (f *fakeRadio) SearchServices(id Identity, uuids []uint16, _ []int, l SearchListener) error {
	f.mu.Lock()
	if f.searchErr != nil {
		err := f.searchErr
		f.mu.Unlock()
		return err
	}

	if len(uuids) == 1 && uuids[0] == UUIDPublicBrowseGroup {
		f.probes[id]++
		status := SearchDeviceNotReachable
		if f.present[id] {
			status = SearchNoRecords
		}
		f.mu.Unlock()
		go l.SearchDone(status)
		return nil
	}

	f.searches[id]++
	n := f.searches[id]
	recs := f.records[id]
	if after, ok := f.recordsAfter[id]; ok && n < after {
		recs = nil
	}
	hold := f.holdSearch
	f.mu.Unlock()

	go func() {
		if len(recs) > 0 {
			l.ServicesFound(recs)
		}
		if hold {
			return
		}
		if len(recs) > 0 {
			l.SearchDone(SearchCompleted)
		} else {
			l.SearchDone(SearchNoRecords)
		}
	}()
	return nil
}

func (f *fakeRadio) FriendlyName(_ context.Context, id Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls = append(f.nameCalls, id)
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.names[id], nil
}

func (f *fakeRadio) IsAuthenticated(id Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated[id]
}

func (f *fakeRadio) Pair(_ context.Context, id Identity, pin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls = append(f.pairCalls, id)
	if want, ok := f.pins[id]; !ok || want != pin {
		return errors.New("authentication rejected")
	}
	f.authenticated[id] = true
	return nil
}

func (f *fakeRadio) Unpair(id Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpairCalls = append(f.unpairCalls, id)
	delete(f.authenticated, id)
	return nil
}

func (f *fakeRadio) searchCount(id Identity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches[id]
}

func (f *fakeRadio) probeCount(id Identity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[id]
}

func (f *fakeRadio) unpaired() []Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Identity(nil), f.unpairCalls...)
}

// cachingRadio adds a device cache to fakeRadio.
type cachingRadio struct {
	*fakeRadio
}

func (c cachingRadio) CachedDevices() []Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Identity(nil), c.cached...)
}

// recorder collects registry notifications.
type recorder struct {
	mu         sync.Mutex
	arrivals   []Registration
	departures []Identity
	endpoints  map[Identity][]Endpoint
	changes    int
}

func newRecorder() *recorder {
	return &recorder{endpoints: make(map[Identity][]Endpoint)}
}

func (r *recorder) DeviceArrived(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrivals = append(r.arrivals, reg)
}

func (r *recorder) DeviceDeparted(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departures = append(r.departures, id)
}

func (r *recorder) EndpointsChanged(id Identity, eps []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
	if len(eps) == 0 {
		delete(r.endpoints, id)
		return
	}
	r.endpoints[id] = eps
}

func (r *recorder) arrivalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arrivals)
}

func (r *recorder) departureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.departures)
}

// memStore is a NameStore kept in memory.
type memStore struct {
	mu    sync.Mutex
	names map[string]string
	err   error
	saves int
}

func (m *memStore) Load() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.names))
	for k, v := range m.names {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(names map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.names = make(map[string]string, len(names))
	for k, v := range names {
		m.names[k] = v
	}
	return nil
}

func newTestWorkManager(t *testing.T) *WorkManager {
	t.Helper()
	m := NewWorkManager()
	t.Cleanup(m.Shutdown)
	return m
}

// drain waits until the work manager has run everything queued, including
// units queued by other units.
func drain(t *testing.T, m *WorkManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		f, err := SubmitValue(m, "barrier", func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("SubmitValue() error = %v", err)
		}
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("work manager did not drain: %v", err)
		}
		if m.Pending() == 0 {
			return
		}
	}
}

func ids(addrs ...string) []Identity {
	out := make([]Identity, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, NewIdentity(a))
	}
	return out
}

func mustFleetEntry(t *testing.T, pattern, pin string) FleetEntry {
	t.Helper()
	e, err := NewFleetEntry(pattern)
	if err != nil {
		t.Fatalf("NewFleetEntry(%q) error = %v", pattern, err)
	}
	e.PIN = pin
	return e
}
