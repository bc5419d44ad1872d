package discovery

import (
	"context"
	"strings"
	"testing"
)

func newTestServiceRegistry(t *testing.T, radio *fakeRadio, fleet *Fleet) (*ServiceRegistry, *recorder, *WorkManager) {
	t.Helper()
	work := newTestWorkManager(t)
	reg := NewServiceRegistry(radio, work, fleet)
	rec := newRecorder()
	reg.AddListener(rec)
	return reg, rec, work
}

func registration(addr, name string) Registration {
	return newRegistration(ResolvedDevice{Identity: NewIdentity(addr), Name: name}, nil)
}

func TestServiceRegistryRetryBound(t *testing.T) {
	tests := []struct {
		name         string
		retry        bool
		maxRetry     int
		wantSearches int
	}{
		{"retryable max 3", true, 3, 4},
		{"retryable max 1", true, 1, 2},
		{"max zero treated as one", true, 0, 2},
		{"not retryable", false, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := newFakeRadio()
			entry := mustFleetEntry(t, "TDU_.*", "1111")
			entry.Retry = tt.retry
			entry.MaxRetry = tt.maxRetry
			reg, _, work := newTestServiceRegistry(t, radio, &Fleet{Entries: []FleetEntry{entry}})

			arrival := registration("000000000003", "TDU_00000000")
			reg.OnArrival(arrival)
			drain(t, work)

			id := arrival.Device.Identity
			if got := radio.searchCount(id); got != tt.wantSearches {
				t.Errorf("searches = %d, want %d", got, tt.wantSearches)
			}
			if got := reg.Attempts(id); got != 0 {
				t.Errorf("Attempts() after give-up = %d, want 0", got)
			}
			if eps := reg.Endpoints(id); len(eps) != 0 {
				t.Errorf("Endpoints() = %v, want none", eps)
			}
		})
	}
}

func TestServiceRegistryRetriesUnknownDevice(t *testing.T) {
	radio := newFakeRadio()
	reg, rec, work := newTestServiceRegistry(t, radio, nil)

	arrival := registration("000000000001", "sensor")
	id := arrival.Device.Identity
	radio.records[id] = []ServiceRecord{RFCOMMRecord{Address: id.Address, Channel: 2}}
	radio.recordsAfter[id] = 4

	reg.OnArrival(arrival)
	drain(t, work)

	if got := radio.searchCount(id); got != 4 {
		t.Errorf("searches = %d, want 4", got)
	}
	eps := reg.Endpoints(id)
	if len(eps) != 1 {
		t.Fatalf("Endpoints() = %v, want one endpoint", eps)
	}
	if got := reg.Attempts(id); got != 0 {
		t.Errorf("Attempts() after success = %d, want 0", got)
	}
	if rec.changes != 1 {
		t.Errorf("endpoint notifications = %d, want 1", rec.changes)
	}
}

func TestServiceRegistryURLSecurity(t *testing.T) {
	tests := []struct {
		name     string
		devName  string
		wantAuth string
	}{
		{"fleet device authenticates", "TDU_00000000", "authenticate=true"},
		{"other device does not", "printer", "authenticate=false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := newFakeRadio()
			fleet := &Fleet{Entries: []FleetEntry{mustFleetEntry(t, "TDU_.*", "1111")}}
			reg, _, work := newTestServiceRegistry(t, radio, fleet)

			arrival := registration("000000000003", tt.devName)
			id := arrival.Device.Identity
			radio.records[id] = []ServiceRecord{
				RFCOMMRecord{Address: id.Address, Channel: 1, Attrs: map[int]any{AttrServiceName: "SPP"}},
				RFCOMMRecord{Address: id.Address},
			}

			reg.OnArrival(arrival)
			drain(t, work)

			eps := reg.Endpoints(id)
			if len(eps) != 1 {
				t.Fatalf("Endpoints() = %d entries, want 1 (records without URL skipped)", len(eps))
			}
			if !strings.Contains(eps[0].URL, tt.wantAuth) {
				t.Errorf("URL = %q, want it to contain %q", eps[0].URL, tt.wantAuth)
			}
			if got := eps[0].ServiceName(); got != "SPP" {
				t.Errorf("ServiceName() = %q, want SPP", got)
			}
		})
	}
}

func TestServiceRegistryDeparture(t *testing.T) {
	radio := newFakeRadio()
	reg, rec, work := newTestServiceRegistry(t, radio, nil)

	arrival := registration("000000000001", "sensor")
	id := arrival.Device.Identity
	radio.records[id] = []ServiceRecord{RFCOMMRecord{Address: id.Address, Channel: 1}}

	reg.OnArrival(arrival)
	drain(t, work)
	if len(reg.Endpoints(id)) != 1 {
		t.Fatal("endpoints not registered")
	}

	reg.OnDeparture(id)

	if eps := reg.Endpoints(id); len(eps) != 0 {
		t.Errorf("Endpoints() after departure = %v, want none", eps)
	}
	rec.mu.Lock()
	_, stale := rec.endpoints[id]
	rec.mu.Unlock()
	if stale {
		t.Error("listener still holds endpoints after departure")
	}
}

func TestServiceRegistryDropsStaleResolution(t *testing.T) {
	radio := newFakeRadio()
	work := newTestWorkManager(t)
	reg := NewServiceRegistry(radio, work, nil)

	arrival := registration("000000000001", "sensor")
	id := arrival.Device.Identity
	radio.records[id] = []ServiceRecord{RFCOMMRecord{Address: id.Address, Channel: 1}}

	// Hold the worker so the resolution stays queued while the device leaves.
	release := make(chan struct{})
	_ = work.Submit("hold", func(ctx context.Context) { <-release })
	reg.OnArrival(arrival)
	reg.OnDeparture(id)
	close(release)
	drain(t, work)

	if got := radio.searchCount(id); got != 0 {
		t.Errorf("searches = %d, want 0 for departed device", got)
	}
	if eps := reg.Endpoints(id); len(eps) != 0 {
		t.Errorf("Endpoints() = %v, want none", eps)
	}
}

func TestServiceRegistryAdapterOffGivesUp(t *testing.T) {
	radio := newFakeRadio()
	radio.off = true
	reg, _, work := newTestServiceRegistry(t, radio, nil)

	arrival := registration("000000000001", "")
	reg.OnArrival(arrival)
	drain(t, work)

	if got := reg.Attempts(arrival.Device.Identity); got != 0 {
		t.Errorf("Attempts() = %d, want 0", got)
	}
	if work.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after giving up", work.Pending())
	}
}

func TestServiceRegistryStop(t *testing.T) {
	radio := newFakeRadio()
	reg, rec, work := newTestServiceRegistry(t, radio, nil)

	for _, addr := range []string{"000000000001", "000000000002"} {
		arrival := registration(addr, "")
		id := arrival.Device.Identity
		radio.records[id] = []ServiceRecord{RFCOMMRecord{Address: id.Address, Channel: 1}}
		reg.OnArrival(arrival)
	}
	drain(t, work)

	reg.Stop()

	if n := len(reg.Snapshot()); n != 0 {
		t.Errorf("Snapshot() after Stop has %d devices, want 0", n)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.endpoints) != 0 {
		t.Errorf("listener holds %d devices after Stop, want 0", len(rec.endpoints))
	}
}
