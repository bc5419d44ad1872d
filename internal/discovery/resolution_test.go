package discovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolutionAgentRun(t *testing.T) {
	dev := ResolvedDevice{Identity: NewIdentity("000000000001"), Name: "TDU_1"}
	rec := RFCOMMRecord{Address: "000000000001", Channel: 1, Attrs: map[int]any{AttrServiceName: "SPP"}}

	tests := []struct {
		name      string
		setup     func(*fakeRadio)
		wantCount int
		wantErr   error
	}{
		{
			name:      "records found",
			setup:     func(f *fakeRadio) { f.records[dev.Identity] = []ServiceRecord{rec, rec} },
			wantCount: 2,
		},
		{
			name:      "no records",
			setup:     func(f *fakeRadio) {},
			wantCount: 0,
		},
		{
			name:    "adapter off",
			setup:   func(f *fakeRadio) { f.off = true },
			wantErr: ErrAdapterUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := newFakeRadio()
			tt.setup(radio)

			got, err := NewResolutionAgent(radio, dev).Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if len(got) != tt.wantCount {
				t.Errorf("Run() returned %d records, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestResolutionAgentSearchRefused(t *testing.T) {
	radio := newFakeRadio()
	radio.searchErr = errors.New("no resources")
	dev := ResolvedDevice{Identity: NewIdentity("000000000001")}

	_, err := NewResolutionAgent(radio, dev).Run(context.Background())

	var rerr *RadioError
	if !errors.As(err, &rerr) {
		t.Fatalf("Run() error = %v, want *RadioError", err)
	}
	if rerr.Op != "search" || rerr.Address != dev.Identity.Address {
		t.Errorf("RadioError = %+v, want search on %s", rerr, dev.Identity.Address)
	}
}

func TestResolutionAgentCancelled(t *testing.T) {
	radio := newFakeRadio()
	radio.holdSearch = true
	dev := ResolvedDevice{Identity: NewIdentity("000000000001")}
	radio.records[dev.Identity] = []ServiceRecord{RFCOMMRecord{Address: "000000000001", Channel: 3}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := NewResolutionAgent(radio, dev).Run(ctx)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Run() error = %v, want %v", err, ErrAborted)
	}
	if got != nil {
		t.Errorf("Run() = %v, want no partial records", got)
	}
}

func TestSearchSessionIgnoresRecordsAfterDone(t *testing.T) {
	s := &searchSession{result: newPromise[[]ServiceRecord]()}
	rec := RFCOMMRecord{Address: "000000000001", Channel: 1}

	s.ServicesFound([]ServiceRecord{rec})
	s.SearchDone(SearchCompleted)
	s.ServicesFound([]ServiceRecord{rec, rec})
	s.SearchDone(SearchError)

	got, err := s.result.await(context.Background())
	if err != nil {
		t.Fatalf("await() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("records = %d, want 1", len(got))
	}
	if s.status != SearchCompleted {
		t.Errorf("status = %v, want %v", s.status, SearchCompleted)
	}
}

func TestRFCOMMRecordConnectionURL(t *testing.T) {
	tests := []struct {
		name string
		rec  RFCOMMRecord
		sec  Security
		want string
	}{
		{
			name: "unauthenticated",
			rec:  RFCOMMRecord{Address: "00:11:22:33:44:aa", Channel: 1},
			sec:  SecurityNone,
			want: "btspp://0011223344AA:1;authenticate=false;encrypt=false;master=false",
		},
		{
			name: "authenticated",
			rec:  RFCOMMRecord{Address: "0011223344AA", Channel: 5},
			sec:  SecurityAuthenticate,
			want: "btspp://0011223344AA:5;authenticate=true;encrypt=false;master=false",
		},
		{
			name: "no channel",
			rec:  RFCOMMRecord{Address: "0011223344AA"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ConnectionURL(tt.sec); got != tt.want {
				t.Errorf("ConnectionURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
