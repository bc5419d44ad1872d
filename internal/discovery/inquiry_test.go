package discovery

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestInquiryAgentRun(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeRadio)
		liveness bool
		want     []Identity
		wantErr  error
	}{
		{
			name:    "adapter off",
			setup:   func(f *fakeRadio) { f.off = true },
			wantErr: ErrAdapterUnavailable,
		},
		{
			name: "devices sorted and de-duplicated",
			setup: func(f *fakeRadio) {
				f.inquiryFound = ids("00000000000B", "00000000000A", "00:00:00:00:00:0b")
			},
			want: ids("00000000000A", "00000000000B"),
		},
		{
			name:  "empty inquiry is a valid result",
			setup: func(f *fakeRadio) {},
			want:  []Identity{},
		},
		{
			name: "liveness check drops silent devices",
			setup: func(f *fakeRadio) {
				f.inquiryFound = ids("000000000001", "000000000002", "000000000003")
				f.present[NewIdentity("000000000001")] = true
				f.present[NewIdentity("000000000003")] = true
			},
			liveness: true,
			want:     ids("000000000001", "000000000003"),
		},
		{
			name: "inquiry error",
			setup: func(f *fakeRadio) {
				f.inquiryFound = ids("000000000001")
				f.inquiryStatus = InquiryError
			},
			wantErr: ErrInquiryFailed,
		},
		{
			name: "inquiry terminated",
			setup: func(f *fakeRadio) {
				f.inquiryStatus = InquiryTerminated
			},
			wantErr: ErrInquiryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := newFakeRadio()
			tt.setup(radio)

			agent := NewInquiryAgent(radio, GIAC, tt.liveness)
			got, err := agent.Run(context.Background())

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if got != nil {
					t.Errorf("Run() = %v, want nil on error", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Run() = nil, want non-nil slice on success")
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Run() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInquiryAgentProbesEachDeviceOnce(t *testing.T) {
	radio := newFakeRadio()
	dev := NewIdentity("000000000001")
	radio.inquiryFound = []Identity{dev, dev, dev}
	radio.present[dev] = true

	got, err := NewInquiryAgent(radio, LIAC, true).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Run() = %v, want one device", got)
	}
	if n := radio.probeCount(dev); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}
}

func TestInquiryAgentStartFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.inquiryErr = errors.New("device busy")

	_, err := NewInquiryAgent(radio, GIAC, false).Run(context.Background())

	var rerr *RadioError
	if !errors.As(err, &rerr) {
		t.Fatalf("Run() error = %v, want *RadioError", err)
	}
	if rerr.Op != "inquiry" {
		t.Errorf("RadioError.Op = %q, want inquiry", rerr.Op)
	}
}

func TestInquiryAgentCancelled(t *testing.T) {
	radio := newFakeRadio()
	radio.inquiryFound = ids("000000000001")
	radio.holdInquiry = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := NewInquiryAgent(radio, GIAC, false).Run(ctx)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Run() error = %v, want %v", err, ErrAborted)
	}
	if got != nil {
		t.Errorf("Run() = %v, want nil partial result", got)
	}
}

func TestInquiryBatchIgnoresLateCallbacks(t *testing.T) {
	agent := NewInquiryAgent(newFakeRadio(), GIAC, false)
	b := &inquiryBatch{
		agent:  agent,
		found:  make(map[Identity]struct{}),
		seen:   make(map[Identity]struct{}),
		result: newPromise[inquiryOutcome](),
	}

	b.DeviceFound(NewIdentity("000000000001"))
	b.InquiryDone(InquiryCompleted)
	b.DeviceFound(NewIdentity("000000000002"))
	b.InquiryDone(InquiryError)

	out, err := b.result.await(context.Background())
	if err != nil {
		t.Fatalf("await() error = %v", err)
	}
	if out.status != InquiryCompleted {
		t.Errorf("status = %v, want %v", out.status, InquiryCompleted)
	}
	if want := ids("000000000001"); !reflect.DeepEqual(out.devices, want) {
		t.Errorf("devices = %v, want %v", out.devices, want)
	}
}
