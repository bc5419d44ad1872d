package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

type resolutionRadio interface {
	Adapter
	ServiceScanner
}

// ResolutionAgent searches the RFCOMM services of one device and returns the
// records found as a single batch.
type ResolutionAgent struct {
	radio  resolutionRadio
	device ResolvedDevice
}

// NewResolutionAgent creates an agent for dev.
func NewResolutionAgent(radio resolutionRadio, dev ResolvedDevice) *ResolutionAgent {
	return &ResolutionAgent{radio: radio, device: dev}
}

// Run performs the search. It returns a possibly empty list of records,
// ErrAdapterUnavailable if the adapter is or went away, ErrAborted if ctx
// ended first, or a *RadioError if the stack refused the search.
func (a *ResolutionAgent) Run(ctx context.Context) ([]ServiceRecord, error) {
	id := a.device.Identity
	logging.Info("Searching services", zap.String("device", a.device.String()))

	if !a.radio.PoweredOn() {
		logging.Error("Adapter not ready, aborting service discovery", zap.String("address", id.Address))
		return nil, ErrAdapterUnavailable
	}

	s := &searchSession{result: newPromise[[]ServiceRecord]()}
	err := a.radio.SearchServices(id, []uint16{UUIDRFCOMM}, []int{AttrServiceName}, s)
	if err != nil {
		if !a.radio.PoweredOn() {
			return nil, ErrAdapterUnavailable
		}
		return nil, radioErr("search", id, err)
	}

	records, err := s.result.await(ctx)
	if err != nil {
		s.abort()
		logging.Warn("Interrupting service discovery", zap.String("address", id.Address))
		return nil, fmt.Errorf("%w: search %s: %v", ErrAborted, id, err)
	}

	if s.status == SearchError && !a.radio.PoweredOn() {
		return nil, ErrAdapterUnavailable
	}

	logging.Info("Service discovery completed",
		zap.String("device", a.device.String()),
		zap.String("status", s.status.String()),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// searchSession collects the records of one search.
type searchSession struct {
	mu      sync.Mutex
	records []ServiceRecord
	status  SearchStatus
	closed  bool
	result  *promise[[]ServiceRecord]
}

func (s *searchSession) ServicesFound(records []ServiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.records = append(s.records, records...)
}

func (s *searchSession) SearchDone(status SearchStatus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = status
	out := make([]ServiceRecord, len(s.records))
	copy(out, s.records)
	s.mu.Unlock()

	s.result.resolve(out)
}

func (s *searchSession) abort() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
