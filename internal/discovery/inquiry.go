package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// ErrInquiryFailed is returned when the stack reports the inquiry as failed or
// terminated. Callers treat it as "no device known reachable".
var ErrInquiryFailed = errors.New("inquiry did not complete successfully")

type inquiryRadio interface {
	Adapter
	DeviceScanner
	ServiceScanner
}

// InquiryAgent turns the DeviceFound/InquiryDone callback stream of one
// inquiry into a single blocking batch result.
type InquiryAgent struct {
	radio         inquiryRadio
	mode          InquiryMode
	livenessCheck bool
}

// NewInquiryAgent creates an agent. With livenessCheck set, every device found
// is probed with a service search and kept only if it answers.
func NewInquiryAgent(radio inquiryRadio, mode InquiryMode, livenessCheck bool) *InquiryAgent {
	return &InquiryAgent{radio: radio, mode: mode, livenessCheck: livenessCheck}
}

// Run performs one inquiry and returns the reachable devices, sorted by
// address. The slice is non-nil on success, even when empty.
//
// Errors: ErrAdapterUnavailable when the radio is off, ErrInquiryFailed when
// the stack reports a failed inquiry, a *RadioError when the inquiry could not
// be started, and ErrAborted when ctx ends first. Partial results are never
// returned.
func (a *InquiryAgent) Run(ctx context.Context) ([]Identity, error) {
	logging.Info("Starting device inquiry",
		zap.String("mode", a.mode.String()),
		zap.Bool("liveness_check", a.livenessCheck),
	)

	if !a.radio.PoweredOn() {
		logging.Warn("Device inquiry aborted - adapter is not available")
		return nil, ErrAdapterUnavailable
	}

	b := &inquiryBatch{
		agent:  a,
		found:  make(map[Identity]struct{}),
		seen:   make(map[Identity]struct{}),
		result: newPromise[inquiryOutcome](),
	}

	if err := a.radio.StartInquiry(a.mode, b); err != nil {
		logging.Error("Device inquiry could not be started", zap.Error(err))
		return nil, radioErr("inquiry", Identity{}, err)
	}

	out, err := b.result.await(ctx)
	if err != nil {
		b.abort()
		logging.Warn("Device inquiry interrupted, discarding partial results", zap.Error(err))
		return nil, fmt.Errorf("%w: inquiry: %v", ErrAborted, err)
	}

	logging.LogRadioOperation("inquiry", "", out.status.String())
	if out.status != InquiryCompleted {
		return nil, ErrInquiryFailed
	}

	logging.Info("Device inquiry and online check done", zap.Int("devices", len(out.devices)))
	return out.devices, nil
}

type inquiryOutcome struct {
	devices []Identity
	status  InquiryStatus
}

// inquiryBatch is the listener of one inquiry. It resolves its promise once
// the inquiry has finished and no liveness probe is outstanding.
type inquiryBatch struct {
	agent *InquiryAgent

	mu          sync.Mutex
	found       map[Identity]struct{}
	seen        map[Identity]struct{}
	probing     int
	inquiryDone bool
	status      InquiryStatus
	aborted     bool

	result *promise[inquiryOutcome]
}

func (b *inquiryBatch) DeviceFound(id Identity) {
	b.mu.Lock()
	if b.aborted || b.inquiryDone {
		b.mu.Unlock()
		return
	}
	if _, dup := b.seen[id]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[id] = struct{}{}

	if !b.agent.livenessCheck {
		b.found[id] = struct{}{}
		b.mu.Unlock()
		logging.Debug("Device discovered", zap.String("address", id.Address))
		return
	}
	b.probing++
	b.mu.Unlock()

	logging.Debug("Device discovered, checking availability", zap.String("address", id.Address))
	err := startProbe(b.agent.radio, id, func(status SearchStatus) {
		b.probeDone(id, status)
	})
	if err != nil {
		logging.Warn("Liveness probe could not be started",
			zap.String("address", id.Address),
			zap.Error(err),
		)
		b.probeDone(id, SearchError)
	}
}

func (b *inquiryBatch) InquiryDone(status InquiryStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inquiryDone {
		return
	}
	b.inquiryDone = true
	b.status = status
	if b.probing > 0 {
		logging.Debug("Inquiry completed, waiting for liveness probes", zap.Int("outstanding", b.probing))
	}
	b.finishLocked()
}

func (b *inquiryBatch) probeDone(id Identity, status SearchStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing--
	if status.Answered() {
		if !b.aborted {
			b.found[id] = struct{}{}
		}
	} else {
		logging.Info("Device not reachable, dropping from inquiry result",
			zap.String("address", id.Address),
			zap.String("status", status.String()),
		)
	}
	b.finishLocked()
}

func (b *inquiryBatch) finishLocked() {
	if !b.inquiryDone || b.probing > 0 {
		return
	}
	b.result.resolve(inquiryOutcome{
		devices: sortedIdentities(b.found),
		status:  b.status,
	})
}

func (b *inquiryBatch) abort() {
	b.mu.Lock()
	b.aborted = true
	b.mu.Unlock()
}
