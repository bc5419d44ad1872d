package discovery

import (
	"context"
	"fmt"
)

// probeListener turns the completion callback of a liveness search into a
// function call. Records are ignored: only the device's answer matters.
type probeListener struct {
	done func(SearchStatus)
}

func (l *probeListener) ServicesFound([]ServiceRecord) {}

func (l *probeListener) SearchDone(status SearchStatus) {
	l.done(status)
}

// startProbe starts a public-browse-group search on id and reports its final
// status to done. Some stacks keep reporting paired devices in inquiries after
// they have gone; a search is the only reliable presence check.
func startProbe(scanner ServiceScanner, id Identity, done func(SearchStatus)) error {
	l := &probeListener{done: done}
	if err := scanner.SearchServices(id, []uint16{UUIDPublicBrowseGroup}, nil, l); err != nil {
		return radioErr("probe", id, err)
	}
	return nil
}

// probePresence runs a liveness probe and blocks until the device answered,
// did not answer, or ctx is done.
func probePresence(ctx context.Context, scanner ServiceScanner, id Identity) (bool, error) {
	p := newPromise[SearchStatus]()
	if err := startProbe(scanner, id, p.resolve); err != nil {
		return false, err
	}
	status, err := p.await(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: probe %s: %v", ErrAborted, id, err)
	}
	return status.Answered(), nil
}
