//go:build !linux

package bleradio

import (
	"fmt"
	"runtime"

	"github.com/muurk/btgate/internal/discovery"
)

func openDevice(int) (central, error) {
	return nil, fmt.Errorf("%w: no HCI backend on %s", discovery.ErrStackUnsupported, runtime.GOOS)
}
