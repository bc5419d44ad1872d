//go:build linux

package bleradio

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func openDevice(index int) (central, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(index))
	if err != nil {
		return nil, err
	}
	return dev, nil
}
