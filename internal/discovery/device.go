package discovery

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Registration property keys published with every arrival.
const (
	PropDeviceID   = "device.id"
	PropDeviceName = "device.name"
	PropFleetEntry = "fleet.entry"
)

// Identity is the canonical key of a remote device. Two identities are equal
// when their addresses are equal, whatever name was resolved for them.
type Identity struct {
	Address string
}

// NewIdentity normalises a radio address ("00:11:22:33:44:aa", "0011223344AA")
// to upper-case hex without separators.
func NewIdentity(address string) Identity {
	r := strings.NewReplacer(":", "", "-", "", ".", "")
	return Identity{Address: strings.ToUpper(r.Replace(strings.TrimSpace(address)))}
}

func (id Identity) String() string {
	return id.Address
}

// ResolvedDevice wraps an identity with what the gateway learned about it.
// It is replaced, never mutated, when the device is resolved again.
type ResolvedDevice struct {
	Identity      Identity
	Name          string
	Authenticated bool
}

// Named reports whether a friendly name is known for the device.
func (d ResolvedDevice) Named() bool {
	return d.Name != ""
}

func (d ResolvedDevice) String() string {
	if d.Named() {
		return fmt.Sprintf("%s (%s)", d.Identity.Address, d.Name)
	}
	return d.Identity.Address
}

// Registration is the published record of a reachable device.
type Registration struct {
	Device     ResolvedDevice
	Properties map[string]any
	Handle     uuid.UUID
}

func newRegistration(dev ResolvedDevice, entry *FleetEntry) Registration {
	props := map[string]any{
		PropDeviceID: dev.Identity.Address,
	}
	if dev.Named() {
		props[PropDeviceName] = dev.Name
	}
	if entry != nil {
		props[PropFleetEntry] = entry.ID
	}
	return Registration{
		Device:     dev,
		Properties: props,
		Handle:     uuid.New(),
	}
}

// Endpoint is one communication endpoint advertised by a device.
type Endpoint struct {
	Device     Identity
	URL        string
	Attributes map[int]any
	Handle     uuid.UUID
}

// ServiceName returns the service-name attribute, if the record carried one.
func (e Endpoint) ServiceName() string {
	if v, ok := e.Attributes[AttrServiceName]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
