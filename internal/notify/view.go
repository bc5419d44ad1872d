package notify

import (
	"sort"

	"github.com/muurk/btgate/internal/discovery"
)

// DeviceInfo is the serialized form of a registration.
type DeviceInfo struct {
	Address       string         `json:"address"`
	Name          string         `json:"name,omitempty"`
	Authenticated bool           `json:"authenticated"`
	Properties    map[string]any `json:"properties,omitempty"`
	Handle        string         `json:"handle"`
}

// DeviceEndpoints is the endpoint set of one device.
type DeviceEndpoints struct {
	Address   string         `json:"address"`
	Endpoints []EndpointInfo `json:"endpoints"`
}

// DeviceInfos converts registrations for serialization, keeping their order.
func DeviceInfos(regs []discovery.Registration) []DeviceInfo {
	out := make([]DeviceInfo, 0, len(regs))
	for _, reg := range regs {
		out = append(out, DeviceInfo{
			Address:       reg.Device.Identity.Address,
			Name:          reg.Device.Name,
			Authenticated: reg.Device.Authenticated,
			Properties:    reg.Properties,
			Handle:        reg.Handle.String(),
		})
	}
	return out
}

// EndpointSets converts an endpoint snapshot, ordered by address.
func EndpointSets(snapshot map[discovery.Identity][]discovery.Endpoint) []DeviceEndpoints {
	out := make([]DeviceEndpoints, 0, len(snapshot))
	for id, eps := range snapshot {
		out = append(out, DeviceEndpoints{Address: id.Address, Endpoints: EndpointInfos(eps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
