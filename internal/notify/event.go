// Package notify carries registry notifications to downstream consumers.
//
// A Hub is attached to the device and service registries as a listener and
// fans every committed change out to its subscribers as an Event.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/muurk/btgate/internal/discovery"
)

// Kind identifies the notification type.
type Kind string

const (
	KindArrival   Kind = "arrival"
	KindDeparture Kind = "departure"
	KindEndpoints Kind = "endpoints"
)

// EndpointInfo is one endpoint in an endpoints event.
type EndpointInfo struct {
	URL        string         `json:"url"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Handle     string         `json:"handle"`
}

// Event is a registry notification. Endpoints events replace the whole
// endpoint set of the device; an empty set means the endpoints are gone.
type Event struct {
	Kind       Kind           `json:"kind"`
	Address    string         `json:"address"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Handle     string         `json:"handle,omitempty"`
	Endpoints  []EndpointInfo `json:"endpoints,omitempty"`
	Time       time.Time      `json:"time"`
}

// ArrivalEvent builds the event published when reg is created.
func ArrivalEvent(reg discovery.Registration) Event {
	props := make(map[string]any, len(reg.Properties))
	for k, v := range reg.Properties {
		props[k] = v
	}
	return Event{
		Kind:       KindArrival,
		Address:    reg.Device.Identity.Address,
		Name:       reg.Device.Name,
		Properties: props,
		Handle:     reg.Handle.String(),
		Time:       time.Now().UTC(),
	}
}

// DepartureEvent builds the event published when id is unregistered.
func DepartureEvent(id discovery.Identity) Event {
	return Event{
		Kind:    KindDeparture,
		Address: id.Address,
		Time:    time.Now().UTC(),
	}
}

// EndpointsEvent builds the event published when the endpoint set of id is
// replaced.
func EndpointsEvent(id discovery.Identity, eps []discovery.Endpoint) Event {
	return Event{
		Kind:      KindEndpoints,
		Address:   id.Address,
		Endpoints: EndpointInfos(eps),
		Time:      time.Now().UTC(),
	}
}

// EndpointInfos converts endpoints for serialization.
func EndpointInfos(eps []discovery.Endpoint) []EndpointInfo {
	out := make([]EndpointInfo, 0, len(eps))
	for _, ep := range eps {
		out = append(out, EndpointInfo{
			URL:        ep.URL,
			Name:       ep.ServiceName(),
			Attributes: attributeKeys(ep.Attributes),
			Handle:     ep.Handle.String(),
		})
	}
	return out
}

// attributeKeys renders attribute IDs as 0x hex strings, sorted for stable
// output.
func attributeKeys(attrs map[int]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]int, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make(map[string]any, len(attrs))
	for _, k := range keys {
		out[fmt.Sprintf("0x%04X", k)] = attrs[k]
	}
	return out
}
