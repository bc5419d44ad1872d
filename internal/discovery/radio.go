package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// InquiryMode selects the inquiry access code.
type InquiryMode int

const (
	// GIAC is the general inquiry access code: every discoverable device answers.
	GIAC InquiryMode = iota
	// LIAC is the limited inquiry access code.
	LIAC
)

func (m InquiryMode) String() string {
	switch m {
	case GIAC:
		return "giac"
	case LIAC:
		return "liac"
	default:
		return fmt.Sprintf("InquiryMode(%d)", int(m))
	}
}

// ParseInquiryMode accepts "giac" or "liac" (case-insensitive); empty means GIAC.
func ParseInquiryMode(s string) (InquiryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "giac":
		return GIAC, nil
	case "liac":
		return LIAC, nil
	default:
		return GIAC, fmt.Errorf("unknown inquiry mode %q", s)
	}
}

// InquiryStatus is reported when an inquiry finishes.
type InquiryStatus int

const (
	InquiryCompleted InquiryStatus = iota
	InquiryTerminated
	InquiryError
)

func (s InquiryStatus) String() string {
	switch s {
	case InquiryCompleted:
		return "completed"
	case InquiryTerminated:
		return "terminated"
	case InquiryError:
		return "error"
	default:
		return fmt.Sprintf("InquiryStatus(%d)", int(s))
	}
}

// SearchStatus is reported when a service search finishes.
type SearchStatus int

const (
	SearchCompleted SearchStatus = iota
	SearchNoRecords
	SearchTerminated
	SearchError
	SearchDeviceNotReachable
)

func (s SearchStatus) String() string {
	switch s {
	case SearchCompleted:
		return "completed"
	case SearchNoRecords:
		return "no_records"
	case SearchTerminated:
		return "terminated"
	case SearchError:
		return "error"
	case SearchDeviceNotReachable:
		return "device_not_reachable"
	default:
		return fmt.Sprintf("SearchStatus(%d)", int(s))
	}
}

// Answered reports whether the remote device responded to the search.
func (s SearchStatus) Answered() bool {
	return s == SearchCompleted || s == SearchNoRecords
}

// Well-known service class identifiers used in searches.
const (
	UUIDServiceDiscovery  uint16 = 0x0001
	UUIDRFCOMM            uint16 = 0x0003
	UUIDPublicBrowseGroup uint16 = 0x1002
)

// AttrServiceName is the attribute ID of the primary-language service name.
const AttrServiceName = 0x0100

// Security is the link security requested in an endpoint's connection URL.
type Security int

const (
	// SecurityNone is NOAUTHENTICATE_NOENCRYPT.
	SecurityNone Security = iota
	// SecurityAuthenticate is AUTHENTICATE_NOENCRYPT, used for fleet devices.
	SecurityAuthenticate
)

// ServiceRecord is a record returned by a service search.
type ServiceRecord interface {
	// ConnectionURL returns the URL to reach the service, or "" when the record
	// does not describe a connectable service.
	ConnectionURL(sec Security) string
	// Attributes returns the record's attributes keyed by attribute ID.
	Attributes() map[int]any
}

// InquiryListener receives the callbacks of one inquiry.
type InquiryListener interface {
	DeviceFound(id Identity)
	InquiryDone(status InquiryStatus)
}

// SearchListener receives the callbacks of one service search.
type SearchListener interface {
	ServicesFound(records []ServiceRecord)
	SearchDone(status SearchStatus)
}

// Adapter reports the state of the local radio.
type Adapter interface {
	PoweredOn() bool
	StackName() string
}

// DeviceScanner runs inquiries. Results arrive asynchronously on the listener.
type DeviceScanner interface {
	StartInquiry(mode InquiryMode, l InquiryListener) error
}

// ServiceScanner runs per-device service searches. Results arrive
// asynchronously on the listener.
type ServiceScanner interface {
	SearchServices(id Identity, uuids []uint16, attrs []int, l SearchListener) error
}

// NameResolver queries a device's friendly name over the air.
type NameResolver interface {
	FriendlyName(ctx context.Context, id Identity) (string, error)
}

// Pairer manages link keys.
type Pairer interface {
	IsAuthenticated(id Identity) bool
	Pair(ctx context.Context, id Identity, pin string) error
	Unpair(id Identity) error
}

// DeviceCache is implemented by stacks that remember devices between inquiries.
type DeviceCache interface {
	CachedDevices() []Identity
}

// Radio is everything the discovery core needs from the local stack.
type Radio interface {
	Adapter
	DeviceScanner
	ServiceScanner
	NameResolver
	Pairer
}

// RFCOMMRecord is a serial-port service record reachable on an RFCOMM channel.
type RFCOMMRecord struct {
	Address string
	Channel int
	Attrs   map[int]any
}

// ConnectionURL renders a btspp URL for the record.
func (r RFCOMMRecord) ConnectionURL(sec Security) string {
	if r.Channel <= 0 || r.Address == "" {
		return ""
	}
	auth := sec == SecurityAuthenticate
	return fmt.Sprintf("btspp://%s:%d;authenticate=%t;encrypt=false;master=false",
		NewIdentity(r.Address).Address, r.Channel, auth)
}

// Attributes returns a copy of the record's attributes.
func (r RFCOMMRecord) Attributes() map[int]any {
	out := make(map[int]any, len(r.Attrs))
	for k, v := range r.Attrs {
		out[k] = v
	}
	return out
}

// sortedIdentities returns ids ordered by address for deterministic processing.
func sortedIdentities(ids map[Identity]struct{}) []Identity {
	out := make([]Identity, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
