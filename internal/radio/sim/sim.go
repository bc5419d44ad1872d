// Package sim provides a simulated radio described by a YAML scenario. It
// lets the gateway run without hardware and backs the end-to-end tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Scenario describes the simulated radio and the devices around it.
type Scenario struct {
	Stack         string        `yaml:"stack"`                    // Reported stack name, default bluez
	PoweredOff    bool          `yaml:"powered_off,omitempty"`    // Adapter starts switched off
	InquiryStatus string        `yaml:"inquiry_status,omitempty"` // completed, terminated or error
	Latency       time.Duration `yaml:"latency,omitempty"`        // Delay before each callback batch
	Devices       []Device      `yaml:"devices"`
}

// Device is one simulated remote device.
type Device struct {
	Address  string    `yaml:"address"`
	Name     string    `yaml:"name,omitempty"`
	Present  bool      `yaml:"present"`
	Hidden   bool      `yaml:"hidden,omitempty"` // Present but not reported by inquiries
	Cached   bool      `yaml:"cached,omitempty"` // Remembered by the stack
	PIN      string    `yaml:"pin,omitempty"`
	Paired   bool      `yaml:"paired,omitempty"`
	Services []Service `yaml:"services,omitempty"`
}

// Service is an RFCOMM service offered by a simulated device.
type Service struct {
	Channel int    `yaml:"channel"`
	Name    string `yaml:"name,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sim scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse sim scenario: %w", err)
	}
	return &s, nil
}

var (
	errNotPresent   = errors.New("device not reachable")
	errAuthRejected = errors.New("authentication rejected")
)

// Radio is a simulated discovery.Radio. It also implements
// discovery.DeviceCache. Callbacks are delivered from separate goroutines.
type Radio struct {
	mu            sync.Mutex
	stack         string
	powered       bool
	inquiryStatus discovery.InquiryStatus
	latency       time.Duration
	devices       map[discovery.Identity]*Device
	order         []discovery.Identity
	inquiries     int
	searches      int
}

// New builds a radio from s.
func New(s *Scenario) (*Radio, error) {
	status, err := parseInquiryStatus(s.InquiryStatus)
	if err != nil {
		return nil, err
	}
	stack := s.Stack
	if stack == "" {
		stack = "bluez"
	}

	r := &Radio{
		stack:         stack,
		powered:       !s.PoweredOff,
		inquiryStatus: status,
		latency:       s.Latency,
		devices:       make(map[discovery.Identity]*Device, len(s.Devices)),
	}
	for i := range s.Devices {
		d := s.Devices[i]
		id := discovery.NewIdentity(d.Address)
		if id.Address == "" {
			return nil, fmt.Errorf("devices[%d]: address is required", i)
		}
		if _, dup := r.devices[id]; dup {
			return nil, fmt.Errorf("devices[%d]: duplicate address %s", i, id)
		}
		r.devices[id] = &d
		r.order = append(r.order, id)
	}
	return r, nil
}

func parseInquiryStatus(s string) (discovery.InquiryStatus, error) {
	switch strings.ToLower(s) {
	case "", "completed":
		return discovery.InquiryCompleted, nil
	case "terminated":
		return discovery.InquiryTerminated, nil
	case "error":
		return discovery.InquiryError, nil
	default:
		return discovery.InquiryCompleted, fmt.Errorf("unknown inquiry status %q", s)
	}
}

// PoweredOn reports the simulated adapter state.
func (r *Radio) PoweredOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powered
}

// StackName returns the configured stack name.
func (r *Radio) StackName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stack
}

// SetPowered switches the adapter on or off.
func (r *Radio) SetPowered(on bool) {
	r.mu.Lock()
	r.powered = on
	r.mu.Unlock()
}

// SetPresent moves a device in or out of range. Unknown addresses are added.
func (r *Radio) SetPresent(address string, present bool) {
	id := discovery.NewIdentity(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		d = &Device{Address: id.Address}
		r.devices[id] = d
		r.order = append(r.order, id)
	}
	d.Present = present
}

// SetInquiryStatus changes the status reported at the end of inquiries.
func (r *Radio) SetInquiryStatus(status discovery.InquiryStatus) {
	r.mu.Lock()
	r.inquiryStatus = status
	r.mu.Unlock()
}

// Stats returns the number of inquiries and service searches started.
func (r *Radio) Stats() (inquiries, searches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inquiries, r.searches
}

// StartInquiry reports every present, visible device, then the inquiry status.
func (r *Radio) StartInquiry(mode discovery.InquiryMode, l discovery.InquiryListener) error {
	r.mu.Lock()
	if !r.powered {
		r.mu.Unlock()
		return discovery.ErrAdapterUnavailable
	}
	r.inquiries++
	var found []discovery.Identity
	for _, id := range r.order {
		d := r.devices[id]
		if d.Present && !d.Hidden {
			found = append(found, id)
		}
	}
	status, latency := r.inquiryStatus, r.latency
	r.mu.Unlock()

	logging.Debug("Simulated inquiry started",
		zap.String("mode", mode.String()),
		zap.Int("devices", len(found)),
	)

	go func() {
		time.Sleep(latency)
		for _, id := range found {
			l.DeviceFound(id)
		}
		l.InquiryDone(status)
	}()
	return nil
}

// SearchServices answers with the device's services when it is present.
func (r *Radio) SearchServices(id discovery.Identity, uuids []uint16, _ []int, l discovery.SearchListener) error {
	r.mu.Lock()
	if !r.powered {
		r.mu.Unlock()
		return discovery.ErrAdapterUnavailable
	}
	r.searches++
	d, known := r.devices[id]
	present := known && d.Present
	var records []discovery.ServiceRecord
	if present && wantsRFCOMM(uuids) {
		for _, s := range d.Services {
			attrs := map[int]any{}
			if s.Name != "" {
				attrs[discovery.AttrServiceName] = s.Name
			}
			records = append(records, discovery.RFCOMMRecord{
				Address: id.Address,
				Channel: s.Channel,
				Attrs:   attrs,
			})
		}
	}
	latency := r.latency
	r.mu.Unlock()

	go func() {
		time.Sleep(latency)
		switch {
		case !present:
			l.SearchDone(discovery.SearchDeviceNotReachable)
		case len(records) == 0:
			l.SearchDone(discovery.SearchNoRecords)
		default:
			l.ServicesFound(records)
			l.SearchDone(discovery.SearchCompleted)
		}
	}()
	return nil
}

func wantsRFCOMM(uuids []uint16) bool {
	for _, u := range uuids {
		if u == discovery.UUIDRFCOMM {
			return true
		}
	}
	return false
}

// FriendlyName returns the configured name of a present device.
func (r *Radio) FriendlyName(ctx context.Context, id discovery.Identity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok || !d.Present {
		return "", errNotPresent
	}
	return d.Name, nil
}

// IsAuthenticated reports whether a link key exists for id.
func (r *Radio) IsAuthenticated(id discovery.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return ok && d.Paired
}

// Pair succeeds when the device is present and pin matches its PIN.
func (r *Radio) Pair(ctx context.Context, id discovery.Identity, pin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok || !d.Present {
		return errNotPresent
	}
	if d.PIN == "" || d.PIN != pin {
		return errAuthRejected
	}
	d.Paired = true
	d.Cached = true
	return nil
}

// Unpair drops the link key of id.
func (r *Radio) Unpair(id discovery.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Paired = false
	}
	return nil
}

// CachedDevices returns the devices the simulated stack remembers.
func (r *Radio) CachedDevices() []discovery.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []discovery.Identity
	for _, id := range r.order {
		if d := r.devices[id]; d.Cached || d.Paired {
			out = append(out, id)
		}
	}
	return out
}
