// Package bleradio implements discovery.Radio on top of a go-ble HCI device.
//
// Inquiries are timed advertisement scans. Service searches connect to the
// device and discover its GATT services. LE links carry no PIN pairing in
// the library, so every device is reported as authenticated and Pair and
// Unpair are no-ops.
package bleradio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

const (
	// StackName is reported for the Linux HCI backend.
	StackName = "bluez"

	// DefaultScanWindow is the length of one inquiry.
	DefaultScanWindow = 5 * time.Second

	// DefaultDialTimeout bounds connection attempts during service searches.
	DefaultDialTimeout = 10 * time.Second

	// cacheTTL is how long a device stays in the stack cache after the last
	// successful connection to it.
	cacheTTL = 5 * time.Minute
)

// central is the part of ble.Device the radio uses.
type central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

// Config tunes the radio.
type Config struct {
	HCIIndex    int
	ScanWindow  time.Duration
	DialTimeout time.Duration
}

// Radio is a go-ble backed discovery.Radio and discovery.DeviceCache.
type Radio struct {
	dev         central
	scanWindow  time.Duration
	dialTimeout time.Duration

	// op serializes scans and connections on the controller. Liveness probes
	// started while a scan is running wait for it to finish.
	op sync.Mutex

	mu        sync.Mutex
	names     map[discovery.Identity]string
	connected map[discovery.Identity]time.Time
	closed    bool
}

// Open opens the HCI device and returns a radio.
func Open(cfg Config) (*Radio, error) {
	dev, err := openDevice(cfg.HCIIndex)
	if err != nil {
		return nil, fmt.Errorf("open hci%d: %w", cfg.HCIIndex, err)
	}
	logging.Info("Opened HCI device", zap.Int("index", cfg.HCIIndex))
	return newRadio(dev, cfg), nil
}

func newRadio(dev central, cfg Config) *Radio {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = DefaultScanWindow
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &Radio{
		dev:         dev,
		scanWindow:  cfg.ScanWindow,
		dialTimeout: cfg.DialTimeout,
		names:       make(map[discovery.Identity]string),
		connected:   make(map[discovery.Identity]time.Time),
	}
}

// Close releases the HCI device.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.dev.Stop()
}

// PoweredOn reports whether the device is open.
func (r *Radio) PoweredOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// StackName returns "bluez".
func (r *Radio) StackName() string {
	return StackName
}

// StartInquiry scans for one scan window. Each advertiser is reported once
// per inquiry.
func (r *Radio) StartInquiry(mode discovery.InquiryMode, l discovery.InquiryListener) error {
	if !r.PoweredOn() {
		return discovery.ErrAdapterUnavailable
	}

	go func() {
		r.op.Lock()
		defer r.op.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.scanWindow)
		defer cancel()

		reported := make(map[discovery.Identity]struct{})
		var mu sync.Mutex
		err := r.dev.Scan(ctx, false, func(a ble.Advertisement) {
			id := r.observe(a.Addr().String(), a.LocalName())
			mu.Lock()
			_, dup := reported[id]
			reported[id] = struct{}{}
			mu.Unlock()
			if !dup {
				l.DeviceFound(id)
			}
		})

		status := discovery.InquiryCompleted
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			logging.Error("BLE scan failed", zap.String("mode", mode.String()), zap.Error(err))
			status = discovery.InquiryError
		}
		l.InquiryDone(status)
	}()
	return nil
}

// observe records an advertisement and returns the advertiser's identity.
// Advertising alone does not put a device in the cache.
func (r *Radio) observe(addr, localName string) discovery.Identity {
	id := discovery.NewIdentity(addr)
	r.mu.Lock()
	if name := strings.TrimSpace(localName); name != "" {
		r.names[id] = name
	}
	r.mu.Unlock()
	return id
}

// SearchServices connects to id and discovers its GATT services.
func (r *Radio) SearchServices(id discovery.Identity, uuids []uint16, _ []int, l discovery.SearchListener) error {
	if !r.PoweredOn() {
		return discovery.ErrAdapterUnavailable
	}

	go func() {
		r.op.Lock()
		defer r.op.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
		defer cancel()

		cln, err := r.dev.Dial(ctx, ble.NewAddr(macAddress(id)))
		if err != nil {
			logging.Debug("BLE connection failed", zap.String("address", id.Address), zap.Error(err))
			l.SearchDone(discovery.SearchDeviceNotReachable)
			return
		}
		defer func() {
			if err := cln.CancelConnection(); err != nil {
				logging.Debug("BLE disconnect failed", zap.String("address", id.Address), zap.Error(err))
			}
		}()

		r.remember(id)

		services, err := cln.DiscoverServices(nil)
		if err != nil {
			logging.Warn("GATT service discovery failed", zap.String("address", id.Address), zap.Error(err))
			l.SearchDone(discovery.SearchError)
			return
		}
		if !wantsEndpoints(uuids) {
			l.SearchDone(discovery.SearchNoRecords)
			return
		}

		records := make([]discovery.ServiceRecord, 0, len(services))
		for _, s := range services {
			records = append(records, gattRecord{
				address: id.Address,
				uuid:    s.UUID.String(),
				name:    ble.Name(s.UUID),
				handle:  s.Handle,
			})
		}
		if len(records) == 0 {
			l.SearchDone(discovery.SearchNoRecords)
			return
		}
		l.ServicesFound(records)
		l.SearchDone(discovery.SearchCompleted)
	}()
	return nil
}

// wantsEndpoints reports whether a search asks for connectable services, as
// opposed to a presence probe.
func wantsEndpoints(uuids []uint16) bool {
	for _, u := range uuids {
		if u == discovery.UUIDRFCOMM {
			return true
		}
	}
	return false
}

// FriendlyName returns the local name last advertised by id.
func (r *Radio) FriendlyName(_ context.Context, id discovery.Identity) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[id], nil
}

// IsAuthenticated always reports true for LE links.
func (r *Radio) IsAuthenticated(discovery.Identity) bool {
	return true
}

// Pair is a no-op.
func (r *Radio) Pair(context.Context, discovery.Identity, string) error {
	return nil
}

// Unpair is a no-op.
func (r *Radio) Unpair(discovery.Identity) error {
	return nil
}

// remember adds id to the cache after a successful connection.
func (r *Radio) remember(id discovery.Identity) {
	r.mu.Lock()
	r.connected[id] = time.Now()
	r.mu.Unlock()
}

// CachedDevices returns the devices connected to within the cache lifetime.
func (r *Radio) CachedDevices() []discovery.Identity {
	cutoff := time.Now().Add(-cacheTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []discovery.Identity
	for id, at := range r.connected {
		if at.After(cutoff) {
			out = append(out, id)
		} else {
			delete(r.connected, id)
		}
	}
	return out
}

// macAddress renders a normalised identity as aa:bb:cc:dd:ee:ff.
func macAddress(id discovery.Identity) string {
	a := strings.ToLower(id.Address)
	if len(a) != 12 {
		return a
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, a[i:i+2])
	}
	return strings.Join(parts, ":")
}

// gattRecord is a GATT service exposed as a discovery.ServiceRecord.
type gattRecord struct {
	address string
	uuid    string
	name    string
	handle  uint16
}

func (g gattRecord) ConnectionURL(sec discovery.Security) string {
	if g.address == "" || g.uuid == "" {
		return ""
	}
	return fmt.Sprintf("btgatt://%s/%s;handle=%d;authenticate=%t",
		g.address, g.uuid, g.handle, sec == discovery.SecurityAuthenticate)
}

func (g gattRecord) Attributes() map[int]any {
	attrs := map[int]any{}
	if g.name != "" {
		attrs[discovery.AttrServiceName] = g.name
	}
	return attrs
}
