package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/notify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SupportedStacks lists the radio stacks the gateway runs on.
var SupportedStacks = []string{"winsock", "widcomm", "mac", "bluez"}

// DefaultPeriod is the delay between inquiries.
const DefaultPeriod = 10 * time.Second

// Options configures a Gateway.
type Options struct {
	Period      time.Duration
	InquiryMode discovery.InquiryMode
	OnlineCheck bool
	Policy      discovery.DevicePolicy
	StackQuirks bool
	Fleet       *discovery.Fleet
	Names       *discovery.NameCache
}

// Status is a point-in-time view of the gateway.
type Status struct {
	Running        bool      `json:"running"`
	AdapterOn      bool      `json:"adapter_on"`
	Stack          string    `json:"stack"`
	StackSupported bool      `json:"stack_supported"`
	Devices        int       `json:"devices"`
	Endpoints      int       `json:"endpoints"`
	PendingWork    int       `json:"pending_work"`
	Busy           string    `json:"busy,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Inquiries      int       `json:"inquiries"`
	LastInquiry    time.Time `json:"last_inquiry,omitempty"`
	LastFound      int       `json:"last_found"`
	LastError      string    `json:"last_error,omitempty"`
}

// Gateway runs periodic discovery over one radio.
type Gateway struct {
	radio discovery.Radio
	opts  Options
	hub   *notify.Hub

	mu       sync.Mutex
	running  bool
	work     *discovery.WorkManager
	devices  *discovery.DeviceRegistry
	services *discovery.ServiceRegistry

	startedAt   time.Time
	inquiries   int
	lastInquiry time.Time
	lastFound   int
	lastErr     error
}

// New creates a stopped gateway.
func New(radio discovery.Radio, opts Options) *Gateway {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Names == nil {
		opts.Names = discovery.NewNameCache(nil, nil)
	}
	return &Gateway{
		radio: radio,
		opts:  opts,
		hub:   notify.NewHub(notify.DefaultBuffer),
	}
}

// Subscribe returns a subscription to registry notifications.
func (g *Gateway) Subscribe() *notify.Subscription {
	return g.hub.Subscribe()
}

// IsAdapterOn reports whether the radio adapter is powered and available.
func (g *Gateway) IsAdapterOn() bool {
	return g.radio.PoweredOn()
}

// StackName returns the name of the radio stack.
func (g *Gateway) StackName() string {
	return g.radio.StackName()
}

// IsStackSupported reports whether the radio stack is one the gateway runs on.
func (g *Gateway) IsStackSupported() bool {
	name := strings.ToLower(g.StackName())
	for _, s := range SupportedStacks {
		if s == name {
			return true
		}
	}
	return false
}

// Running reports whether discovery is active.
func (g *Gateway) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Start begins periodic discovery. It is a no-op while running. An
// unsupported stack or an adapter that is off aborts the start; there is no
// automatic retry.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	stack := g.StackName()
	if !g.IsStackSupported() {
		logging.Error("Radio stack not supported, discovery not started",
			zap.String("stack", stack),
			zap.Strings("supported", SupportedStacks),
		)
		return fmt.Errorf("%w: %q", discovery.ErrStackUnsupported, stack)
	}
	if !g.IsAdapterOn() {
		logging.Error("Radio adapter is off, discovery not started", zap.String("stack", stack))
		return discovery.ErrAdapterUnavailable
	}

	policy, online := g.effectivePolicy(stack)

	work := discovery.NewWorkManager()
	devices := discovery.NewDeviceRegistry(g.radio, work, g.opts.Fleet, g.opts.Names, policy)
	services := discovery.NewServiceRegistry(g.radio, work, g.opts.Fleet)
	devices.AddListener(services)
	devices.AddListener(g.hub)
	services.AddListener(g.hub)
	devices.Start()

	agent := discovery.NewInquiryAgent(g.radio, g.opts.InquiryMode, online)
	if _, err := work.ScheduleFixedDelay("inquiry", g.inquiryJob(agent, devices), g.opts.Period); err != nil {
		work.Shutdown()
		_ = devices.Stop()
		return fmt.Errorf("failed to schedule inquiry: %w", err)
	}

	g.work = work
	g.devices = devices
	g.services = services
	g.running = true
	g.startedAt = time.Now()

	logging.Info("Discovery started",
		zap.String("stack", stack),
		zap.Duration("period", g.opts.Period),
		zap.String("inquiry_mode", g.opts.InquiryMode.String()),
		zap.Bool("online_check", online),
	)
	return nil
}

// effectivePolicy applies the stack quirks on top of the configured policy.
func (g *Gateway) effectivePolicy(stack string) (discovery.DevicePolicy, bool) {
	policy := g.opts.Policy
	online := g.opts.OnlineCheck
	if !g.opts.StackQuirks {
		return policy, online
	}
	switch strings.ToLower(stack) {
	case "winsock":
		online = true
		policy.UnpairOnDeparture = true
	case "bluez":
		policy.CachedRecheck = true
	}
	return policy, online
}

// inquiryJob is the periodic unit: one inquiry, then the batch is applied.
// An interrupted inquiry is discarded; a failed one flushes the registry.
func (g *Gateway) inquiryJob(agent *discovery.InquiryAgent, devices *discovery.DeviceRegistry) func(ctx context.Context) {
	return func(ctx context.Context) {
		found, err := agent.Run(ctx)
		if errors.Is(err, discovery.ErrAborted) {
			return
		}

		g.mu.Lock()
		g.inquiries++
		g.lastInquiry = time.Now()
		g.lastFound = len(found)
		g.lastErr = err
		g.mu.Unlock()

		if err != nil {
			logging.Warn("Inquiry failed, treating all devices as gone", zap.Error(err))
			found = nil
		}
		devices.OnBatch(ctx, found)
	}
}

// Stop interrupts discovery and empties both registries. The name cache is
// persisted; its error, if any, is returned.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	work, devices, services := g.work, g.devices, g.services
	g.running = false
	g.work, g.devices, g.services = nil, nil, nil
	g.mu.Unlock()

	work.Shutdown()

	var err error
	err = multierr.Append(err, devices.Stop())
	services.Stop()

	logging.Info("Discovery stopped")
	return err
}

// Close stops discovery, closes the notification hub and releases the radio
// when it holds resources.
func (g *Gateway) Close() error {
	err := g.Stop()
	g.hub.Close()
	if c, ok := g.radio.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Status returns the current state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{
		Running:        g.running,
		AdapterOn:      g.IsAdapterOn(),
		Stack:          g.StackName(),
		StackSupported: g.IsStackSupported(),
		Inquiries:      g.inquiries,
		LastInquiry:    g.lastInquiry,
		LastFound:      g.lastFound,
	}
	if g.lastErr != nil {
		st.LastError = g.lastErr.Error()
	}
	if g.running {
		st.StartedAt = g.startedAt
		st.Devices = g.devices.Len()
		for _, eps := range g.services.Snapshot() {
			st.Endpoints += len(eps)
		}
		st.PendingWork = g.work.Pending()
		st.Busy = g.work.Running()
	}
	return st
}

// Devices returns the registered devices, ordered by address.
func (g *Gateway) Devices() []discovery.Registration {
	g.mu.Lock()
	devices := g.devices
	g.mu.Unlock()
	if devices == nil {
		return nil
	}
	return devices.Snapshot()
}

// Endpoints returns the endpoint sets of all resolved devices.
func (g *Gateway) Endpoints() map[discovery.Identity][]discovery.Endpoint {
	g.mu.Lock()
	services := g.services
	g.mu.Unlock()
	if services == nil {
		return map[discovery.Identity][]discovery.Endpoint{}
	}
	return services.Snapshot()
}
