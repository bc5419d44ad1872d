// Package announce advertises a gateway API over mDNS and finds gateways
// advertised by others.
package announce

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type of the gateway API
	ServiceType = "_btgate._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default time spent browsing
	DefaultScanTimeout = 3 * time.Second

	// APIPath is advertised in the api TXT record.
	APIPath = "/api/v1"
)

// Gateway is one gateway found on the network.
type Gateway struct {
	Instance     string
	Hostname     string
	IP           string
	Port         int
	API          string
	Version      string
	TLS          bool
	Metadata     map[string]string
	DiscoveredAt time.Time
}

// BaseURL returns the scheme, host and port of the gateway API.
func (g *Gateway) BaseURL() string {
	scheme := "http"
	if g.TLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(g.IP, strconv.Itoa(g.Port))
}

// Announcer keeps a service registration alive until Shutdown.
type Announcer struct {
	server *zeroconf.Server
}

// TXTRecords builds the TXT records advertised for the API.
func TXTRecords(version string, tls bool) []string {
	return []string{
		"api=" + APIPath,
		"version=" + version,
		"tls=" + strconv.FormatBool(tls),
	}
}

// Register advertises the API listening on port under instance.
func Register(instance string, port int, version string, tls bool) (*Announcer, error) {
	txt := TXTRecords(version, tls)
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Announcing gateway API",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", txt),
	)
	return &Announcer{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Announcer) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	logging.Debug("mDNS announcement withdrawn")
}

// Scanner browses for gateways
type Scanner struct {
	// Timeout is the maximum time to browse
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses until the timeout or ctx ends and returns every gateway seen.
func (s *Scanner) Scan(ctx context.Context) ([]*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu       sync.Mutex
		gateways []*Gateway
		seen     = make(map[string]bool)
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			gw := parseServiceEntry(entry)
			if gw == nil {
				continue
			}
			mu.Lock()
			if !seen[gw.Instance] {
				seen[gw.Instance] = true
				gateways = append(gateways, gw)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once the browse context ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Gateway(nil), gateways...), nil
}

// First browses until one gateway answers.
func (s *Scanner) First(ctx context.Context) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Gateway, 1)
	go func() {
		for entry := range entries {
			if gw := parseServiceEntry(entry); gw != nil {
				select {
				case found <- gw:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case gw := <-found:
		return gw, nil
	case <-ctx.Done():
		select {
		case gw := <-found:
			return gw, nil
		default:
		}
		return nil, fmt.Errorf("no gateway found within %v", s.Timeout)
	}
}

// parseServiceEntry converts a service entry to a Gateway. Entries without
// an address or an api TXT record are ignored.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	api, ok := metadata["api"]
	if !ok || api == "" {
		return nil
	}
	tls, _ := strconv.ParseBool(metadata["tls"])

	return &Gateway{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		API:          api,
		Version:      metadata["version"],
		TLS:          tls,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
