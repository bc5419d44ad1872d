package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/btgate/internal/announce"
	"github.com/muurk/btgate/internal/client"
	"github.com/muurk/btgate/internal/config"
	"github.com/muurk/btgate/internal/gateway"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/server"
	"github.com/muurk/btgate/internal/tui"
	"github.com/muurk/btgate/internal/version"
)

// run command flags
var (
	apiHost    string
	apiPort    int
	simFile    string
	noAnnounce bool
	noStart    bool
)

// client command flags
var (
	gatewayAddr string
	scanTimeout int
	jsonOutput  bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)

	runCmd.Flags().StringVar(&apiHost, "host", "", "API listen host (overrides config)")
	runCmd.Flags().IntVar(&apiPort, "port", 0, "API listen port (overrides config)")
	runCmd.Flags().StringVar(&simFile, "sim", "", "Run on a simulated radio described by this scenario file")
	runCmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Do not advertise the API over mDNS")
	runCmd.Flags().BoolVar(&noStart, "no-start", false, "Serve the API without starting discovery")

	for _, cmd := range []*cobra.Command{watchCmd, statusCmd} {
		cmd.Flags().StringVar(&gatewayAddr, "addr", "", "Gateway API address (default: first gateway found over mDNS)")
	}
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 3, "Scan timeout in seconds")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run discovery and serve the API",
	Long: `Start periodic discovery on the configured radio and serve the control
API and event feed until interrupted.

If discovery cannot start (unsupported radio stack, adapter off) the error
is reported and the API keeps serving, so discovery can be started later
with POST /api/v1/start.`,
	Example: `  # Run with the default configuration
  btgate run --log-level info

  # Run against a simulated radio on a custom port
  btgate run --sim scenario.yaml --port 9000 --no-announce`,
	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort != 0 {
		cfg.API.Port = apiPort
	}
	if simFile != "" {
		cfg.Radio.Backend = config.BackendSim
		cfg.Radio.SimFile = simFile
	}
	if noAnnounce {
		cfg.Announce.Enabled = false
	}

	opts, err := gateway.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	radio, err := gateway.OpenRadio(cfg.Radio)
	if err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}

	gw := gateway.New(radio, opts)
	defer func() {
		if err := gw.Close(); err != nil {
			logging.Warn("Gateway close reported errors", zap.Errors("errors", multierr.Errors(err)))
		}
	}()

	if !noStart {
		if err := gw.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Discovery not started: %v\n", err)
		}
	}

	srvCfg := &server.Config{
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		CertPath: cfg.API.TLSCert,
		KeyPath:  cfg.API.TLSKey,
	}
	srv, err := server.New(srvCfg, gw)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Announce.Enabled {
		a, err := announce.Register(cfg.Announce.Instance, cfg.API.Port, version.Version, srvCfg.TLSEnabled())
		if err != nil {
			logging.Warn("mDNS announcement failed", zap.Error(err))
		} else {
			defer a.Shutdown()
		}
	}

	fmt.Printf("btgate %s serving on %s\n", version.Version, srvCfg.Addr())
	return srv.Start()
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of a running gateway",
	Long: `Show the devices and endpoints of a running gateway and follow its event
feed. Without --addr the first gateway answering over mDNS is used.`,
	Example: `  btgate watch
  btgate watch --addr 192.168.1.20:8380`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tui.IsTerminal() {
			return errors.New("watch needs a terminal; use 'btgate status' instead")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := resolveClient(ctx)
		if err != nil {
			return err
		}
		return tui.Run(ctx, c)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print gateway status, devices and endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := resolveClient(ctx)
		if err != nil {
			return err
		}
		st, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", client.ShortMessage(err), err)
		}
		devices, err := c.Devices(ctx)
		if err != nil {
			return err
		}
		endpoints, err := c.Endpoints(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"status":    st,
				"devices":   devices,
				"endpoints": endpoints,
			})
		}

		fmt.Printf("Gateway:   %s\n", c.BaseURL)
		fmt.Printf("Running:   %v\n", st.Running)
		fmt.Printf("Stack:     %s (supported: %v, adapter on: %v)\n", st.Stack, st.StackSupported, st.AdapterOn)
		fmt.Printf("Inquiries: %d (last found %d)\n", st.Inquiries, st.LastFound)
		if st.LastError != "" {
			fmt.Printf("Last error: %s\n", st.LastError)
		}

		urls := make(map[string][]string)
		for _, set := range endpoints {
			for _, ep := range set.Endpoints {
				urls[set.Address] = append(urls[set.Address], ep.URL)
			}
		}

		fmt.Printf("\n%d device(s):\n", len(devices))
		for _, d := range devices {
			name := d.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("  %s  %s\n", d.Address, name)
			for _, u := range urls[d.Address] {
				fmt.Printf("      %s\n", u)
			}
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find gateways on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Scanning for gateways (timeout: %ds)...\n\n", scanTimeout)

		scanner := announce.NewScanner()
		scanner.Timeout = time.Duration(scanTimeout) * time.Second
		gateways, err := scanner.Scan(context.Background())
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		if len(gateways) == 0 {
			fmt.Println("No gateways found.")
			fmt.Println("\nTroubleshooting:")
			fmt.Println("  - Check that 'btgate run' is active without --no-announce")
			fmt.Println("  - Multicast DNS may be blocked between networks")
			fmt.Println("  - Try increasing --timeout")
			return nil
		}

		fmt.Printf("Found %d gateway(s):\n\n", len(gateways))
		for i, gw := range gateways {
			fmt.Printf("%d. %s\n", i+1, gw.Instance)
			fmt.Printf("   API:     %s%s\n", gw.BaseURL(), gw.API)
			if gw.Version != "" {
				fmt.Printf("   Version: %s\n", gw.Version)
			}
			fmt.Println()
		}
		return nil
	},
}

// resolveClient returns a client for --addr, or for the first gateway found
// over mDNS.
func resolveClient(ctx context.Context) (*client.Client, error) {
	if gatewayAddr != "" {
		return client.NewClient(withDefaultPort(gatewayAddr)), nil
	}
	gw, err := announce.NewScanner().First(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w; use --addr to name a gateway", err)
	}
	return client.NewClient(gw.BaseURL()), nil
}

// withDefaultPort completes a bare host or port into a host:port address.
func withDefaultPort(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if _, err := strconv.Atoi(addr); err == nil {
		return net.JoinHostPort("127.0.0.1", addr)
	}
	return net.JoinHostPort(addr, strconv.Itoa(config.NewConfig().API.Port))
}
