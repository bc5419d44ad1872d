package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/muurk/btgate/internal/config"
	"github.com/muurk/btgate/internal/discovery"
)

var fleetPath string

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(namesCmd)
	rootCmd.AddCommand(fleetCmd)

	configCmd.AddCommand(configInitCmd, configShowCmd)
	namesCmd.AddCommand(namesListCmd, namesSetCmd, namesForgetCmd)
	fleetCmd.AddCommand(fleetCheckCmd, fleetMatchCmd)

	fleetCmd.PersistentFlags().StringVar(&fleetPath, "file", "", "Fleet descriptor (default: from config)")
}

// configPathOrDefault resolves --config.
func configPathOrDefault() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gateway configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPathOrDefault()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.NewConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		d := cfg.Discovery
		fmt.Printf("Discovery:\n")
		fmt.Printf("  period:              %v\n", d.Period)
		fmt.Printf("  inquiry mode:        %s\n", d.InquiryMode)
		fmt.Printf("  ignore unnamed:      %v\n", d.IgnoreUnnamed)
		fmt.Printf("  online check:        %v\n", d.OnlineCheck)
		fmt.Printf("  departure check:     %v\n", d.DepartureCheck)
		fmt.Printf("  unpair on departure: %v\n", d.UnpairOnDeparture)
		fmt.Printf("  cached recheck:      %v\n", d.CachedRecheck)
		fmt.Printf("  stack quirks:        %v\n", d.StackQuirks)
		fmt.Printf("  fleet:               %s\n", d.Fleet)
		if config.NameCacheDisabled(d.NameCache) {
			fmt.Printf("  name cache:          disabled\n")
		} else {
			fmt.Printf("  name cache:          %s\n", d.NameCache)
		}
		fmt.Printf("Radio:\n  backend: %s\n", cfg.Radio.Backend)
		if cfg.Radio.Backend == config.BackendSim {
			fmt.Printf("  sim file: %s\n", cfg.Radio.SimFile)
		} else {
			fmt.Printf("  hci index: %d\n  scan window: %v\n", cfg.Radio.HCIIndex, cfg.Radio.ScanWindow)
		}
		fmt.Printf("API:\n  listen: %s:%d\n  tls: %v\n", cfg.API.Host, cfg.API.Port, cfg.API.TLSCert != "")
		fmt.Printf("Announce:\n  enabled: %v\n  instance: %s\n", cfg.Announce.Enabled, cfg.Announce.Instance)
		return nil
	},
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Inspect and edit the friendly name cache",
}

// nameStore opens the configured name cache.
func nameStore() (*config.NameFile, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if config.NameCacheDisabled(cfg.Discovery.NameCache) {
		return nil, fmt.Errorf("name cache is disabled in the configuration")
	}
	return &config.NameFile{Path: cfg.Discovery.NameCache}, nil
}

var namesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached names",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := nameStore()
		if err != nil {
			return err
		}
		names, err := store.Load()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("Name cache is empty.")
			return nil
		}
		addrs := make([]string, 0, len(names))
		for a := range names {
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		for _, a := range addrs {
			fmt.Printf("%s  %s\n", a, names[a])
		}
		return nil
	},
}

var namesSetCmd = &cobra.Command{
	Use:   "set ADDRESS NAME",
	Short: "Set the cached name of a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := nameStore()
		if err != nil {
			return err
		}
		cache := discovery.NewNameCache(store, nil)
		if err := cache.Load(); err != nil {
			return err
		}
		id := discovery.NewIdentity(args[0])
		cache.Put(id, args[1])
		if err := cache.Persist(); err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", id.Address, args[1])
		return nil
	},
}

var namesForgetCmd = &cobra.Command{
	Use:   "forget ADDRESS",
	Short: "Remove a device from the name cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := nameStore()
		if err != nil {
			return err
		}
		names, err := store.Load()
		if err != nil {
			return err
		}
		id := discovery.NewIdentity(args[0])
		found := false
		for addr := range names {
			if discovery.NewIdentity(addr) == id {
				delete(names, addr)
				found = true
			}
		}
		if !found {
			return fmt.Errorf("%s is not in the name cache", id.Address)
		}
		return store.Save(names)
	},
}

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Validate and test the fleet descriptor",
}

// loadFleet reads --file or the configured descriptor.
func loadFleet() (*discovery.Fleet, string, error) {
	path := fleetPath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, "", err
		}
		path = cfg.Discovery.Fleet
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, fmt.Errorf("fleet descriptor: %w", err)
	}
	fleet, err := config.LoadFleet(path)
	return fleet, path, err
}

var fleetCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse the fleet descriptor and list its entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, path, err := loadFleet()
		if err != nil {
			return err
		}
		fmt.Printf("%s: OK\n", path)
		if fleet.Filter != nil {
			fmt.Printf("  device filter: %s\n", fleet.Filter.String())
		}
		for i, e := range fleet.Entries {
			pin := "no"
			if e.PIN != "" {
				pin = "yes"
			}
			fmt.Printf("  %d. %s (pin: %s, retry: %v, max retry: %d)\n", i+1, e.ID, pin, e.Retry, e.RetryLimit())
		}
		return nil
	},
}

var fleetMatchCmd = &cobra.Command{
	Use:   "match ADDRESS [NAME]",
	Short: "Show how the fleet treats a device",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, _, err := loadFleet()
		if err != nil {
			return err
		}
		dev := discovery.ResolvedDevice{Identity: discovery.NewIdentity(args[0])}
		if len(args) == 2 {
			dev.Name = args[1]
		}

		if !fleet.Accepts(dev) {
			fmt.Printf("%s: excluded by device filter\n", dev)
			return nil
		}
		entry := fleet.Match(dev)
		if entry == nil {
			fmt.Printf("%s: accepted, no fleet entry\n", dev)
			return nil
		}
		fmt.Printf("%s: fleet entry %s\n", dev, entry.ID)
		return nil
	},
}
