// Package gateway is the control surface of the discovery engine.
//
// A Gateway owns one radio and, while running, a WorkManager, a
// DeviceRegistry and a ServiceRegistry wired together. A periodic inquiry
// job feeds the device registry; arrivals trigger service resolution; all
// committed changes are published on a notify.Hub.
//
// # Lifecycle
//
//	gw := gateway.New(radio, opts)
//	if err := gw.Start(); err != nil {
//	    // unsupported stack or adapter off: no automatic retry
//	}
//	defer gw.Close()
//
// Start refuses to run on an unsupported stack or with the adapter off. Stop
// interrupts the running radio operation, drops queued work, persists the
// name cache and empties both registries. A stopped gateway can be started
// again.
//
// # Stack quirks
//
// Some radio stacks need workarounds. With Options.StackQuirks set:
//   - winsock: every inquired device is probed before it is accepted, and
//     departing devices are unpaired
//   - bluez: devices the stack remembers but did not report are probed and
//     registered if they answer
package gateway
