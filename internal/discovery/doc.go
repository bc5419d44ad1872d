// Package discovery keeps a registry of nearby radio devices and their
// service endpoints.
//
// The radio stack allows a single operation at a time and reports results
// through callbacks. This package serializes those operations and turns the
// callbacks into blocking, cancellable batches.
//
// # Components
//
//   - WorkManager runs radio work one unit at a time on a dedicated goroutine
//     and re-arms periodic jobs only after the previous run returned.
//   - InquiryAgent runs one inquiry and returns the reachable devices,
//     optionally confirming each with a liveness probe.
//   - ResolutionAgent runs one service search for a single device.
//   - DeviceRegistry diffs inquiry batches, applies naming, filtering and
//     pairing, and publishes arrivals and departures.
//   - ServiceRegistry resolves arriving devices and retries empty results
//     according to the device's fleet entry.
//
// # Typical wiring
//
//	work := discovery.NewWorkManager()
//	devices := discovery.NewDeviceRegistry(radio, work, fleet, names, policy)
//	services := discovery.NewServiceRegistry(radio, work, fleet)
//	devices.AddListener(services)
//	devices.Start()
//
//	agent := discovery.NewInquiryAgent(radio, discovery.GIAC, false)
//	work.ScheduleFixedDelay("inquiry", func(ctx context.Context) {
//	    found, err := agent.Run(ctx)
//	    if errors.Is(err, discovery.ErrAborted) {
//	        return
//	    }
//	    devices.OnBatch(ctx, found) // nil on failure flushes the registry
//	}, 10*time.Second)
//
// # Thread Safety
//
// Registries guard their maps with a single mutex. Listeners are called after
// a batch is committed, outside the lock, and never observe a partial diff.
package discovery
