// Package logging provides structured logging for the btgate gateway.
//
// This package wraps a zap logger with package-level helpers so that the
// discovery core, the API server and the CLI all log through the same
// configured instance.
//
// # Log Levels
//
//   - Debug: callback traffic from the radio, queue depth, probe results
//   - Info: inquiries, arrivals, departures, resolved endpoints
//   - Warn: pairing failures, unreachable devices, dropped feed subscribers
//   - Error: adapter failures, persistence errors, startup failures
//
// # Structured Logging
//
//	logging.Info("Device registered",
//	    zap.String("address", "0011223344AA"),
//	    zap.String("name", "TDU_00000001"),
//	)
//
// Two domain helpers keep the field names consistent:
//
//	logging.LogRadioOperation("inquiry", "", "completed")
//	logging.LogRegistryEvent("arrival", "0011223344AA")
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given the BTGATE_LOG_LEVEL environment variable is
// consulted. With neither set, logging is silent.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
