// Package tui renders a live view of a gateway's registries in the terminal.
//
// The watch screen loads a snapshot of devices and endpoints over the HTTP
// API, then applies feed events as they arrive. After every reconnect the
// snapshot is loaded again, since events published while disconnected are
// lost. A spinner shows while the feed is connecting.
package tui
