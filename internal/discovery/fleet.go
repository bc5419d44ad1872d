package discovery

import (
	"fmt"
	"regexp"
)

// FleetEntry describes a known class of devices: an identity pattern matched
// against address or name, the credentials used to pair with them, and the
// resolution retry policy.
type FleetEntry struct {
	// ID is the pattern source, used to reference the entry in registrations.
	ID       string
	Pattern  *regexp.Regexp
	PIN      string
	Username string
	Password string
	Realm    string
	Retry    bool
	MaxRetry int
}

// CompilePattern compiles a fleet or filter pattern. Patterns must match the
// whole address or name, not a substring of it.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// NewFleetEntry compiles id into an entry with default retry policy
// (retryable, one retry).
func NewFleetEntry(id string) (FleetEntry, error) {
	re, err := CompilePattern(id)
	if err != nil {
		return FleetEntry{}, err
	}
	return FleetEntry{ID: id, Pattern: re, Retry: true, MaxRetry: 1}, nil
}

// Matches reports whether the entry's pattern matches the device's address or
// resolved name.
func (e *FleetEntry) Matches(dev ResolvedDevice) bool {
	if e.Pattern == nil {
		return false
	}
	if e.Pattern.MatchString(dev.Identity.Address) {
		return true
	}
	return dev.Named() && e.Pattern.MatchString(dev.Name)
}

// RetryLimit is the number of resolution retries allowed after the first
// attempt. Values below one are treated as one.
func (e *FleetEntry) RetryLimit() int {
	if e.MaxRetry <= 0 {
		return 1
	}
	return e.MaxRetry
}

// Fleet is the read-only device policy: an optional device filter and the
// ordered list of known entries. A nil *Fleet accepts every device and never
// pairs.
type Fleet struct {
	Filter  *regexp.Regexp
	Entries []FleetEntry
}

// Configured reports whether pairing against the fleet applies.
func (f *Fleet) Configured() bool {
	return f != nil && len(f.Entries) > 0
}

// Accepts applies the device filter. Without a filter every device passes.
func (f *Fleet) Accepts(dev ResolvedDevice) bool {
	if f == nil || f.Filter == nil {
		return true
	}
	if f.Filter.MatchString(dev.Identity.Address) {
		return true
	}
	return dev.Named() && f.Filter.MatchString(dev.Name)
}

// Match returns the first entry matching dev, or nil.
func (f *Fleet) Match(dev ResolvedDevice) *FleetEntry {
	if f == nil {
		return nil
	}
	for i := range f.Entries {
		if f.Entries[i].Matches(dev) {
			return &f.Entries[i]
		}
	}
	return nil
}
