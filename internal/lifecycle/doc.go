// Package lifecycle owns the authoritative set of visible notifications. It
// implements admission (immediate, debounced), auto-expiry, supersession and
// idempotent dismissal, and publishes snapshots to registered observers.
package lifecycle
