// Package broadcast owns the set of active iBeacon identities and drives the
// radio so that every one of them is advertised.
//
// One identity is advertised continuously. Two or more are time-multiplexed
// by a background loop that reprograms the radio for each identity in turn
// and holds it for a dwell period. Every mode change stops the loop and waits
// for it, bounded by a grace period, before the radio is touched again.
package broadcast
