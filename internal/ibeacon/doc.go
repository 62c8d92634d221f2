// Package ibeacon encodes iBeacon identities into the byte blocks the
// controller's HCI LE advertising commands expect.
//
// Everything here is pure: no I/O, no clocks, no shared state.
package ibeacon
