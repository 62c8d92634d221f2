// Package adapter defines the radio command sink the broadcast scheduler
// drives, the HCI command value it submits, and the normalized radio errors
// every sink reports.
//
// Implementations:
//   - hcitool: host CLI tools (hciconfig/hcitool), production
//   - fake: in-memory recording sink for tests
package adapter
