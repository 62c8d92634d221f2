// Package audit writes one JSON line per broadcast control action to a
// size-rotated audit log.
package audit
