package ibeacon

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Identity errors. Both are reported before any hardware is touched.
var (
	ErrInvalidIdentity = errors.New("INVALID_IDENTITY")
	ErrOutOfRange      = errors.New("OUT_OF_RANGE")
)

// Identity is a single iBeacon identity plus its calibrated 1 m power.
type Identity struct {
	UUID  uuid.UUID `json:"uuid"`
	Major uint16    `json:"major"`
	Minor uint16    `json:"minor"`
	RSSI  int8      `json:"rssi"`
}

// Key identifies a beacon for de-duplication. RSSI is not part of it.
type Key struct {
	UUID  uuid.UUID
	Major uint16
	Minor uint16
}

// ParseIdentity validates raw request values and builds an Identity.
// The UUID may be given in canonical hyphenated form or as 32 hex digits.
func ParseIdentity(rawUUID string, major, minor, rssi int) (Identity, error) {
	if len(rawUUID) != 36 && len(rawUUID) != 32 {
		return Identity{}, fmt.Errorf("%w: uuid %q has length %d", ErrInvalidIdentity, rawUUID, len(rawUUID))
	}
	u, err := uuid.Parse(rawUUID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: uuid %q: %v", ErrInvalidIdentity, rawUUID, err)
	}
	if major < 0 || major > 0xFFFF {
		return Identity{}, fmt.Errorf("%w: major %d not in [0, 65535]", ErrOutOfRange, major)
	}
	if minor < 0 || minor > 0xFFFF {
		return Identity{}, fmt.Errorf("%w: minor %d not in [0, 65535]", ErrOutOfRange, minor)
	}
	if rssi < -128 || rssi > 127 {
		return Identity{}, fmt.Errorf("%w: rssi %d not in [-128, 127]", ErrOutOfRange, rssi)
	}
	return Identity{UUID: u, Major: uint16(major), Minor: uint16(minor), RSSI: int8(rssi)}, nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(rawUUID string, major, minor, rssi int) Identity {
	id, err := ParseIdentity(rawUUID, major, minor, rssi)
	if err != nil {
		panic(err)
	}
	return id
}

// Key returns the de-duplication key of the identity.
func (id Identity) Key() Key {
	return Key{UUID: id.UUID, Major: id.Major, Minor: id.Minor}
}

// SameBeacon reports whether both identities name the same beacon.
func (id Identity) SameBeacon(other Identity) bool {
	return id.Key() == other.Key()
}

// Hex returns the UUID as 32 lowercase hex digits, no separators.
func (id Identity) Hex() string {
	return hex.EncodeToString(id.UUID[:])
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d/%d", id.UUID, id.Major, id.Minor)
}
