package ibeacon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/adv"
	"github.com/google/uuid"
)

// AdvertisingDataLen is the length of an iBeacon advertising data block.
const AdvertisingDataLen = 30

// LE General Discoverable | BR/EDR Not Supported
const advFlags byte = 0x06

var ErrNotIBeacon = errors.New("NOT_IBEACON")

// iBeacon prefix: flags AD, manufacturer AD header, Apple id, type, length.
var prefix = []byte{0x02, 0x01, advFlags, 0x1A, 0xFF, 0x4C, 0x00, 0x02, 0x15}

// AdvertisingData returns the 30 byte advertising data for id.
func AdvertisingData(id Identity) []byte {
	// ble.UUID is stored little-endian.
	u := ble.UUID(ble.Reverse(id.UUID[:]))
	p, err := adv.NewPacket(
		adv.Flags(advFlags),
		adv.IBeacon(u, id.Major, id.Minor, id.RSSI),
	)
	if err != nil {
		// Cannot happen: flags and one iBeacon field always fit in 31 bytes.
		panic(fmt.Sprintf("ibeacon: build packet: %v", err))
	}
	out := make([]byte, len(p.Bytes()))
	copy(out, p.Bytes())
	return out
}

// ParseAdvertisingData decodes an iBeacon advertising block. It accepts the
// 30 byte block or the 31 byte form with the significant length prefix.
func ParseAdvertisingData(b []byte) (Identity, error) {
	if len(b) == AdvertisingDataLen+1 && int(b[0]) == AdvertisingDataLen {
		b = b[1:]
	}
	if len(b) != AdvertisingDataLen {
		return Identity{}, fmt.Errorf("%w: length %d", ErrNotIBeacon, len(b))
	}
	for i, v := range prefix {
		if b[i] != v {
			return Identity{}, fmt.Errorf("%w: byte %d is %#02x, want %#02x", ErrNotIBeacon, i, b[i], v)
		}
	}
	body := b[len(prefix):]
	u, err := uuid.FromBytes(body[:16])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNotIBeacon, err)
	}
	return Identity{
		UUID:  u,
		Major: binary.BigEndian.Uint16(body[16:18]),
		Minor: binary.BigEndian.Uint16(body[18:20]),
		RSSI:  int8(body[20]),
	}, nil
}
