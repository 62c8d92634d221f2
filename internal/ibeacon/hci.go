package ibeacon

import (
	"encoding/binary"
	"fmt"
)

// HCI LE controller command group and the opcodes used for advertising.
const (
	OGFLEController         uint8  = 0x08
	OCFSetAdvertisingParams uint16 = 0x0006
	OCFSetAdvertisingData   uint16 = 0x0008
	OCFSetAdvertiseEnable   uint16 = 0x000A
)

// Advertising interval limits in milliseconds (0x0020..0x4000 ticks).
const (
	MinIntervalMs = 20
	MaxIntervalMs = 10240
)

// advertising parameters after the two interval fields: non-connectable
// undirected, public own address, public peer 00:00:00:00:00:00, all three
// channels, no filter policy.
var advParamsTail = []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 0x00}

// SetAdvertisingDataParams returns the LE Set Advertising Data parameter
// block: the significant length followed by the advertising data.
func SetAdvertisingDataParams(id Identity) []byte {
	data := AdvertisingData(id)
	return append([]byte{byte(len(data))}, data...)
}

// Ticks converts milliseconds to 0.625 ms controller units, truncating.
func Ticks(ms int) int {
	return int(float64(ms) * 1.6)
}

// EncodeInterval encodes min and max advertising intervals as two
// little-endian tick counts.
func EncodeInterval(minMs, maxMs int) ([]byte, error) {
	if minMs < MinIntervalMs || maxMs > MaxIntervalMs || minMs > maxMs {
		return nil, fmt.Errorf("%w: interval %d..%d ms not within %d..%d ms", ErrOutOfRange, minMs, maxMs, MinIntervalMs, MaxIntervalMs)
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], uint16(Ticks(minMs)))
	binary.LittleEndian.PutUint16(b[2:4], uint16(Ticks(maxMs)))
	return b, nil
}

// SetAdvertisingParametersParams returns the LE Set Advertising Parameters
// parameter block for the given interval.
func SetAdvertisingParametersParams(minMs, maxMs int) ([]byte, error) {
	iv, err := EncodeInterval(minMs, maxMs)
	if err != nil {
		return nil, err
	}
	return append(iv, advParamsTail...), nil
}

// AdvertiseEnableParams returns the LE Set Advertise Enable parameter block.
func AdvertiseEnableParams(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}
