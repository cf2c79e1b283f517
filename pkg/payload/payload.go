// Package payload serializes one measurement cycle's readings into the
// fixed-layout binary record carried in an uplink. The layout is
// constant-size: absent sensors are flagged in a presence bitmap and
// their slots zero-filled, so the radio cost of a record never varies.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/envsense/aqnode/pkg/sensor"
)

const (
	// Version is the leading format-version byte of the current layout.
	Version = 0x01
	// Size is the encoded record size in bytes.
	Size = 18
)

// Presence bitmap bits, one per tracked sensor.
const (
	FlagParticulate = 1 << 0
	FlagTempRH      = 1 << 1
	FlagVOC         = 1 << 2
)

// ErrOversize means the assembled record would exceed the uplink's
// maximum payload size for the current data rate. The cycle must be
// abandoned rather than sent truncated.
var ErrOversize = errors.New("payload: record exceeds uplink payload limit")

// ErrBadPayload means bytes do not decode as a known record layout.
var ErrBadPayload = errors.New("payload: malformed record")

// Record is the unit assembled once per measurement cycle: one optional
// reading slot per tracked sensor, a monotonic sequence number and the
// cycle timestamp.
type Record struct {
	Seq      uint32
	At       time.Time
	Readings map[sensor.ID]sensor.Reading
}

// Present reports whether the record carries a reading for id.
func (r Record) Present(id sensor.ID) bool {
	rd, ok := r.Readings[id]
	return ok && rd.Valid
}

// Build encodes the record. limit is the uplink's current maximum
// payload size; Build fails with ErrOversize instead of truncating.
// Output is deterministic: fixed field order, fixed width.
//
// Layout (big-endian):
//
//	[0]     version
//	[1]     presence bitmap
//	[2:4]   sequence number (low 16 bits)
//	[4:6]   PM1.0 µg/m³        [6:8]  PM2.5    [8:10] PM10
//	[10:12] temperature, centi-°C, signed
//	[12:14] relative humidity, centi-%
//	[14:16] TVOC ppb
//	[16:18] eCO2 ppm
func Build(rec Record, limit int) ([]byte, error) {
	if Size > limit {
		return nil, fmt.Errorf("%w: need %d bytes, limit %d", ErrOversize, Size, limit)
	}

	b := make([]byte, Size)
	b[0] = Version
	binary.BigEndian.PutUint16(b[2:4], uint16(rec.Seq))

	var present byte
	if rec.Present(sensor.Particulate) {
		present |= FlagParticulate
		v := rec.Readings[sensor.Particulate].Values
		binary.BigEndian.PutUint16(b[4:6], v.PM1p0)
		binary.BigEndian.PutUint16(b[6:8], v.PM2p5)
		binary.BigEndian.PutUint16(b[8:10], v.PM10)
	}
	if rec.Present(sensor.TempRH) {
		present |= FlagTempRH
		v := rec.Readings[sensor.TempRH].Values
		binary.BigEndian.PutUint16(b[10:12], uint16(encodeCenti(v.TempC, -327.68, 327.67)))
		binary.BigEndian.PutUint16(b[12:14], uint16(encodeCenti(v.RH, 0, 100)))
	}
	if rec.Present(sensor.VOC) {
		present |= FlagVOC
		v := rec.Readings[sensor.VOC].Values
		binary.BigEndian.PutUint16(b[14:16], v.TVOCppb)
		binary.BigEndian.PutUint16(b[16:18], v.ECO2ppm)
	}
	b[1] = present

	return b, nil
}

// Decode parses an encoded record back into its readings. Used by tests
// and diagnostic tooling; the node itself only encodes.
func Decode(b []byte) (Record, error) {
	if len(b) != Size {
		return Record{}, fmt.Errorf("%w: length %d, want %d", ErrBadPayload, len(b), Size)
	}
	if b[0] != Version {
		return Record{}, fmt.Errorf("%w: version 0x%02x", ErrBadPayload, b[0])
	}

	rec := Record{
		Seq:      uint32(binary.BigEndian.Uint16(b[2:4])),
		Readings: make(map[sensor.ID]sensor.Reading),
	}
	present := b[1]
	if present&FlagParticulate != 0 {
		rec.Readings[sensor.Particulate] = sensor.Reading{
			Sensor: sensor.Particulate,
			Valid:  true,
			Values: sensor.Values{
				PM1p0: binary.BigEndian.Uint16(b[4:6]),
				PM2p5: binary.BigEndian.Uint16(b[6:8]),
				PM10:  binary.BigEndian.Uint16(b[8:10]),
			},
		}
	}
	if present&FlagTempRH != 0 {
		rec.Readings[sensor.TempRH] = sensor.Reading{
			Sensor: sensor.TempRH,
			Valid:  true,
			Values: sensor.Values{
				TempC: float32(int16(binary.BigEndian.Uint16(b[10:12]))) / 100,
				RH:    float32(binary.BigEndian.Uint16(b[12:14])) / 100,
			},
		}
	}
	if present&FlagVOC != 0 {
		rec.Readings[sensor.VOC] = sensor.Reading{
			Sensor: sensor.VOC,
			Valid:  true,
			Values: sensor.Values{
				TVOCppb: binary.BigEndian.Uint16(b[14:16]),
				ECO2ppm: binary.BigEndian.Uint16(b[16:18]),
			},
		}
	}
	return rec, nil
}

// encodeCenti converts a float32 quantity to hundredths, clamped to the
// representable range.
func encodeCenti(v, lo, hi float32) int16 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int16(math32.Round(v * 100))
}
