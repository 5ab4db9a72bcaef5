package mculink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// TelemetryKind tags the first byte of a broadcast frame's payload,
// distinguishing the closed set of unsolicited telemetry variants the
// firmware emits.
type TelemetryKind uint8

const (
	TelemetryTemperature TelemetryKind = 0x01
	TelemetryBattery     TelemetryKind = 0x02
	TelemetryButton      TelemetryKind = 0x03
	TelemetryGPS         TelemetryKind = 0x04
	TelemetryFanStatus   TelemetryKind = 0x05
)

// Temperature is a single sensor reading, in hundredths of a degree Celsius.
type Temperature struct {
	Source      uint8
	Centidegree int16
}

// Battery reports state of charge and charging status.
type Battery struct {
	PercentCharge uint8
	IsCharging    bool
}

// Button reports the physical button's pressed/released edge.
type Button struct {
	Pressed bool
}

// GPSFix reports the latest NMEA-derived position, if any satellites are in
// view. It is produced by ParseGPSFix from a reassembled NMEA sentence, not
// decoded directly off the wire.
type GPSFix struct {
	LatitudeE7, LongitudeE7 int32
	SatelliteCount          uint8
}

// GPSFragment is half of a two-part NMEA sentence the firmware splits across
// two broadcast frames because a full sentence doesn't fit one frame's
// payload. Counter is even for the first half, odd for the second; a
// GPSReassembler joins two fragments whose counters are consecutive.
type GPSFragment struct {
	Counter uint8
	Part    string
}

// FanStatus reports a fan's measured speed in RPM.
type FanStatus struct {
	FanID         uint8
	MeasuredSpeed uint16
}

// ErrUnknownTelemetry is returned by DecodeTelemetry for a kind tag this
// build doesn't recognize.
type ErrUnknownTelemetry struct{ Kind TelemetryKind }

func (e ErrUnknownTelemetry) Error() string {
	return fmt.Sprintf("mculink: unknown telemetry kind 0x%02x", e.Kind)
}

// DecodeTelemetry parses a broadcast frame's payload into one of the
// concrete telemetry types above. The caller type-switches on the result.
func DecodeTelemetry(f Frame) (any, error) {
	if len(f.Payload) < 1 {
		return nil, ErrInvalidFrame{Reason: "empty telemetry payload"}
	}
	kind := TelemetryKind(f.Payload[0])
	body := f.Payload[1:]

	switch kind {
	case TelemetryTemperature:
		if len(body) < 3 {
			return nil, ErrInvalidFrame{Reason: "short temperature payload"}
		}
		return Temperature{
			Source:      body[0],
			Centidegree: int16(binary.LittleEndian.Uint16(body[1:3])),
		}, nil
	case TelemetryBattery:
		if len(body) < 2 {
			return nil, ErrInvalidFrame{Reason: "short battery payload"}
		}
		return Battery{PercentCharge: body[0], IsCharging: body[1] != 0}, nil
	case TelemetryButton:
		if len(body) < 1 {
			return nil, ErrInvalidFrame{Reason: "short button payload"}
		}
		return Button{Pressed: body[0] != 0}, nil
	case TelemetryGPS:
		if len(body) < 1 {
			return nil, ErrInvalidFrame{Reason: "short GPS payload"}
		}
		return GPSFragment{Counter: body[0], Part: string(body[1:])}, nil
	case TelemetryFanStatus:
		if len(body) < 3 {
			return nil, ErrInvalidFrame{Reason: "short fan status payload"}
		}
		return FanStatus{
			FanID:         body[0],
			MeasuredSpeed: binary.LittleEndian.Uint16(body[1:3]),
		}, nil
	default:
		return nil, ErrUnknownTelemetry{Kind: kind}
	}
}

// GPSReassembler joins two-part NMEA fragments matched by consecutive
// counters: an even counter starts a sentence, and the next odd counter
// (the previous counter plus one) completes it. A fragment that arrives out
// of sequence discards whatever half-sentence was pending rather than
// concatenating mismatched halves.
type GPSReassembler struct {
	pending *GPSFragment
}

// Feed consumes one fragment and reports the reassembled sentence once both
// halves have arrived in the right order; complete is false while the
// reassembler is still waiting on a second half or just dropped a
// mismatched one.
func (r *GPSReassembler) Feed(frag GPSFragment) (sentence string, complete bool) {
	if frag.Counter%2 == 0 {
		f := frag
		r.pending = &f
		return "", false
	}
	if r.pending == nil || frag.Counter != r.pending.Counter+1 {
		r.pending = nil
		return "", false
	}
	sentence = r.pending.Part + frag.Part
	r.pending = nil
	return sentence, true
}

// ParseGPSFix parses a single reassembled NMEA sentence into a GPSFix. Only
// the GGA sentence type, the one the firmware emits, is supported; any other
// sentence type or a malformed field is reported as an error so the caller
// can log and drop it instead of propagating a zero-value fix.
func ParseGPSFix(sentence string) (GPSFix, error) {
	sentence = strings.TrimSpace(sentence)
	if idx := strings.IndexByte(sentence, '*'); idx >= 0 {
		sentence = sentence[:idx]
	}
	fields := strings.Split(sentence, ",")
	if len(fields) < 10 {
		return GPSFix{}, fmt.Errorf("mculink: malformed NMEA sentence: too few fields")
	}
	if !strings.HasSuffix(fields[0], "GGA") {
		return GPSFix{}, fmt.Errorf("mculink: unsupported NMEA sentence type %q", fields[0])
	}

	lat, err := parseNMEACoordinate(fields[2], fields[3], 2)
	if err != nil {
		return GPSFix{}, fmt.Errorf("mculink: parse latitude: %w", err)
	}
	lon, err := parseNMEACoordinate(fields[4], fields[5], 3)
	if err != nil {
		return GPSFix{}, fmt.Errorf("mculink: parse longitude: %w", err)
	}
	sats, err := strconv.ParseUint(fields[7], 10, 8)
	if err != nil {
		return GPSFix{}, fmt.Errorf("mculink: parse satellite count: %w", err)
	}

	return GPSFix{
		LatitudeE7:     lat,
		LongitudeE7:    lon,
		SatelliteCount: uint8(sats),
	}, nil
}

// parseNMEACoordinate converts an NMEA ddmm.mmmm (or dddmm.mmmm for
// longitude) coordinate field plus its hemisphere letter into degrees * 1e7.
// degreeDigits is 2 for latitude, 3 for longitude.
func parseNMEACoordinate(raw, hemisphere string, degreeDigits int) (int32, error) {
	if len(raw) < degreeDigits+1 {
		return 0, fmt.Errorf("mculink: coordinate field too short: %q", raw)
	}
	degrees, err := strconv.Atoi(raw[:degreeDigits])
	if err != nil {
		return 0, fmt.Errorf("mculink: coordinate degrees: %w", err)
	}
	minutes, err := strconv.ParseFloat(raw[degreeDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("mculink: coordinate minutes: %w", err)
	}
	value := int32((float64(degrees) + minutes/60) * 1e7)
	switch hemisphere {
	case "S", "W":
		value = -value
	case "N", "E":
	default:
		return 0, fmt.Errorf("mculink: unrecognized hemisphere %q", hemisphere)
	}
	return value, nil
}
