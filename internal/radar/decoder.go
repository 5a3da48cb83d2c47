// Package radar decodes the unit's serial speed protocol and correlates
// decoded readings against vision-estimated speeds.
package radar

// FrameSize is the number of bytes read from the serial port per poll.
const FrameSize = 4

// Direction indicates whether the target moves toward or away from the unit.
type Direction string

const (
	DirectionApproaching Direction = "approaching"
	DirectionReceding    Direction = "receding"
)

// TargetType identifies which of the radar's tracked targets produced a
// reading.
type TargetType string

const (
	TargetPrimary TargetType = "primary"
	TargetLeading TargetType = "leading"
)

// SpeedReading is a single decoded speed report. Immutable once decoded.
type SpeedReading struct {
	Speed     int
	Direction Direction
	Target    TargetType
}

// Frame markers. The fourth byte of a data frame is always zero; the radar
// emits many non-data frames which simply fail to match.
const (
	primaryMarker0 = 0xFC
	primaryMarker1 = 0xFA
	leadingMarker0 = 0xFB
	leadingMarker1 = 0xFD
)

// DecodeFrame decodes a 4-byte frame into a speed reading. It returns false
// for short frames, unknown markers, and out-of-range magnitudes; none of
// these are errors, they are routine radar chatter.
func DecodeFrame(frame []byte) (SpeedReading, bool) {
	if len(frame) < FrameSize || frame[3] != 0x00 {
		return SpeedReading{}, false
	}

	switch {
	case frame[0] == primaryMarker0 && frame[1] == primaryMarker1:
		speed := frame[2]
		if speed < 0x0F || speed > 0xFA {
			return SpeedReading{}, false
		}
		return SpeedReading{
			Speed:     int(speed),
			Direction: DirectionApproaching,
			Target:    TargetPrimary,
		}, true

	case frame[0] == leadingMarker0 && frame[1] == leadingMarker1:
		speed := frame[2]
		if speed > 0xFA {
			return SpeedReading{}, false
		}
		return SpeedReading{
			Speed:     int(speed),
			Direction: DirectionReceding,
			Target:    TargetLeading,
		}, true
	}

	return SpeedReading{}, false
}
