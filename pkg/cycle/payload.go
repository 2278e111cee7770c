package cycle

import (
	"errors"
	"fmt"
	"math"
)

// MaxPayloadLen is the size of the device's payload buffer; a formatted
// payload must be strictly shorter.
const MaxPayloadLen = 50

var (
	ErrPayloadTooLong = errors.New("payload exceeds buffer")
	ErrInvalidReading = errors.New("humidity is not a finite number")
)

// FormatPayload renders {"humidity": <h>} with one decimal place.
func FormatPayload(humidity float64) ([]byte, error) {
	if math.IsNaN(humidity) || math.IsInf(humidity, 0) {
		return nil, ErrInvalidReading
	}
	b := fmt.Appendf(make([]byte, 0, MaxPayloadLen), `{"humidity": %.1f}`, humidity)
	if len(b) >= MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(b))
	}
	return b, nil
}
