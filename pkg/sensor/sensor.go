package sensor

import "time"

// MaxRaw12Bit is the top of the 12-bit ADC range the percentage is scaled against.
const MaxRaw12Bit = 4095

type Reading struct {
	Raw       int       `json:"raw"`
	Humidity  float64   `json:"humidity"`
	Timestamp time.Time `json:"timestamp"`
}

// Source returns one raw sample per call from a fixed analog input.
type Source interface {
	ReadRaw() (int, error)
	Close() error
}

// Reader turns raw samples into humidity percentages.
type Reader struct {
	src    Source
	maxRaw int
	now    func() time.Time
}

func NewReader(src Source, maxRaw int) *Reader {
	if maxRaw <= 0 {
		maxRaw = MaxRaw12Bit
	}
	return &Reader{src: src, maxRaw: maxRaw, now: time.Now}
}

// Read samples the source once. The result is not clamped: a raw value above
// maxRaw yields a humidity above 100.
func (r *Reader) Read() (Reading, error) {
	raw, err := r.src.ReadRaw()
	if err != nil {
		return Reading{}, err
	}
	return Reading{Raw: raw, Humidity: Percent(raw, r.maxRaw), Timestamp: r.now()}, nil
}

func (r *Reader) Close() error { return r.src.Close() }
