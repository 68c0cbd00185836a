package score

import (
	"math"
	"strconv"
)

// Points is a score held in hundredths so that totals compare exactly.
type Points int64

// RoundPoints rounds half away from zero to two decimals. The first rounding
// to six places absorbs binary representation noise (1.005 -> 1.01).
func RoundPoints(v float64) Points {
	micro := math.Round(v * 1e6)
	return Points(math.Round(micro / 1e4))
}

func (p Points) Float64() float64 {
	return float64(p) / 100
}

func (p Points) String() string {
	return strconv.FormatFloat(p.Float64(), 'f', 2, 64)
}

func (p Points) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Points) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*p = RoundPoints(v)
	return nil
}
