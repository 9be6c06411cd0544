package economy

import "golang.org/x/exp/constraints"

// PriceBand bounds a good's market price. Base anchors repricing and is
// the quote for goods that have not traded yet.
type PriceBand struct {
	Base float64 `json:"base" yaml:"base"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// Clamp restricts price to the band.
func (b PriceBand) Clamp(price float64) float64 {
	return clamp(price, b.Min, b.Max)
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
