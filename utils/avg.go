package utils

import (
	"math"
	"sync/atomic"
)

// Ewma is an exponentially weighted moving average. The first sample is
// taken as is.
type Ewma struct {
	alpha  float64
	bits   atomic.Uint64
	primed atomic.Bool
}

// NewEwma weighs each new sample by alpha, which must be in (0, 1].
func NewEwma(alpha float64) *Ewma {
	return &Ewma{alpha: alpha}
}

func (e *Ewma) Add(sample float64) {
	if e.primed.CompareAndSwap(false, true) {
		e.bits.Store(math.Float64bits(sample))
		return
	}
	for {
		old := e.bits.Load()
		v := math.Float64frombits(old)
		next := v + e.alpha*(sample-v)
		if e.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

func (e *Ewma) Val() float64 {
	return math.Float64frombits(e.bits.Load())
}
