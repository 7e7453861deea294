package types

import (
	"math"
	"time"
)

// GridLayout is the coordinate system of one archive variable. Steps is nil
// when the variable has no forecast-lead axis.
type GridLayout struct {
	Lons  []float64
	Lats  []float64
	Times []time.Time
	Steps []time.Duration
}

// HasLead reports whether the variable carries a forecast-lead axis.
func (g *GridLayout) HasLead() bool {
	return g.Steps != nil
}

// Window selects a hyperslab of a variable by index. All ranges are
// half-open; the step axis is always read in full.
type Window struct {
	TimeLo, TimeHi int
	LatLo, LatHi   int
	LonLo, LonHi   int
}

// Block is a dense hyperslab in normalized (time, step, lat, lon) order.
// Variables without a lead axis have a step extent of 1. Missing values are
// NaN.
type Block struct {
	NTime, NStep, NLat, NLon int
	Values                   []float64
}

// NewBlock allocates a NaN-filled block.
func NewBlock(nTime, nStep, nLat, nLon int) *Block {
	vals := make([]float64, nTime*nStep*nLat*nLon)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return &Block{NTime: nTime, NStep: nStep, NLat: nLat, NLon: nLon, Values: vals}
}

// Index returns the flat offset of (t, s, la, lo).
func (b *Block) Index(t, s, la, lo int) int {
	return ((t*b.NStep+s)*b.NLat+la)*b.NLon + lo
}

// At returns the value at (t, s, la, lo).
func (b *Block) At(t, s, la, lo int) float64 {
	return b.Values[b.Index(t, s, la, lo)]
}

// Set stores v at (t, s, la, lo).
func (b *Block) Set(t, s, la, lo int, v float64) {
	b.Values[b.Index(t, s, la, lo)] = v
}
