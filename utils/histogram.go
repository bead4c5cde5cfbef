package utils

import (
	"io"

	"github.com/aybabtme/uniplot/histogram"
)

// Histogram keeps a tally of float values within a fixed range, arranged
// into a number of equal-width bins chosen at construction. Values outside
// the range are counted as overflow and do not land in any bin.
type Histogram struct {
	start, end float64
	overflow   int
	freq       []int
}

// NewHistogram creates a histogram over [start, end) with nBins bins.
func NewHistogram(start, end float64, nBins int) *Histogram {
	if nBins < 1 {
		nBins = 1
	}
	return &Histogram{
		start: start,
		end:   end,
		freq:  make([]int, nBins),
	}
}

// Add tallies a single value.
func (h *Histogram) Add(x float64) {
	if x < h.start || x >= h.end || h.end <= h.start {
		h.overflow++
		return
	}
	i := int(float64(len(h.freq)) * (x - h.start) / (h.end - h.start))
	h.freq[i]++
}

// AddAll tallies a sequence of values.
func (h *Histogram) AddAll(xs []float64) {
	for _, x := range xs {
		h.Add(x)
	}
}

// Count returns the total number of tallied values, overflow included.
func (h *Histogram) Count() int {
	n := h.overflow
	for _, f := range h.freq {
		n += f
	}
	return n
}

// Overflow returns the number of values that fell outside the range.
func (h *Histogram) Overflow() int {
	return h.overflow
}

// Bins returns the per-bin frequencies.
func (h *Histogram) Bins() []int {
	out := make([]int, len(h.freq))
	copy(out, h.freq)
	return out
}

// BinWidth returns the width of one bin.
func (h *Histogram) BinWidth() float64 {
	return (h.end - h.start) / float64(len(h.freq))
}

// Fprint renders the histogram as a horizontal bar chart.
func (h *Histogram) Fprint(w io.Writer) error {
	values := make([]float64, 0, h.Count()-h.overflow)
	for i, f := range h.freq {
		center := h.start + (float64(i)+0.5)*h.BinWidth()
		for j := 0; j < f; j++ {
			values = append(values, center)
		}
	}
	if len(values) == 0 {
		return nil
	}
	hist := histogram.Hist(len(h.freq), values)
	return histogram.Fprint(w, hist, histogram.Linear(40))
}
