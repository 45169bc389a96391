package notation

import (
	"strconv"

	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// Tablature sizes a fretted instrument track: one line per string, fret
// numbers written on the lines.
type Tablature struct {
	opts Options
}

// fret returns the fret to print for n. Notes without an explicit string are
// placed on the highest string that can play them.
func fret(n sequence.Note, tuning []int) int {
	if n.String > 0 && n.String <= len(tuning) {
		return n.Fret
	}
	best := -1
	for _, open := range tuning {
		if f := n.Pitch - open; f >= 0 && (best < 0 || f < best) {
			best = f
		}
	}
	return max(best, 0)
}

func (tb *Tablature) RegisterSymbolWidths(job *layout.Job, m *layout.MeasureDescriptor, track *sequence.Track, alloc *layout.SymbolSpaceAllocator) {
	tuning := track.Strings()
	for _, c := range chords(m, track) {
		digits := 1
		for _, n := range c.notes {
			digits = max(digits, len(strconv.Itoa(fret(n, tuning))))
		}
		register(alloc, c.start, c.end, float64(digits)*tb.opts.DigitWidth+tb.opts.DotWidth, track.ID)
	}
}

// VerticalUnitsNeeded is one level between each pair of strings plus one for
// the rhythm stems below.
func (tb *Tablature) VerticalUnitsNeeded(_ *layout.Job, track *sequence.Track, _ layout.MeasureSpan) (int, layout.TrackDetail) {
	strings := len(track.Strings())
	return strings + 1, layout.TrackDetail{View: sequence.ViewTablature, Strings: strings}
}

func (tb *Tablature) LineHeaderWidth(*sequence.Track) float64 { return 3 * tb.opts.DigitWidth }
