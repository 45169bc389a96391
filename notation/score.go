package notation

import (
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// Treble staff: bottom line E4, top line F5.
const (
	staffBottomPitch = 64
	staffTopPitch    = 77
	staffLevels      = 4 // five lines, four spaces
	staffPadding     = 2 // levels kept free above and below the staff
)

// Score sizes a track printed on a five-line staff.
type Score struct {
	opts Options
}

func (s *Score) RegisterSymbolWidths(job *layout.Job, m *layout.MeasureDescriptor, track *sequence.Track, alloc *layout.SymbolSpaceAllocator) {
	tpb := job.Sequence.TicksPerBeat
	for _, c := range chords(m, track) {
		w := s.opts.NoteHeadWidth
		var accidental, dotted bool
		for _, n := range c.notes {
			accidental = accidental || needsAccidental(n.Pitch)
			dotted = dotted || isDotted(n.Duration(), tpb)
		}
		if accidental {
			w += s.opts.AccidentalWidth
		}
		if dotted {
			w += s.opts.DotWidth
		}
		// Chords are beamed or stemmed together; only lone short notes carry a flag.
		if len(c.notes) == 1 && hasFlag(c.notes[0].Duration(), tpb) {
			w += s.opts.FlagWidth
		}
		register(alloc, c.start, c.end, w, track.ID)
	}
	addRests(m, track, alloc, s.opts.RestWidth)
}

// VerticalUnitsNeeded returns the staff plus room for ledger lines needed by
// the highest and lowest pitch on the line.
func (s *Score) VerticalUnitsNeeded(job *layout.Job, track *sequence.Track, span layout.MeasureSpan) (int, layout.TrackDetail) {
	detail := layout.TrackDetail{View: sequence.ViewScore}
	above, below := 0, 0
	if low, high, ok := job.SpanPitchRange(track, span); ok {
		detail.PitchLow, detail.PitchHigh = low, high
		above = min(ceilDiv(diatonic(high)-diatonic(staffTopPitch), 2), s.opts.MaxLedgerLevels)
		below = min(ceilDiv(diatonic(staffBottomPitch)-diatonic(low), 2), s.opts.MaxLedgerLevels)
	}
	detail.LevelsAbove = staffPadding + above
	return staffLevels + 2*staffPadding + above + below, detail
}

// LineHeaderWidth covers the clef.
func (s *Score) LineHeaderWidth(*sequence.Track) float64 { return 4 * s.opts.NoteHeadWidth }
