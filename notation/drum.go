package notation

import (
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

const drumLevels = 6 // five-line percussion staff plus one level of padding

// Drum sizes a percussion track: every hit is the same width regardless of
// the instrument, and rests are printed as in a score.
type Drum struct {
	opts Options
}

func (d *Drum) RegisterSymbolWidths(job *layout.Job, m *layout.MeasureDescriptor, track *sequence.Track, alloc *layout.SymbolSpaceAllocator) {
	for _, c := range chords(m, track) {
		w := d.opts.DrumHitWidth
		if len(c.notes) == 1 && hasFlag(c.notes[0].Duration(), job.Sequence.TicksPerBeat) {
			w += d.opts.FlagWidth
		}
		register(alloc, c.start, c.end, w, track.ID)
	}
	addRests(m, track, alloc, d.opts.RestWidth)
}

func (d *Drum) VerticalUnitsNeeded(*layout.Job, *sequence.Track, layout.MeasureSpan) (int, layout.TrackDetail) {
	return drumLevels, layout.TrackDetail{View: sequence.ViewDrum, LevelsAbove: 1}
}

func (d *Drum) LineHeaderWidth(*sequence.Track) float64 { return 2 * d.opts.DrumHitWidth }
