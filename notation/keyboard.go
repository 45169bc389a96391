package notation

import (
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// Keyboard sizes a piano-roll track, where horizontal space follows duration.
type Keyboard struct {
	opts Options
}

const minKeyboardLevels = 4

func (k *Keyboard) RegisterSymbolWidths(job *layout.Job, m *layout.MeasureDescriptor, track *sequence.Track, alloc *layout.SymbolSpaceAllocator) {
	tpb := float64(job.Sequence.TicksPerBeat)
	for _, c := range chords(m, track) {
		w := max(k.opts.KeyboardTickWidth*float64(c.end-c.start)/tpb, k.opts.NoteHeadWidth)
		register(alloc, c.start, c.end, w, track.ID)
	}
	// Empty stretches still take time in a roll.
	for _, g := range track.Silences(m.FirstTick, m.LastTick) {
		register(alloc, g.Start, g.End, k.opts.KeyboardTickWidth*float64(g.End-g.Start)/tpb, track.ID)
	}
}

func (k *Keyboard) VerticalUnitsNeeded(job *layout.Job, track *sequence.Track, span layout.MeasureSpan) (int, layout.TrackDetail) {
	detail := layout.TrackDetail{View: sequence.ViewKeyboard}
	low, high, ok := job.SpanPitchRange(track, span)
	if !ok {
		return minKeyboardLevels, detail
	}
	detail.PitchLow, detail.PitchHigh = low, high
	per := max(k.opts.KeyboardKeysPerLevel, 1)
	return max(ceilDiv(high-low+1, per)+2, minKeyboardLevels), detail
}

func (k *Keyboard) LineHeaderWidth(*sequence.Track) float64 { return 2 * k.opts.NoteHeadWidth }
