// Package notation sizes tracks for the print layout: one layout.Notation per
// view (score, tablature, keyboard roll and drum staff). It decides how wide
// every symbol is and how many levels a track needs on a line; it never draws.
package notation

import (
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// Options holds symbol sizes in abstract layout units.
type Options struct {
	NoteHeadWidth   float64
	AccidentalWidth float64
	DotWidth        float64
	FlagWidth       float64
	RestWidth       float64
	DigitWidth      float64 // one tablature fret digit
	DrumHitWidth    float64
	// KeyboardTickWidth is the width of one beat in the keyboard roll.
	KeyboardTickWidth float64
	// KeyboardKeysPerLevel is how many semitones share one level in the roll.
	KeyboardKeysPerLevel int
	// MaxLedgerLevels caps ledger-line space above and below the staff.
	MaxLedgerLevels int
}

// DefaultOptions matches layout.DefaultOptions, where one abstract unit is
// roughly a millimetre.
func DefaultOptions() Options {
	return Options{
		NoteHeadWidth:        3.5,
		AccidentalWidth:      2,
		DotWidth:             1,
		FlagWidth:            1.5,
		RestWidth:            3,
		DigitWidth:           1.8,
		DrumHitWidth:         3.5,
		KeyboardTickWidth:    6,
		KeyboardKeysPerLevel: 3,
		MaxLedgerLevels:      5,
	}
}

// Resolver returns a layout.NotationResolver that picks a backend from the
// track's view. Every backend shares opts.
func Resolver(opts Options) layout.NotationResolver {
	score := &Score{opts: opts}
	tab := &Tablature{opts: opts}
	keys := &Keyboard{opts: opts}
	drum := &Drum{opts: opts}
	return func(t *sequence.Track) layout.Notation {
		switch t.View {
		case sequence.ViewTablature:
			return tab
		case sequence.ViewKeyboard:
			return keys
		case sequence.ViewDrum:
			return drum
		default:
			return score
		}
	}
}

// chord is the group of notes starting on the same tick.
type chord struct {
	start int
	end   int // exclusive end of the symbol's slot, clipped to the measure
	notes []sequence.Note
}

// chords groups the notes starting in m by start tick. Each chord's slot runs
// to the next chord's start, the end of its longest note, or the barline,
// whichever comes first.
func chords(m *layout.MeasureDescriptor, track *sequence.Track) []chord {
	notes := m.Notes(track)
	var out []chord
	for i := 0; i < len(notes); {
		j := i
		end := notes[i].End
		for j < len(notes) && notes[j].Start == notes[i].Start {
			end = max(end, notes[j].End)
			j++
		}
		c := chord{start: notes[i].Start, end: min(end, m.LastTick), notes: notes[i:j]}
		if j < len(notes) {
			c.end = min(c.end, notes[j].Start)
		}
		out = append(out, c)
		i = j
	}
	return out
}

// addRests registers the track's silences inside m with a fixed width.
func addRests(m *layout.MeasureDescriptor, track *sequence.Track, alloc *layout.SymbolSpaceAllocator, width float64) {
	gaps := track.Silences(m.FirstTick, m.LastTick)
	rests := make([]layout.SilenceSymbol, 0, len(gaps))
	for _, g := range gaps {
		rests = append(rests, layout.SilenceSymbol{From: g.Start, To: g.End, Width: width})
	}
	alloc.AddSilenceSymbols(rests, track.ID, m.FirstTick, m.LastTick)
}

// register adds one symbol; rejected requests are already recorded as
// diagnostics by the allocator.
func register(alloc *layout.SymbolSpaceAllocator, from, to int, width float64, track int) {
	_ = alloc.AddSymbol(from, to, width, track)
}

// Duration classes relative to the sequence resolution.

func isDotted(dur, ticksPerBeat int) bool {
	for v := ticksPerBeat * 4; v >= 2; v /= 2 {
		if dur*2 == v*3 {
			return true
		}
	}
	return false
}

func hasFlag(dur, ticksPerBeat int) bool { return dur < ticksPerBeat }

var blackKeys = [12]bool{1: true, 3: true, 6: true, 8: true, 10: true}

func needsAccidental(pitch int) bool { return blackKeys[((pitch%12)+12)%12] }

// diatonic maps a MIDI pitch to a staff step; sharps share the step of the
// natural below them.
func diatonic(pitch int) int {
	steps := [12]int{0, 0, 1, 1, 2, 3, 3, 4, 4, 5, 5, 6}
	oct := pitch / 12
	pc := pitch % 12
	if pc < 0 {
		pc += 12
		oct--
	}
	return oct*7 + steps[pc]
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
