// Package sequence holds the read-only musical data consumed by the print
// layout engine: tracks of notes measured in ticks, and the measure grid
// derived from time signatures.
package sequence

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultTicksPerBeat is used when a sequence does not specify its resolution.
const DefaultTicksPerBeat = 960

// Sentinel validation errors.
var (
	ErrNoMeasures       = errors.New("sequence has no measures")
	ErrInvalidSignature = errors.New("invalid time signature")
	ErrInvalidNote      = errors.New("invalid note")
	ErrDuplicateTrack   = errors.New("duplicate track id")
)

// TimeSignature starts at Measure and stays in effect until the next one.
type TimeSignature struct {
	Measure int `yaml:"measure" toml:"measure" json:"measure"`
	Num     int `yaml:"num" toml:"num" json:"num"`
	Denom   int `yaml:"denom" toml:"denom" json:"denom"`
}

// Sequence is a complete song: a measure grid plus the tracks printed on it.
type Sequence struct {
	Title        string            `yaml:"title" toml:"title" json:"title"`
	Meta         map[string]string `yaml:"meta,omitempty" toml:"meta,omitempty" json:"meta,omitempty"`
	TicksPerBeat int               `yaml:"ticksPerBeat" toml:"ticksPerBeat" json:"ticksPerBeat"`
	Measures     int               `yaml:"measures" toml:"measures" json:"measures"`
	Signatures   []TimeSignature   `yaml:"signatures,omitempty" toml:"signatures,omitempty" json:"signatures,omitempty"`
	Tracks       []*Track          `yaml:"tracks" toml:"tracks" json:"tracks"`

	// measureStarts[i] is the first tick of measure i; the extra trailing
	// entry is the end of the song.
	measureStarts []int
}

// Prepare sorts signatures and notes and computes the measure grid. It must
// be called after the sequence is assembled and before it is laid out;
// loaders call it for you.
func (s *Sequence) Prepare() error {
	if s.TicksPerBeat <= 0 {
		s.TicksPerBeat = DefaultTicksPerBeat
	}
	sort.SliceStable(s.Signatures, func(i, j int) bool {
		return s.Signatures[i].Measure < s.Signatures[j].Measure
	})
	for _, t := range s.Tracks {
		t.Sort()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Measures <= 0 {
		s.Measures = s.inferMeasures()
	}
	if s.Measures <= 0 {
		return ErrNoMeasures
	}
	s.measureStarts = make([]int, s.Measures+1)
	tick := 0
	for m := 0; m < s.Measures; m++ {
		s.measureStarts[m] = tick
		tick += s.measureLength(s.SignatureAt(m))
	}
	s.measureStarts[s.Measures] = tick
	return nil
}

// Validate checks signatures and notes without touching derived state.
func (s *Sequence) Validate() error {
	tpb := s.TicksPerBeat
	if tpb <= 0 {
		tpb = DefaultTicksPerBeat
	}
	for _, sig := range s.Signatures {
		if sig.Measure < 0 || sig.Num <= 0 || sig.Denom <= 0 || sig.Denom&(sig.Denom-1) != 0 {
			return fmt.Errorf("%w: %d/%d at measure %d", ErrInvalidSignature, sig.Num, sig.Denom, sig.Measure)
		}
		// 小节长度必须是正的整数 tick
		if whole := tpb * 4 * sig.Num; whole%sig.Denom != 0 {
			return fmt.Errorf("%w: %d/%d is not a whole number of ticks at %d ticks per beat",
				ErrInvalidSignature, sig.Num, sig.Denom, tpb)
		}
	}
	seen := map[int]bool{}
	for _, t := range s.Tracks {
		if seen[t.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateTrack, t.ID)
		}
		seen[t.ID] = true
		for i, n := range t.Notes {
			if n.End <= n.Start || n.Start < 0 {
				return fmt.Errorf("%w: track %d note %d [%d, %d)", ErrInvalidNote, t.ID, i, n.Start, n.End)
			}
		}
	}
	return nil
}

// inferMeasures returns enough measures to hold the last note.
func (s *Sequence) inferMeasures() int {
	end := 0
	for _, t := range s.Tracks {
		for _, n := range t.Notes {
			if n.End > end {
				end = n.End
			}
		}
	}
	if end == 0 {
		return 0
	}
	count, tick := 0, 0
	for tick < end {
		length := s.measureLength(s.SignatureAt(count))
		if length <= 0 {
			return 0
		}
		tick += length
		count++
	}
	return count
}

func (s *Sequence) measureLength(sig TimeSignature) int {
	return s.TicksPerBeat * 4 * sig.Num / sig.Denom
}

// TickOfMeasure returns the first tick of measure m from the signatures
// alone, so it can be used while a sequence is still being assembled.
func (s *Sequence) TickOfMeasure(m int) int {
	if m >= 0 && m < len(s.measureStarts) {
		return s.measureStarts[m]
	}
	tpb := s.TicksPerBeat
	if tpb <= 0 {
		tpb = DefaultTicksPerBeat
	}
	tick := 0
	for i := 0; i < m; i++ {
		sig := s.SignatureAt(i)
		if sig.Num <= 0 || sig.Denom <= 0 {
			sig = TimeSignature{Num: 4, Denom: 4} // 非法拍号留给 Validate 报错
		}
		tick += tpb * 4 * sig.Num / sig.Denom
	}
	return tick
}

// MeasureCount returns the number of measures in the grid.
func (s *Sequence) MeasureCount() int {
	if len(s.measureStarts) == 0 {
		return 0
	}
	return len(s.measureStarts) - 1
}

// MeasureBounds returns the half-open tick range [first, last) of measure m.
func (s *Sequence) MeasureBounds(m int) (first, last int) {
	if m < 0 || m >= s.MeasureCount() {
		return 0, 0
	}
	return s.measureStarts[m], s.measureStarts[m+1]
}

// MeasureAtTick returns the measure containing tick, or -1 when the tick is
// outside the song.
func (s *Sequence) MeasureAtTick(tick int) int {
	n := s.MeasureCount()
	if n == 0 || tick < 0 || tick >= s.measureStarts[n] {
		return -1
	}
	return sort.SearchInts(s.measureStarts, tick+1) - 1
}

// SignatureAt returns the time signature in effect at measure m (4/4 if none
// was declared).
func (s *Sequence) SignatureAt(m int) TimeSignature {
	sig := TimeSignature{Measure: 0, Num: 4, Denom: 4}
	for _, candidate := range s.Signatures {
		if candidate.Measure > m {
			break
		}
		sig = candidate
	}
	return sig
}

// SignatureChangesAt reports whether measure m (m > 0) starts with a
// signature different from the previous measure.
func (s *Sequence) SignatureChangesAt(m int) bool {
	if m <= 0 {
		return false
	}
	prev, cur := s.SignatureAt(m-1), s.SignatureAt(m)
	return prev.Num != cur.Num || prev.Denom != cur.Denom
}

// Track looks a track up by id.
func (s *Sequence) Track(id int) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
