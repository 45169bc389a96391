package sequence

import (
	"fmt"
	"sort"
	"strings"
)

// View selects which notation a track is printed with.
type View string

const (
	ViewScore     View = "score"
	ViewTablature View = "tablature"
	ViewKeyboard  View = "keyboard"
	ViewDrum      View = "drum"
)

// ParseView maps user input to a View; unknown values are an error.
func ParseView(s string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case ViewScore, "":
		return ViewScore, nil
	case ViewTablature, "tab", "guitar":
		return ViewTablature, nil
	case ViewKeyboard, "keys", "roll":
		return ViewKeyboard, nil
	case ViewDrum, "drums":
		return ViewDrum, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Note is a single sounding event. End is exclusive.
type Note struct {
	Start    int  `yaml:"start" toml:"start" json:"start"`
	End      int  `yaml:"end" toml:"end" json:"end"`
	Pitch    int  `yaml:"pitch" toml:"pitch" json:"pitch"`
	String   int  `yaml:"string,omitempty" toml:"string,omitempty" json:"string,omitempty"`
	Fret     int  `yaml:"fret,omitempty" toml:"fret,omitempty" json:"fret,omitempty"`
	Selected bool `yaml:"selected,omitempty" toml:"selected,omitempty" json:"selected,omitempty"`
}

// Duration returns End - Start.
func (n Note) Duration() int { return n.End - n.Start }

// Silence is a gap between notes of one track.
type Silence struct {
	Start int
	End   int
}

// StandardTuning is the open-string pitch of a six string guitar, high to low.
var StandardTuning = []int{64, 59, 55, 50, 45, 40}

// Track is one printed part.
type Track struct {
	ID     int    `yaml:"id" toml:"id" json:"id"`
	Name   string `yaml:"name" toml:"name" json:"name"`
	View   View   `yaml:"view" toml:"view" json:"view"`
	Notes  []Note `yaml:"notes" toml:"notes" json:"notes"`
	Tuning []int  `yaml:"tuning,omitempty" toml:"tuning,omitempty" json:"tuning,omitempty"`
}

// Sort orders notes by start tick, then pitch.
func (t *Track) Sort() {
	sort.SliceStable(t.Notes, func(i, j int) bool {
		if t.Notes[i].Start != t.Notes[j].Start {
			return t.Notes[i].Start < t.Notes[j].Start
		}
		return t.Notes[i].Pitch < t.Notes[j].Pitch
	})
}

// Strings returns the tuning in use, defaulting to StandardTuning.
func (t *Track) Strings() []int {
	if len(t.Tuning) > 0 {
		return t.Tuning
	}
	return StandardTuning
}

// FirstNoteIndexInRange returns the index of the first note starting in
// [from, to), or -1.
func (t *Track) FirstNoteIndexInRange(from, to int) int {
	i := sort.Search(len(t.Notes), func(i int) bool { return t.Notes[i].Start >= from })
	if i < len(t.Notes) && t.Notes[i].Start < to {
		return i
	}
	return -1
}

// LastNoteIndexInRange returns the index of the last note starting in
// [from, to), or -1.
func (t *Track) LastNoteIndexInRange(from, to int) int {
	i := sort.Search(len(t.Notes), func(i int) bool { return t.Notes[i].Start >= to }) - 1
	if i >= 0 && t.Notes[i].Start >= from {
		return i
	}
	return -1
}

// Overlaps reports whether any note sounds inside [from, to), including
// notes held over from an earlier measure.
func (t *Track) Overlaps(from, to int) bool {
	if t.FirstNoteIndexInRange(from, to) != -1 {
		return true
	}
	for _, n := range t.Notes {
		if n.Start >= from {
			break
		}
		if n.End > from {
			return true
		}
	}
	return false
}

// Silences returns the gaps inside [from, to) not covered by any note.
func (t *Track) Silences(from, to int) []Silence {
	var out []Silence
	cursor := from
	for _, n := range t.Notes {
		if n.End <= cursor {
			continue
		}
		if n.Start >= to {
			break
		}
		if n.Start > cursor {
			out = append(out, Silence{Start: cursor, End: n.Start})
		}
		if n.End > cursor {
			cursor = n.End
		}
		if cursor >= to {
			return out
		}
	}
	if cursor < to {
		out = append(out, Silence{Start: cursor, End: to})
	}
	return out
}

// PitchRange returns the lowest and highest pitch of the notes sounding in
// [from, to); ok is false when there are none.
func (t *Track) PitchRange(from, to int) (low, high int, ok bool) {
	for _, n := range t.Notes {
		if n.Start >= to {
			break
		}
		if n.End <= from {
			continue
		}
		if !ok {
			low, high, ok = n.Pitch, n.Pitch, true
			continue
		}
		low = min(low, n.Pitch)
		high = max(high, n.Pitch)
	}
	return low, high, ok
}
