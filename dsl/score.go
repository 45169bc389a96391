package dsl

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// ErrSyntax wraps every conversion error so callers can tell a malformed
// score apart from I/O failures.
var ErrSyntax = errors.New("dsl: 语法错误")

// PageSetup is the paper description of a score document.
type PageSetup struct {
	Size      string
	Landscape bool
	Margin    layout.Margin
	Header    string // 页眉模板，支持 ${title}、${page} 等变量
	Footer    string
}

// PageSetup returns the first page section, or ok=false when the document
// does not declare one.
func (d *Document) PageSetup() (PageSetup, bool, error) {
	for _, sec := range d.Sections {
		if sec.Page == nil {
			continue
		}
		ps := PageSetup{Size: sec.Page.Size, Margin: layout.DefaultMargin}
		params := sec.Page.Params
		for i := 0; i < len(params); i++ {
			switch params[i].Value {
			case "landscape":
				ps.Landscape = true
			case "portrait":
				ps.Landscape = false
			case "margin":
				var vals []string
				for j := i + 1; j < len(params) && len(vals) < 4; j++ {
					if params[j].Type != "Number" {
						break
					}
					vals = append(vals, params[j].Value)
				}
				m, err := layout.ParseMargin(vals)
				if err != nil {
					return PageSetup{}, false, fmt.Errorf("%w: %s: %v", ErrSyntax, params[i].Pos, err)
				}
				ps.Margin = m
				i += len(vals)
			}
		}
		if sec.Page.Block != nil {
			for _, st := range sec.Page.Block.Statements {
				if st.Assignment == nil {
					continue
				}
				switch st.Assignment.Key {
				case "header":
					ps.Header = valueToString(st.Assignment.Value)
				case "footer":
					ps.Footer = valueToString(st.Assignment.Value)
				}
			}
		}
		return ps, true, nil
	}
	return PageSetup{}, false, nil
}

// Sequence converts the document into a prepared sequence.
//
//	score Etude v1 {
//	  meta { title: "Etude" composer: "Anon" }
//	  timeline { ticks 480; signature bar 0 num 3 den 4 }
//	  track Guitar view tab tuning 64,59,55,50,45,40 {
//	    note at 0 len q pitch E4 string 1 fret 0
//	    chord bar 1 beat 0 len h pitches C4,E4,G4
//	  }
//	}
func (d *Document) Sequence() (*sequence.Sequence, error) {
	seq := &sequence.Sequence{Title: d.Name, Meta: map[string]string{}}
	for _, sec := range d.Sections {
		switch {
		case sec.Meta != nil:
			applyMeta(seq, sec.Meta.Block)
		case sec.Timeline != nil:
			if err := applyTimeline(seq, sec.Timeline.Block); err != nil {
				return nil, err
			}
		}
	}
	if seq.TicksPerBeat <= 0 {
		seq.TicksPerBeat = sequence.DefaultTicksPerBeat
	}
	slices.SortStableFunc(seq.Signatures, func(a, b sequence.TimeSignature) int { return a.Measure - b.Measure })

	nextID := 0
	for _, sec := range d.Sections {
		if sec.Track == nil {
			continue
		}
		track, err := convertTrack(seq, sec.Track, nextID)
		if err != nil {
			return nil, err
		}
		nextID = max(nextID, track.ID+1)
		seq.Tracks = append(seq.Tracks, track)
	}
	if err := seq.Prepare(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return seq, nil
}

func applyMeta(seq *sequence.Sequence, block *Block) {
	if block == nil {
		return
	}
	for _, st := range block.Statements {
		if st.Assignment == nil {
			continue
		}
		v := valueToString(st.Assignment.Value)
		if st.Assignment.Key == "title" {
			seq.Title = v
		}
		seq.Meta[st.Assignment.Key] = v
	}
}

func applyTimeline(seq *sequence.Sequence, block *Block) error {
	if block == nil {
		return nil
	}
	for _, st := range block.Statements {
		cmd := st.Command
		if cmd == nil {
			continue
		}
		args, err := keyValues(cmd)
		if err != nil {
			return err
		}
		switch cmd.Name {
		case "ticks", "resolution":
			n, err := intArg(cmd, firstArg(cmd))
			if err != nil {
				return err
			}
			seq.TicksPerBeat = n
		case "measures":
			n, err := intArg(cmd, firstArg(cmd))
			if err != nil {
				return err
			}
			seq.Measures = n
		case "signature":
			if _, ok := args["bar"]; ok {
				if _, dup := args["at"]; dup {
					return fmt.Errorf("%w: %s: signature 不能同时指定 bar 和 at", ErrSyntax, cmd.Pos)
				}
			}
			sig := sequence.TimeSignature{Num: 4, Denom: 4}
			fields := []struct {
				key string
				dst *int
			}{{"bar", &sig.Measure}, {"at", &sig.Measure}, {"num", &sig.Num}, {"den", &sig.Denom}}
			for _, f := range fields {
				if v, ok := args[f.key]; ok {
					if *f.dst, err = intArg(cmd, v); err != nil {
						return err
					}
				}
			}
			seq.Signatures = append(seq.Signatures, sig)
		default:
			return fmt.Errorf("%w: %s: timeline 中不支持 %q", ErrSyntax, cmd.Pos, cmd.Name)
		}
	}
	return nil
}

func convertTrack(seq *sequence.Sequence, sec *TrackSection, defaultID int) (*sequence.Track, error) {
	track := &sequence.Track{ID: defaultID, Name: sec.Name, View: sequence.ViewScore}
	for i := 0; i < len(sec.Params); i++ {
		p := sec.Params[i]
		if i+1 >= len(sec.Params) {
			return nil, fmt.Errorf("%w: %s: %q 缺少取值", ErrSyntax, p.Pos, p.Value)
		}
		next := sec.Params[i+1]
		switch p.Value {
		case "id":
			id, err := strconv.Atoi(next.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: 音轨 id %q", ErrSyntax, next.Pos, next.Value)
			}
			track.ID = id
			i++
		case "view":
			view, err := sequence.ParseView(next.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, next.Pos, err)
			}
			track.View = view
			i++
		case "tuning":
			j := i + 1
			for ; j < len(sec.Params); j++ {
				v := sec.Params[j]
				if v.Value == "," {
					continue
				}
				pitch, err := parsePitch(v.Value)
				if err != nil {
					break
				}
				track.Tuning = append(track.Tuning, pitch)
			}
			i = j - 1
		default:
			return nil, fmt.Errorf("%w: %s: 未知的音轨参数 %q", ErrSyntax, p.Pos, p.Value)
		}
	}

	if sec.Block == nil {
		return track, nil
	}
	for _, st := range sec.Block.Statements {
		cmd := st.Command
		if cmd == nil {
			continue
		}
		notes, err := convertNotes(seq, cmd)
		if err != nil {
			return nil, err
		}
		track.Notes = append(track.Notes, notes...)
	}
	return track, nil
}

// convertNotes handles `note` and `chord` statements.
func convertNotes(seq *sequence.Sequence, cmd *Command) ([]sequence.Note, error) {
	if cmd.Name != "note" && cmd.Name != "chord" {
		return nil, fmt.Errorf("%w: %s: 音轨中不支持 %q", ErrSyntax, cmd.Pos, cmd.Name)
	}
	args, err := keyValues(cmd)
	if err != nil {
		return nil, err
	}

	start := 0
	if v, ok := args["at"]; ok {
		if start, err = intArg(cmd, v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["bar"]; ok {
		bar, err := intArg(cmd, v)
		if err != nil {
			return nil, err
		}
		start += seq.TickOfMeasure(bar)
	}
	if v, ok := args["beat"]; ok {
		beat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: beat %q", ErrSyntax, cmd.Pos, v)
		}
		start += int(beat * float64(seq.TicksPerBeat))
	}
	length, err := parseLength(args["len"], seq.TicksPerBeat)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, cmd.Pos, err)
	}

	base := sequence.Note{Start: start, End: start + length}
	if v, ok := args["string"]; ok {
		if base.String, err = intArg(cmd, v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["fret"]; ok {
		if base.Fret, err = intArg(cmd, v); err != nil {
			return nil, err
		}
	}
	if v, ok := args["selected"]; ok {
		base.Selected = v == "true"
	}

	key := "pitch"
	if cmd.Name == "chord" {
		key = "pitches"
	}
	raw, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s 缺少 %s", ErrSyntax, cmd.Pos, cmd.Name, key)
	}
	var notes []sequence.Note
	for _, p := range strings.Split(raw, ",") {
		pitch, err := parsePitch(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSyntax, cmd.Pos, err)
		}
		n := base
		n.Pitch = pitch
		notes = append(notes, n)
	}
	return notes, nil
}

// keyValues pairs command arguments as `key value`; comma-separated values
// such as `pitches C4,E4` are joined back into one string.
func keyValues(cmd *Command) (map[string]string, error) {
	out := map[string]string{}
	args := cmd.Args
	for i := 0; i < len(args); i++ {
		key := args[i].Value
		if i+1 >= len(args) {
			if len(args) == 1 {
				return out, nil // 单个位置参数，如 `measures 8`
			}
			return nil, fmt.Errorf("%w: %s: %q 缺少取值", ErrSyntax, args[i].Pos, key)
		}
		val := args[i+1].Value
		i++
		for i+2 < len(args) && args[i+1].Value == "," {
			val += "," + args[i+2].Value
			i += 2
		}
		out[key] = val
	}
	return out, nil
}

func firstArg(cmd *Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[0].Value
}

func intArg(cmd *Command, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %s 需要整数，得到 %q", ErrSyntax, cmd.Pos, cmd.Name, v)
	}
	return n, nil
}

// noteValues maps duration names to fractions of a whole note.
var noteValues = map[string]float64{
	"w": 1, "whole": 1,
	"h": 0.5, "half": 0.5,
	"q": 0.25, "quarter": 0.25,
	"e": 0.125, "eighth": 0.125,
	"s": 0.0625, "sixteenth": 0.0625,
	"t": 0.03125,
}

// parseLength accepts ticks (`480`) or a duration name (`q`, `e`); a trailing
// `d` dots the duration (`qd`).
func parseLength(v string, ticksPerBeat int) (int, error) {
	if v == "" {
		return ticksPerBeat, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("时值必须为正: %d", n)
		}
		return n, nil
	}
	name := strings.ToLower(v)
	dotted := false
	if _, ok := noteValues[name]; !ok && strings.HasSuffix(name, "d") {
		name, dotted = strings.TrimSuffix(name, "d"), true
	}
	frac, ok := noteValues[name]
	if !ok {
		return 0, fmt.Errorf("无法识别的时值 %q", v)
	}
	ticks := frac * 4 * float64(ticksPerBeat)
	if dotted {
		ticks *= 1.5
	}
	return int(ticks), nil
}

var pitchClasses = map[byte]int{'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11}

// parsePitch accepts MIDI numbers or names such as C4, Fs3 (sharp) and Bb2.
func parsePitch(v string) (int, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 127 {
			return 0, fmt.Errorf("音高超出范围: %d", n)
		}
		return n, nil
	}
	lower := strings.ToLower(v)
	if len(lower) < 2 {
		return 0, fmt.Errorf("无法识别的音高 %q", v)
	}
	pc, ok := pitchClasses[lower[0]]
	if !ok {
		return 0, fmt.Errorf("无法识别的音高 %q", v)
	}
	rest := lower[1:]
	switch {
	case strings.HasPrefix(rest, "s"):
		pc++
		rest = rest[1:]
	case strings.HasPrefix(rest, "b") && len(rest) > 1:
		pc--
		rest = rest[1:]
	}
	oct, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("无法识别的音高 %q", v)
	}
	pitch := (oct+1)*12 + pc
	if pitch < 0 || pitch > 127 {
		return 0, fmt.Errorf("音高超出范围: %q", v)
	}
	return pitch, nil
}

func valueToString(val *Value) string {
	if val == nil {
		return ""
	}
	switch {
	case val.String != nil:
		return *val.String
	case val.Number != nil:
		return *val.Number
	case len(val.Words) > 0:
		parts := make([]string, len(val.Words))
		for i, p := range val.Words {
			parts[i] = p.Value
		}
		return strings.Join(parts, " ")
	}
	return ""
}
