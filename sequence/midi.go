package sequence

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"
)

// drumChannel is MIDI channel 10, zero based.
const drumChannel = 9

// ErrUnsupportedMIDI is returned for SMPTE-timed files; only metric ticks map
// onto a measure grid.
var ErrUnsupportedMIDI = errors.New("unsupported MIDI time format")

type meterEvent struct {
	tick       int
	num, denom int
}

// LoadMIDI reads a standard MIDI file. Every SMF track with notes becomes
// one Track; tracks playing only on channel 10 get the drum view. Meter
// events become time signatures on the measure where they occur.
func LoadMIDI(r io.Reader) (*Sequence, error) {
	mid, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	ticks, ok := mid.TimeFormat.(smf.MetricTicks)
	if !ok || ticks == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMIDI, mid.TimeFormat)
	}

	seq := &Sequence{TicksPerBeat: int(ticks)}
	var meters []meterEvent
	for i, tr := range mid.Tracks {
		track, trackMeters := readMIDITrack(tr)
		meters = append(meters, trackMeters...)
		if len(track.Notes) == 0 {
			continue
		}
		track.ID = len(seq.Tracks)
		if track.Name == "" {
			track.Name = fmt.Sprintf("Track %d", i+1)
		}
		seq.Tracks = append(seq.Tracks, track)
	}
	seq.Signatures = signaturesFromMeters(meters, seq.TicksPerBeat)
	if err := seq.Prepare(); err != nil {
		return nil, err
	}
	return seq, nil
}

func readMIDITrack(tr smf.Track) (*Track, []meterEvent) {
	track := &Track{View: ViewScore}
	var meters []meterEvent
	open := map[uint16][]int{} // channel<<8|key -> 未结束音符的起点
	drums, melodic := false, false

	abs := 0
	for _, ev := range tr {
		abs += int(ev.Delta)
		msg := ev.Message
		var ch, key, vel, num, denom uint8
		var name string
		switch {
		case msg.GetMetaMeter(&num, &denom):
			meters = append(meters, meterEvent{tick: abs, num: int(num), denom: int(denom)})
		case msg.GetMetaTrackName(&name):
			track.Name = name
		case msg.GetNoteStart(&ch, &key, &vel):
			id := uint16(ch)<<8 | uint16(key)
			open[id] = append(open[id], abs)
			if ch == drumChannel {
				drums = true
			} else {
				melodic = true
			}
		case msg.GetNoteEnd(&ch, &key):
			id := uint16(ch)<<8 | uint16(key)
			starts := open[id]
			if len(starts) == 0 {
				continue
			}
			start := starts[0]
			open[id] = starts[1:]
			if abs > start {
				track.Notes = append(track.Notes, Note{Start: start, End: abs, Pitch: int(key)})
			}
		}
	}
	if drums && !melodic {
		track.View = ViewDrum
	}
	return track, meters
}

// signaturesFromMeters converts tick positions to measure indexes. A meter
// change that falls inside a measure takes effect at the next barline.
func signaturesFromMeters(meters []meterEvent, ticksPerBeat int) []TimeSignature {
	sort.SliceStable(meters, func(i, j int) bool { return meters[i].tick < meters[j].tick })
	var sigs []TimeSignature
	cur := TimeSignature{Num: 4, Denom: 4}
	measure, measureStart := 0, 0
	for _, m := range meters {
		if m.num <= 0 || m.denom <= 0 {
			continue
		}
		length := ticksPerBeat * 4 * cur.Num / cur.Denom
		if length > 0 && m.tick > measureStart {
			n := (m.tick - measureStart + length - 1) / length
			measure += n
			measureStart += n * length
		}
		cur = TimeSignature{Measure: measure, Num: m.num, Denom: m.denom}
		if len(sigs) > 0 && sigs[len(sigs)-1].Measure == measure {
			sigs[len(sigs)-1] = cur
			continue
		}
		sigs = append(sigs, cur)
	}
	return sigs
}
