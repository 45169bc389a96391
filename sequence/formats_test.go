package sequence

import (
	"bytes"
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func TestLoadTOML(t *testing.T) {
	doc := `
title = "Etude"
ticksPerBeat = 480
signatures = [{measure = 0, num = 3, denom = 4}]

[meta]
composer = "Anon"

[[tracks]]
id = 2
name = "Keys"
view = "roll"
notes = [
  {start = 0, end = 480, pitch = 60},
  {start = 480, end = 1440, pitch = 64, selected = true},
]
`
	seq, err := LoadTOML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadTOML: %v", err)
	}
	if seq.Title != "Etude" || seq.Meta["composer"] != "Anon" {
		t.Fatalf("metadata = %q %v", seq.Title, seq.Meta)
	}
	track := seq.Track(2)
	if track == nil || track.View != ViewKeyboard || len(track.Notes) != 2 {
		t.Fatalf("unexpected track %+v", track)
	}
	if !track.Notes[1].Selected {
		t.Fatalf("selection lost: %+v", track.Notes[1])
	}
	if seq.MeasureCount() != 1 {
		t.Fatalf("MeasureCount = %d, want 1", seq.MeasureCount())
	}

	if _, err := LoadTOML(strings.NewReader("tempo = 120\n")); err == nil {
		t.Fatalf("expected unknown key to fail")
	}
}

func TestLoadMIDI(t *testing.T) {
	s := smf.NewSMF1()
	s.TimeFormat = smf.MetricTicks(480)

	var meter smf.Track
	meter.Add(0, smf.MetaMeter(4, 4))
	meter.Add(1920, smf.MetaMeter(3, 4))
	meter.Close(0)

	var piano smf.Track
	piano.Add(0, midi.NoteOn(0, 60, 100))
	piano.Add(480, midi.NoteOff(0, 60))
	piano.Add(0, midi.NoteOn(0, 64, 90))
	piano.Add(2880, midi.NoteOff(0, 64))
	piano.Close(0)

	var drums smf.Track
	drums.Add(0, midi.NoteOn(drumChannel, 36, 100))
	drums.Add(240, midi.NoteOff(drumChannel, 36))
	drums.Close(0)

	for _, tr := range []smf.Track{meter, piano, drums} {
		if err := s.Add(tr); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	seq, err := LoadMIDI(&buf)
	if err != nil {
		t.Fatalf("LoadMIDI: %v", err)
	}
	if seq.TicksPerBeat != 480 {
		t.Fatalf("TicksPerBeat = %d", seq.TicksPerBeat)
	}
	if len(seq.Tracks) != 2 {
		t.Fatalf("want 2 tracks with notes, got %d", len(seq.Tracks))
	}
	want := []Note{{Start: 0, End: 480, Pitch: 60}, {Start: 480, End: 3360, Pitch: 64}}
	got := seq.Tracks[0].Notes
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("notes = %+v, want %+v", got, want)
	}
	if seq.Tracks[0].View != ViewScore || seq.Tracks[1].View != ViewDrum {
		t.Fatalf("views = %s, %s", seq.Tracks[0].View, seq.Tracks[1].View)
	}
	if sig := seq.SignatureAt(1); sig.Num != 3 || sig.Denom != 4 {
		t.Fatalf("SignatureAt(1) = %+v, want 3/4", sig)
	}
	if seq.MeasureCount() != 2 {
		t.Fatalf("MeasureCount = %d, want 2", seq.MeasureCount())
	}

	if _, err := LoadMIDI(strings.NewReader("not a midi file")); err == nil {
		t.Fatalf("expected garbage input to fail")
	}
}

func TestSignaturesFromMeters(t *testing.T) {
	// 3/4 在第二小节中途出现，从下一小节生效；同一小节的两次变化只保留后者。
	sigs := signaturesFromMeters([]meterEvent{
		{tick: 2000, num: 3, denom: 4},
		{tick: 0, num: 2, denom: 4},
		{tick: 0, num: 4, denom: 4},
		{tick: 100, num: 0, denom: 4},
	}, 480)
	want := []TimeSignature{{Measure: 0, Num: 4, Denom: 4}, {Measure: 2, Num: 3, Denom: 4}}
	if len(sigs) != len(want) {
		t.Fatalf("sigs = %+v, want %+v", sigs, want)
	}
	for i := range want {
		if sigs[i] != want[i] {
			t.Fatalf("sigs[%d] = %+v, want %+v", i, sigs[i], want[i])
		}
	}
}
