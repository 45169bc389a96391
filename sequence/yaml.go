package sequence

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a sequence document and prepares it for layout.
//
//	title: Prelude
//	ticksPerBeat: 960
//	signatures: [{measure: 0, num: 3, denom: 4}]
//	tracks:
//	  - id: 0
//	    name: Piano
//	    view: score
//	    notes: [{start: 0, end: 960, pitch: 60}]
func LoadYAML(r io.Reader) (*Sequence, error) {
	var seq Sequence
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seq); err != nil {
		return nil, fmt.Errorf("decode sequence: %w", err)
	}
	return finishDecoded(&seq)
}

// finishDecoded normalizes view names and prepares a freshly decoded sequence.
func finishDecoded(seq *Sequence) (*Sequence, error) {
	for _, t := range seq.Tracks {
		view, err := ParseView(string(t.View))
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", t.ID, err)
		}
		t.View = view
	}
	if err := seq.Prepare(); err != nil {
		return nil, err
	}
	return seq, nil
}

// WriteYAML encodes the sequence, e.g. to turn a DSL file into a fixture.
func WriteYAML(w io.Writer, seq *Sequence) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	return enc.Close()
}
