package sequence

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadTOML decodes the TOML form of a sequence document. Keys are the same
// as in LoadYAML; unknown keys are an error.
//
//	title = "Prelude"
//	ticksPerBeat = 960
//
//	[[tracks]]
//	id = 0
//	view = "score"
//	notes = [{start = 0, end = 960, pitch = 60}]
func LoadTOML(r io.Reader) (*Sequence, error) {
	var seq Sequence
	md, err := toml.NewDecoder(r).Decode(&seq)
	if err != nil {
		return nil, fmt.Errorf("decode sequence: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("decode sequence: unknown keys %s", strings.Join(keys, ", "))
	}
	return finishDecoded(&seq)
}
