package layout

import (
	"encoding/json"
	"os"
)

type debugDocument struct {
	Layout    *Layout    `json:"layout"`
	Placement *Placement `json:"placement,omitempty"`
}

// WriteDebugJSON 将排版结果（可选附带坐标）输出为 JSON，便于调试或可视化。
func WriteDebugJSON(l *Layout, p *Placement, path string) error {
	if l == nil {
		return nil
	}
	data, err := json.MarshalIndent(debugDocument{Layout: l, Placement: p}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
