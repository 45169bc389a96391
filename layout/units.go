package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// This file defines unit-safe lengths and the physical page geometry the
// numeric pass is run against. Physical coordinates are millimetres.

// Unit represents the original unit of a length value as written in the DSL or config.
type Unit int

const (
	UnitNone Unit = iota // unit-less numbers like factors
	UnitMM               // millimeters
	UnitCM               // centimeters
	UnitIN               // inches
	UnitPT               // points
)

// Conversion constants between pt and mm.
const (
	PtToMm = 0.352777
	MmToPt = 1.0 / PtToMm
)

// Length preserves a numeric value with its unit.
type Length struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// To converts this length to target unit. Supported targets: UnitMM, UnitPT.
func (l Length) To(target Unit) float64 {
	switch l.Unit {
	case UnitMM:
		if target == UnitMM || target == UnitNone {
			return l.Value
		}
		if target == UnitPT {
			return l.Value * MmToPt
		}
	case UnitCM:
		mm := l.Value * 10
		if target == UnitMM || target == UnitNone {
			return mm
		}
		if target == UnitPT {
			return mm * MmToPt
		}
	case UnitIN:
		mm := l.Value * 25.4
		if target == UnitMM || target == UnitNone {
			return mm
		}
		if target == UnitPT {
			return mm * MmToPt
		}
	case UnitPT:
		if target == UnitPT {
			return l.Value
		}
		if target == UnitMM || target == UnitNone {
			return l.Value * PtToMm
		}
	case UnitNone:
		// Bare numbers are millimetres.
		return l.Value
	}
	// Default fall back to numeric value as-is
	return l.Value
}

func (l Length) ToMM() float64 { return l.To(UnitMM) }
func (l Length) ToPT() float64 { return l.To(UnitPT) }

// ParseRawLengthStr parses a DSL length string preserving its unit.
func ParseRawLengthStr(value string) Length {
	v := strings.TrimSpace(value)
	if v == "" {
		return Length{Value: 0, Unit: UnitNone}
	}
	lower := strings.ToLower(v)
	unit := UnitNone
	num := lower
	for _, suf := range []struct {
		s string
		u Unit
	}{{"mm", UnitMM}, {"cm", UnitCM}, {"in", UnitIN}, {"pt", UnitPT}} {
		if strings.HasSuffix(lower, suf.s) {
			unit = suf.u
			num = strings.TrimSpace(strings.TrimSuffix(lower, suf.s))
			break
		}
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Length{Value: 0, Unit: UnitNone}
	}
	return Length{Value: f, Unit: unit}
}

// ParseLength is ParseRawLengthStr with an error for malformed input, used
// where a silent zero would hide a config mistake.
func ParseLength(value string) (Length, error) {
	l := ParseRawLengthStr(value)
	if l.Value == 0 && l.Unit == UnitNone && strings.TrimSpace(value) != "" {
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return Length{}, fmt.Errorf("无法解析长度 %q", value)
		}
	}
	return l, nil
}

// Margin 以毫米为单位。
type Margin struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// DefaultMargin is applied when a page does not declare one.
var DefaultMargin = Margin{Top: 15, Right: 15, Bottom: 15, Left: 15}

// ParseMargin applies CSS-like shorthand to up to four lengths:
// 1 value sets all sides; 2 values are top/bottom and left/right;
// 3 values are top, left/right, bottom; 4 values are top, right, bottom, left.
func ParseMargin(values []string) (Margin, error) {
	vals := make([]float64, 0, 4)
	for _, v := range values {
		if len(vals) == 4 {
			break
		}
		l, err := ParseLength(v)
		if err != nil {
			return Margin{}, err
		}
		vals = append(vals, l.ToMM())
	}
	switch len(vals) {
	case 0:
		return DefaultMargin, nil
	case 1:
		v := vals[0]
		return Margin{Top: v, Right: v, Bottom: v, Left: v}, nil
	case 2:
		return Margin{Top: vals[0], Right: vals[1], Bottom: vals[0], Left: vals[1]}, nil
	case 3:
		return Margin{Top: vals[0], Right: vals[1], Bottom: vals[2], Left: vals[1]}, nil
	default:
		return Margin{Top: vals[0], Right: vals[1], Bottom: vals[2], Left: vals[3]}, nil
	}
}

var pagePresets = map[string][2]float64{
	"A3":     {297, 420},
	"A4":     {210, 297},
	"A5":     {148, 210},
	"B5":     {176, 250},
	"LETTER": {215.9, 279.4},
	"LEGAL":  {215.9, 355.6},
}

// PageSize is a physical page in millimetres.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ResolvePageSize looks a preset up by name; landscape swaps the sides.
func ResolvePageSize(name string, landscape bool) (PageSize, error) {
	base, ok := pagePresets[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return PageSize{}, fmt.Errorf("暂不支持的纸张尺寸：%s", name)
	}
	size := PageSize{Width: base[0], Height: base[1]}
	if landscape {
		size.Width, size.Height = size.Height, size.Width
	}
	return size, nil
}

// ContentGeometry returns the area inside the margins, reserving header
// millimetres at the top for the page title.
func ContentGeometry(size PageSize, m Margin, header float64) Geometry {
	return Geometry{
		X0: m.Left,
		Y0: m.Top + header,
		X1: size.Width - m.Right,
		Y1: size.Height - m.Bottom,
	}
}
