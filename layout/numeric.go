package layout

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
)

// 数值排版：把抽象的行、页分配换算成页面坐标。纯函数，不修改 *Layout。

// minZoom 是坐标退化时使用的最小缩放倍率。
const minZoom = 1e-3

// Geometry 是每页内容区域的坐标，Y 轴向下。
type Geometry struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns X1 - X0.
func (g Geometry) Width() float64 { return g.X1 - g.X0 }

// Height returns Y1 - Y0.
func (g Geometry) Height() float64 { return g.Y1 - g.Y0 }

// Span 是一段水平坐标区间。
type Span struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Rect 是一个矩形区域。
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// PlacedElement 是元素的最终横向坐标。
type PlacedElement struct {
	XFrom          float64 `json:"xFrom"`
	XTo            float64 `json:"xTo"`
	RenderStartBar bool    `json:"renderStartBar,omitempty"`
	RenderEndBar   bool    `json:"renderEndBar,omitempty"`
	// LineEndBar 表示该元素是行尾元素且行没有被撑满，渲染器应在 XTo 处画结束线。
	LineEndBar bool `json:"lineEndBar,omitempty"`
}

// PlacedTrack 是音轨在行内的纵向坐标。
type PlacedTrack struct {
	Track  int         `json:"track"`
	Y0     float64     `json:"y0"`
	Y1     float64     `json:"y1"`
	Detail TrackDetail `json:"detail"`
}

// PlacedLine 是一行的最终坐标。
type PlacedLine struct {
	Page        int           `json:"page"`
	X0          float64       `json:"x0"`
	X1          float64       `json:"x1"` // 最后一个元素的 XTo
	Y0          float64       `json:"y0"`
	Y1          float64       `json:"y1"`
	Zoom        float64       `json:"zoom"`
	LevelHeight float64       `json:"levelHeight"`
	Tracks      []PlacedTrack `json:"tracks"`
}

// Placement 是数值排版的结果，与 *Layout 一样不可修改，可以并发读取。
type Placement struct {
	layout      *Layout
	geom        Geometry
	opts        NumericOptions
	elements    []PlacedElement
	lines       []PlacedLine
	diagnostics []Diagnostic
}

type placer struct {
	l      *Layout
	geom   Geometry
	opts   NumericOptions
	logger *log.Logger
	out    *Placement
}

// Place 按 geom 为每一页计算坐标。Strict 模式下任何坐标退化都会返回 ErrDegenerate，
// 否则修正后继续并记录 Diagnostic。相同输入总是得到完全相同的坐标。
func Place(l *Layout, geom Geometry, opts NumericOptions) (*Placement, error) {
	if l == nil {
		return nil, ErrNilLayout
	}
	if geom.Width() <= 0 || geom.Height() <= 0 {
		return nil, fmt.Errorf("%w: 页面区域 %+v", ErrDegenerate, geom)
	}
	if opts.ElementMaxZoom <= 0 {
		opts.ElementMaxZoom = DefaultElementMaxZoom
	}
	if opts.MaxLevelHeight <= 0 {
		opts.MaxLevelHeight = DefaultMaxLevelHeight
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	p := &placer{
		l:      l,
		geom:   geom,
		opts:   opts,
		logger: logger.With("job", l.jobID.String()[:8]),
		out: &Placement{
			layout:   l,
			geom:     geom,
			opts:     opts,
			elements: make([]PlacedElement, len(l.elements)),
			lines:    make([]PlacedLine, len(l.lines)),
		},
	}
	for pi := range l.pages {
		if err := p.placeLinesInPage(pi); err != nil {
			return nil, err
		}
	}
	for li := range l.lines {
		if err := p.placeElementsWithinCoords(li); err != nil {
			return nil, err
		}
	}
	return p.out, nil
}

func (p *placer) degenerate(measure, track int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.opts.Strict {
		return fmt.Errorf("%w: %s", ErrDegenerate, msg)
	}
	p.logger.Warn("坐标退化，已修正", "measure", measure, "track", track, "detail", msg)
	p.out.diagnostics = append(p.out.diagnostics, Diagnostic{Kind: DiagDegenerate, Measure: measure, Track: track, Message: msg})
	return nil
}

// placeLinesInPage 纵向分配：level 高度取可用高度除以总 level 数，但不超过 MaxLevelHeight。
func (p *placer) placeLinesInPage(pi int) error {
	page := p.l.pages[pi]
	margin := p.l.opts.LineMargin
	total := 0
	for i, li := range page.Lines {
		if i > 0 {
			total += margin
		}
		total += p.l.lines[li].TotalLevelHeight
	}
	if total <= 0 {
		return p.degenerate(-1, -1, "第 %d 页没有高度", pi)
	}
	levelHeight := min(p.geom.Height()/float64(total), p.opts.MaxLevelHeight)

	y := p.geom.Y0
	for _, li := range page.Lines {
		line := p.l.lines[li]
		placed := PlacedLine{
			Page:        pi,
			X0:          p.geom.X0,
			Y0:          y,
			Y1:          y + float64(line.TotalLevelHeight)*levelHeight,
			LevelHeight: levelHeight,
			Tracks:      make([]PlacedTrack, len(line.Tracks)),
		}
		for ti, tr := range line.Tracks {
			pt := PlacedTrack{
				Track:  tr.Track,
				Y0:     y + float64(tr.LevelFrom)*levelHeight,
				Y1:     y + float64(tr.LevelTo)*levelHeight,
				Detail: tr.Detail,
			}
			if pt.Y1 <= pt.Y0 {
				if err := p.degenerate(line.Span.First, tr.Track, "音轨高度 %g", pt.Y1-pt.Y0); err != nil {
					return err
				}
				pt.Y1 = pt.Y0 + minZoom
			}
			placed.Tracks[ti] = pt
		}
		p.out.lines[li] = placed
		y = placed.Y1 + float64(margin)*levelHeight
	}
	return nil
}

// placeElementsWithinCoords 横向分配：缩放倍率取可用宽度除以总宽度，但不超过 ElementMaxZoom；
// 间距不参与缩放。行尾剩余不超过 EndBarSlack 时由最后一个元素吸收，否则标记行尾结束线。
func (p *placer) placeElementsWithinCoords(li int) error {
	line := p.l.lines[li]
	elems := p.l.elements[line.First : line.Last+1]
	margin := p.opts.MeasureMargin
	needed := 0.0
	for _, e := range elems {
		needed += e.Width
	}
	avail := p.geom.Width() - float64(len(elems))*margin
	zoom := p.opts.ElementMaxZoom
	if needed > 0 {
		zoom = min(avail/needed, p.opts.ElementMaxZoom)
	}
	if zoom <= 0 {
		if err := p.degenerate(line.Span.First, -1, "第 %d 行缩放倍率 %g", li, zoom); err != nil {
			return err
		}
		zoom = minZoom
	}

	x := p.geom.X0
	for i, e := range elems {
		pe := PlacedElement{
			XFrom:          x,
			XTo:            x + e.Width*zoom,
			RenderStartBar: e.RenderStartBar,
			RenderEndBar:   e.RenderEndBar,
		}
		if e.Width > 0 && pe.XTo <= pe.XFrom {
			if err := p.degenerate(e.Measure, -1, "元素宽度 %g", pe.XTo-pe.XFrom); err != nil {
				return err
			}
			pe.XTo = pe.XFrom + minZoom
		}
		p.out.elements[line.First+i] = pe
		x = pe.XTo + margin
	}

	last := &p.out.elements[line.Last]
	if leftover := p.geom.X1 - last.XTo; leftover <= p.opts.EndBarSlack {
		if leftover > 0 {
			last.XTo = p.geom.X1
		}
	} else {
		last.LineEndBar = true
	}
	placed := &p.out.lines[li]
	placed.Zoom = zoom
	placed.X1 = last.XTo
	return nil
}

// Layout 返回对应的抽象排版。
func (pl *Placement) Layout() *Layout { return pl.layout }

// Geometry 返回页面内容区域。
func (pl *Placement) Geometry() Geometry { return pl.geom }

// Element 返回第 i 个元素的坐标。
func (pl *Placement) Element(i int) PlacedElement { return pl.elements[i] }

// Line 返回第 i 行的坐标。
func (pl *Placement) Line(i int) PlacedLine {
	line := pl.lines[i]
	line.Tracks = slices.Clone(line.Tracks)
	return line
}

// PageOfLine 返回行所在的页。
func (pl *Placement) PageOfLine(line int) int { return pl.layout.PageOfLine(line) }

// Diagnostics 返回数值排版中被修正的异常。
func (pl *Placement) Diagnostics() []Diagnostic { return slices.Clone(pl.diagnostics) }

// TrackBounds 返回音轨在行内占据的矩形。
func (pl *Placement) TrackBounds(trackID, line int) (Rect, error) {
	if line < 0 || line >= len(pl.lines) {
		return Rect{}, fmt.Errorf("%w: line %d", ErrNotOnLine, line)
	}
	pline := pl.lines[line]
	for _, t := range pline.Tracks {
		if t.Track == trackID {
			return Rect{X0: pline.X0, Y0: t.Y0, X1: pline.X1, Y1: t.Y1}, nil
		}
	}
	return Rect{}, fmt.Errorf("%w: track %d line %d", ErrNotOnLine, trackID, line)
}

// TickToX 返回 tick 上的符号在行内的横向区间。
// tick 没有被符号覆盖时返回退化的零宽区间和 *UnresolvedTickError，调用方可以继续使用该区间。
func (pl *Placement) TickToX(trackID, line, tick int) (Span, error) {
	if _, err := pl.TrackBounds(trackID, line); err != nil {
		return Span{}, err
	}
	m := pl.layout.measureAtTick(tick)
	if m < 0 || pl.layout.lineOfMeasure(m) != line {
		return Span{}, fmt.Errorf("%w: tick %d line %d", ErrNotOnLine, tick, line)
	}
	ll := pl.layout.lines[line]
	for i := ll.First; i <= ll.Last; i++ {
		e := pl.layout.elements[i]
		first, last, ok := e.Covers()
		if !ok || m < first || m > last {
			continue
		}
		pe := pl.elements[i]
		md := pl.layout.measures[m]
		if e.Kind != KindMeasure {
			// 多小节元素按小节数等分，tick 在所属份额内线性映射。
			share := (pe.XTo - pe.XFrom) / float64(last-first+1)
			from := pe.XFrom + share*float64(m-first)
			frac := float64(tick-md.FirstTick) / float64(md.Duration())
			x := from + share*frac
			return Span{From: x, To: x}, nil
		}
		r, resolved := md.Allocator.Lookup(tick)
		w := pe.XTo - pe.XFrom
		span := Span{From: pe.XFrom + r.From*w, To: pe.XFrom + r.To*w}
		if !resolved {
			return span, &UnresolvedTickError{Tick: tick, Anchor: md.Allocator.anchorTick(tick)}
		}
		return span, nil
	}
	return Span{}, fmt.Errorf("%w: tick %d line %d", ErrNotOnLine, tick, line)
}

// MeasureAt 把页面上的点映射回小节，用于点击定位。多小节元素按小节数等分。
func (pl *Placement) MeasureAt(page int, x, y float64) (int, bool) {
	if page < 0 || page >= len(pl.layout.pages) {
		return -1, false
	}
	for _, li := range pl.layout.pages[page].Lines {
		pline := pl.lines[li]
		if y < pline.Y0 || y >= pline.Y1 {
			continue
		}
		ll := pl.layout.lines[li]
		for i := ll.First; i <= ll.Last; i++ {
			e := pl.layout.elements[i]
			pe := pl.elements[i]
			first, last, ok := e.Covers()
			if !ok || x < pe.XFrom || x >= pe.XTo {
				continue
			}
			share := (pe.XTo - pe.XFrom) / float64(last-first+1)
			idx := int((x - pe.XFrom) / share)
			return min(first+idx, last), true
		}
	}
	return -1, false
}

type placementJSON struct {
	Geometry    Geometry        `json:"geometry"`
	Elements    []PlacedElement `json:"elements"`
	Lines       []PlacedLine    `json:"lines"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}

// MarshalJSON 输出调试视图。
func (pl *Placement) MarshalJSON() ([]byte, error) {
	return json.Marshal(placementJSON{
		Geometry:    pl.geom,
		Elements:    pl.elements,
		Lines:       pl.lines,
		Diagnostics: pl.diagnostics,
	})
}
