package layout

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/ByLCY/scoreprint/sequence"
)

// 该文件定义抽象排版的结果，供数值排版、渲染与调试 JSON 共用。

// ElementKind 区分行内元素的种类。
type ElementKind int

const (
	KindMeasure ElementKind = iota
	KindLineHeader
	KindTimeSignatureChange
	KindGatheredRest
	KindRepeatedMeasure
)

func (k ElementKind) String() string {
	switch k {
	case KindMeasure:
		return "measure"
	case KindLineHeader:
		return "line-header"
	case KindTimeSignatureChange:
		return "time-signature"
	case KindGatheredRest:
		return "gathered-rest"
	case KindRepeatedMeasure:
		return "repeated-measure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText 让调试 JSON 输出可读的种类名。
func (k ElementKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// LayoutElement 是放在行上的最小单位：一个小节，或行首、拍号变化、多小节休止、重复记号等合成元素。
type LayoutElement struct {
	Kind ElementKind `json:"kind"`
	// Measure 为引用的小节；行首为 -1。拍号变化引用其后的小节，但不覆盖它。
	Measure int `json:"measure"`
	// LastMeasure 是多小节休止与重复记号覆盖的最后一个小节（闭区间），其他种类等于 Measure。
	LastMeasure int     `json:"lastMeasure"`
	Width       float64 `json:"width"`

	RenderStartBar bool `json:"renderStartBar,omitempty"`
	RenderEndBar   bool `json:"renderEndBar,omitempty"`

	Num      int `json:"num,omitempty"`   // 拍号变化
	Denom    int `json:"denom,omitempty"` // 拍号变化
	RepeatOf int `json:"repeatOf"`        // 重复记号所重复的小节，其他种类为 -1
}

// Covers 返回元素覆盖的小节区间；行首与拍号变化不覆盖任何小节。
func (e LayoutElement) Covers() (first, last int, ok bool) {
	switch e.Kind {
	case KindMeasure, KindGatheredRest, KindRepeatedMeasure:
		return e.Measure, e.LastMeasure, true
	}
	return 0, 0, false
}

// TrackDetail 保存各视图渲染所需的尺寸信息，以 View 作为标签。
type TrackDetail struct {
	View      sequence.View `json:"view"`
	PitchLow  int           `json:"pitchLow,omitempty"`
	PitchHigh int           `json:"pitchHigh,omitempty"`
	Strings   int           `json:"strings,omitempty"`
	// LevelsAbove 是五线谱上方加线占用的 level 数，用于确定谱表位置。
	LevelsAbove int `json:"levelsAbove,omitempty"`
}

// TrackExtent 是一行中一个音轨占用的 level 区间 [LevelFrom, LevelTo)。
type TrackExtent struct {
	Track     int         `json:"track"`
	LevelFrom int         `json:"levelFrom"`
	LevelTo   int         `json:"levelTo"`
	Detail    TrackDetail `json:"detail"`
}

// Levels returns LevelTo - LevelFrom.
func (t TrackExtent) Levels() int { return t.LevelTo - t.LevelFrom }

// LayoutLine 引用元素仓库中的连续区间 [First, Last]。
type LayoutLine struct {
	First            int           `json:"first"`
	Last             int           `json:"last"`
	Span             MeasureSpan   `json:"span"`
	Width            float64       `json:"width"` // 含间距的抽象宽度
	Tracks           []TrackExtent `json:"tracks"`
	TotalLevelHeight int           `json:"totalLevelHeight"`
}

// LayoutPage 记录页面上的行下标。
type LayoutPage struct {
	Lines  []int `json:"lines"`
	Height int   `json:"height"` // 含行间距的 level 总数
}

// Layout 是抽象排版的结果。构建完成后不可修改，可以被多个 goroutine 同时读取。
type Layout struct {
	jobID       uuid.UUID
	opts        Options
	trackIDs    []int
	measures    []*MeasureDescriptor
	elements    []LayoutElement
	lines       []LayoutLine
	pages       []LayoutPage
	lineToPage  []int
	diagnostics []Diagnostic
}

// JobID 返回生成该布局的任务 id。
func (l *Layout) JobID() uuid.UUID { return l.jobID }

// Options 返回构建时使用的配置。
func (l *Layout) Options() Options { return l.opts }

// TrackIDs 返回按打印顺序排列的音轨 id。
func (l *Layout) TrackIDs() []int { return slices.Clone(l.trackIDs) }

// MeasureCount 返回小节数量。
func (l *Layout) MeasureCount() int { return len(l.measures) }

// Measure 返回小节描述。调用方不得修改返回值。
func (l *Layout) Measure(i int) *MeasureDescriptor { return l.measures[i] }

// ElementCount 返回元素数量。
func (l *Layout) ElementCount() int { return len(l.elements) }

// Element 返回第 i 个元素的副本。
func (l *Layout) Element(i int) LayoutElement { return l.elements[i] }

// LineCount 返回行数。
func (l *Layout) LineCount() int { return len(l.lines) }

// Line 返回第 i 行的副本。
func (l *Layout) Line(i int) LayoutLine {
	line := l.lines[i]
	line.Tracks = slices.Clone(line.Tracks)
	return line
}

// LineElements 返回第 i 行的元素副本。
func (l *Layout) LineElements(i int) []LayoutElement {
	line := l.lines[i]
	return slices.Clone(l.elements[line.First : line.Last+1])
}

// PageCount 返回页数。
func (l *Layout) PageCount() int { return len(l.pages) }

// Page 返回第 i 页的副本。
func (l *Layout) Page(i int) LayoutPage {
	p := l.pages[i]
	p.Lines = slices.Clone(p.Lines)
	return p
}

// PageOfLine 返回行所在的页，行号越界时返回 -1。
func (l *Layout) PageOfLine(line int) int {
	if line < 0 || line >= len(l.lineToPage) {
		return -1
	}
	return l.lineToPage[line]
}

// Diagnostics 返回构建过程中被恢复的异常。
func (l *Layout) Diagnostics() []Diagnostic { return slices.Clone(l.diagnostics) }

// CoveredMeasures 按页、行、元素顺序列出被覆盖的小节，用于校验每个小节恰好出现一次。
func (l *Layout) CoveredMeasures() []int {
	var out []int
	for _, p := range l.pages {
		for _, li := range p.Lines {
			line := l.lines[li]
			for _, e := range l.elements[line.First : line.Last+1] {
				first, last, ok := e.Covers()
				if !ok {
					continue
				}
				for m := first; m <= last; m++ {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// lineOfMeasure 返回覆盖小节 m 的行，找不到时返回 -1。
func (l *Layout) lineOfMeasure(m int) int {
	i, found := slices.BinarySearchFunc(l.lines, m, func(line LayoutLine, m int) int {
		switch {
		case line.Span.Last < m:
			return -1
		case line.Span.First > m:
			return 1
		}
		return 0
	})
	if !found {
		return -1
	}
	return i
}

// measureAtTick 返回包含 tick 的小节，找不到时返回 -1。
func (l *Layout) measureAtTick(tick int) int {
	i, found := slices.BinarySearchFunc(l.measures, tick, func(m *MeasureDescriptor, tick int) int {
		switch {
		case m.LastTick <= tick:
			return -1
		case m.FirstTick > tick:
			return 1
		}
		return 0
	})
	if !found {
		return -1
	}
	return i
}

type layoutJSON struct {
	JobID       string               `json:"jobId"`
	Tracks      []int                `json:"tracks"`
	Measures    []*MeasureDescriptor `json:"measures"`
	Elements    []LayoutElement      `json:"elements"`
	Lines       []LayoutLine         `json:"lines"`
	Pages       []LayoutPage         `json:"pages"`
	Diagnostics []Diagnostic         `json:"diagnostics,omitempty"`
}

// MarshalJSON 输出调试视图。
func (l *Layout) MarshalJSON() ([]byte, error) {
	return json.Marshal(layoutJSON{
		JobID:       l.jobID.String(),
		Tracks:      l.trackIDs,
		Measures:    l.measures,
		Elements:    l.elements,
		Lines:       l.lines,
		Pages:       l.pages,
		Diagnostics: l.diagnostics,
	})
}
