package layout

import (
	"errors"
	"sort"

	"github.com/charmbracelet/log"
)

// DefaultSymbolTrailingMargin 是最后一个符号之后追加的留白（抽象单位）。
const DefaultSymbolTrailingMargin = 2.0

var errAllocatorFrozen = errors.New("layout: 小节排版完成后不能再登记符号")

// Range 是 [0,1] 内的相对水平区间。
type Range struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Width returns To - From.
func (r Range) Width() float64 { return r.To - r.From }

// SilenceSymbol 是批量登记的休止符请求。
type SilenceSymbol struct {
	From, To int
	Width    float64
}

type symbolRequest struct {
	from, to int
	width    float64
	track    int
}

// SymbolSpaceAllocator 收集一个小节内各音轨的符号宽度需求，
// 并把 tick 换算成小节内的相对水平位置。
//
// 各音轨对同一时间段的需求取最大值而不是相加：同一 tick 上的和弦音共享一个槽位。
type SymbolSpaceAllocator struct {
	requests     []symbolRequest
	trailing     float64
	logger       *log.Logger
	report       func(Diagnostic)
	measure      int
	frozen       bool
	resolved     bool
	bounds       []int     // 排序去重后的边界 tick
	slotWidths   []float64 // slotWidths[i] 对应 [bounds[i], bounds[i+1])
	slotStarts   []float64 // 槽位起点（抽象单位），len = len(bounds)
	naturalWidth float64
}

// NewSymbolSpaceAllocator 创建空的分配器；trailing 为负时使用默认留白。
func NewSymbolSpaceAllocator(trailing float64) *SymbolSpaceAllocator {
	if trailing < 0 {
		trailing = DefaultSymbolTrailingMargin
	}
	return &SymbolSpaceAllocator{trailing: trailing, measure: -1}
}

// AddSymbol 登记一个符号需求。tickFrom ≥ tickTo 或宽度不为正时返回 *InvalidRangeError，
// 该请求被丢弃。
func (a *SymbolSpaceAllocator) AddSymbol(tickFrom, tickTo int, requiredWidth float64, track int) error {
	if a.frozen {
		return errAllocatorFrozen
	}
	if tickFrom >= tickTo || requiredWidth <= 0 {
		err := &InvalidRangeError{From: tickFrom, To: tickTo, Track: track, Width: requiredWidth}
		a.diagnose(DiagInvalidRange, track, err.Error())
		return err
	}
	a.requests = append(a.requests, symbolRequest{from: tickFrom, to: tickTo, width: requiredWidth, track: track})
	a.resolved = false
	return nil
}

// AddSilenceSymbols 批量登记休止符；起点不在 [fromTick, toTick) 内的休止符被静默忽略。
func (a *SymbolSpaceAllocator) AddSilenceSymbols(silences []SilenceSymbol, track int, fromTick, toTick int) {
	for _, s := range silences {
		if s.From < fromTick || s.From >= toTick {
			continue
		}
		// 错误已经记入诊断信息
		_ = a.AddSymbol(s.From, s.To, s.Width, track)
	}
}

// Len 返回已登记的请求数量。
func (a *SymbolSpaceAllocator) Len() int { return len(a.requests) }

func (a *SymbolSpaceAllocator) diagnose(kind DiagnosticKind, track int, msg string) {
	if a.logger != nil {
		a.logger.Warn("排版异常", "kind", kind, "measure", a.measure, "track", track, "detail", msg)
	}
	if a.report != nil {
		a.report(Diagnostic{Kind: kind, Measure: a.measure, Track: track, Message: msg})
	}
}

// resolve 计算槽位宽度。结果只取决于请求集合，与登记顺序无关。
func (a *SymbolSpaceAllocator) resolve() {
	if a.resolved {
		return
	}
	a.resolved = true
	a.bounds = a.bounds[:0]
	a.slotWidths = nil
	a.slotStarts = nil
	a.naturalWidth = 0
	if len(a.requests) == 0 {
		return
	}

	seen := make(map[int]struct{}, len(a.requests)*2)
	for _, r := range a.requests {
		for _, t := range [2]int{r.from, r.to} {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				a.bounds = append(a.bounds, t)
			}
		}
	}
	sort.Ints(a.bounds)

	a.slotWidths = make([]float64, len(a.bounds)-1)
	for _, r := range a.requests {
		i := sort.SearchInts(a.bounds, r.from)
		for ; i < len(a.slotWidths) && a.bounds[i] < r.to; i++ {
			if r.width > a.slotWidths[i] {
				a.slotWidths[i] = r.width
			}
		}
	}

	a.slotStarts = make([]float64, len(a.bounds))
	cursor := 0.0
	for i, w := range a.slotWidths {
		a.slotStarts[i] = cursor
		cursor += w
	}
	a.slotStarts[len(a.bounds)-1] = cursor
	a.naturalWidth = cursor + a.trailing
}

// freeze 完成解析并禁止后续登记，之后的查询可以并发进行。
func (a *SymbolSpaceAllocator) freeze() {
	a.resolve()
	a.frozen = true
}

// NaturalWidth 返回所有槽位宽度之和加上尾部留白（缩放倍率为 1 时的宽度）。
// 没有任何请求时返回 0。
func (a *SymbolSpaceAllocator) NaturalWidth() float64 {
	a.resolve()
	return a.naturalWidth
}

// SlotWidth 返回 tick 所在槽位的宽度；未被覆盖时为 0。
func (a *SymbolSpaceAllocator) SlotWidth(tick int) float64 {
	a.resolve()
	i, ok := a.slotIndex(tick)
	if !ok {
		return 0
	}
	return a.slotWidths[i]
}

// slotIndex 返回满足 bounds[i] ≤ tick < bounds[i+1] 的 i。
func (a *SymbolSpaceAllocator) slotIndex(tick int) (int, bool) {
	if len(a.slotWidths) == 0 || tick < a.bounds[0] || tick >= a.bounds[len(a.bounds)-1] {
		return 0, false
	}
	return sort.SearchInts(a.bounds, tick+1) - 1, true
}

// Lookup 返回 tick 对应的相对区间；ok 为 false 表示没有符号覆盖该 tick，
// 此时区间退化为最近的下边界处的零宽锚点（没有下边界时为 0）。
func (a *SymbolSpaceAllocator) Lookup(tick int) (Range, bool) {
	a.resolve()
	if a.naturalWidth <= 0 {
		return Range{}, false
	}
	if len(a.bounds) == 0 || tick < a.bounds[0] {
		return Range{}, false
	}
	if tick >= a.bounds[len(a.bounds)-1] {
		end := a.slotStarts[len(a.slotStarts)-1] / a.naturalWidth
		return Range{From: end, To: end}, false
	}
	i, _ := a.slotIndex(tick)
	from := a.slotStarts[i] / a.naturalWidth
	if a.slotWidths[i] == 0 {
		return Range{From: from, To: from}, false
	}
	return Range{From: from, To: a.slotStarts[i+1] / a.naturalWidth}, true
}

// SymbolRelativeArea 返回 tick 上符号应占据的相对区间。
// 未覆盖的 tick 会得到退化锚点并记录日志，不会失败。
func (a *SymbolSpaceAllocator) SymbolRelativeArea(tick int) Range {
	r, ok := a.Lookup(tick)
	if !ok && a.logger != nil {
		a.logger.Debug("tick 未被符号覆盖，使用退化锚点", "measure", a.measure, "tick", tick, "anchor", r.From)
	}
	return r
}

// anchorTick 返回 tick 的最近下边界，用于错误信息。
func (a *SymbolSpaceAllocator) anchorTick(tick int) int {
	a.resolve()
	i := sort.SearchInts(a.bounds, tick+1) - 1
	if i < 0 {
		return tick
	}
	return a.bounds[i]
}
