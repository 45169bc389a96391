package layout

import (
	"errors"
	"fmt"
)

// 排版过程中的错误分为两类：
//   - 致命错误（配置或输入不合法）在 API 边界直接返回；
//   - 可恢复的异常（单个符号、单行过宽）在内部降级处理，并记录为 Diagnostic。

// 哨兵错误，供 errors.Is 判断。
var (
	ErrInvalidRange    = errors.New("layout: 非法的 tick 区间")
	ErrUnresolvedTick  = errors.New("layout: tick 没有对应的符号")
	ErrOverfull        = errors.New("layout: 内容超出容器尺寸")
	ErrZeroPageHeight  = errors.New("layout: 页面可用高度必须大于 0")
	ErrZeroLineWidth   = errors.New("layout: 目标行宽必须大于 0")
	ErrNoTracks        = errors.New("layout: 序列中没有可打印的音轨")
	ErrNilSequence     = errors.New("layout: 序列为空")
	ErrNoNotation      = errors.New("layout: 缺少记谱尺寸后端 Notation")
	ErrBuilderConsumed = errors.New("layout: Builder 只能 Build 一次")
	ErrDegenerate      = errors.New("layout: 坐标退化")
	ErrNilLayout       = errors.New("layout: 布局为空")
	ErrNotOnLine       = errors.New("layout: 小节或音轨不在该行")
)

// InvalidRangeError 表示 tickFrom ≥ tickTo 的符号请求或小节，也用于宽度不为正的请求。
type InvalidRangeError struct {
	From, To int
	Track    int
	Width    float64
}

func (e *InvalidRangeError) Error() string {
	if e.From < e.To {
		return fmt.Sprintf("%v: track %d [%d, %d) 宽度 %g 不为正", ErrInvalidRange, e.Track, e.From, e.To, e.Width)
	}
	return fmt.Sprintf("%v: track %d [%d, %d)", ErrInvalidRange, e.Track, e.From, e.To)
}

// Unwrap 使 errors.Is(err, ErrInvalidRange) 成立。
func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// UnresolvedTickError 表示查询的 tick 没有被任何符号覆盖，结果退化为锚点。
type UnresolvedTickError struct {
	Tick   int
	Anchor int // 退化锚点所在的边界 tick
}

func (e *UnresolvedTickError) Error() string {
	return fmt.Sprintf("%v: tick %d，退化到边界 %d", ErrUnresolvedTick, e.Tick, e.Anchor)
}

func (e *UnresolvedTickError) Unwrap() error { return ErrUnresolvedTick }

// OverfullError 表示单个元素宽于目标行宽，或单行高于页面容量。
type OverfullError struct {
	Container string // "line" 或 "page"
	Index     int
	Need      float64
	Capacity  float64
}

func (e *OverfullError) Error() string {
	return fmt.Sprintf("%v: %s %d 需要 %g，容量 %g", ErrOverfull, e.Container, e.Index, e.Need, e.Capacity)
}

func (e *OverfullError) Unwrap() error { return ErrOverfull }

// DiagnosticKind 对 Diagnostic 分类。
type DiagnosticKind string

const (
	DiagInvalidRange   DiagnosticKind = "invalid-range"
	DiagUnresolvedTick DiagnosticKind = "unresolved-tick"
	DiagOverfullLine   DiagnosticKind = "overfull-line"
	DiagOverfullPage   DiagnosticKind = "overfull-page"
	DiagVertical       DiagnosticKind = "vertical-units"
	DiagDegenerate     DiagnosticKind = "degenerate"
)

// Diagnostic 记录一次已被恢复的排版异常。
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Measure int            `json:"measure"`
	Track   int            `json:"track"`
	Message string         `json:"message"`
}
