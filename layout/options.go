package layout

import (
	"github.com/charmbracelet/log"

	"github.com/ByLCY/scoreprint/sequence"
)

// 抽象单位的默认值。水平方向的抽象单位在默认配置下约等于 1mm，
// 垂直方向的 level 对应五线谱一个线间距。
const (
	DefaultLineWidth         = 180.0
	DefaultPageHeight        = 120
	DefaultMeasureMargin     = 1.0
	DefaultTrackMargin       = 2
	DefaultLineMargin        = 0
	DefaultMinMeasureWidth   = 8.0
	DefaultTimeSigWidth      = 5.0
	DefaultGatheredRestWidth = 24.0
	DefaultRepeatWidth       = 10.0

	DefaultMaxLevelHeight = 2.2
	DefaultElementMaxZoom = 1.6
	DefaultEndBarSlack    = 6.0
)

// Options 配置抽象排版（换行、分页）阶段。
type Options struct {
	LineWidth       float64 // 目标行宽（抽象单位）
	PageHeight      int     // 页面可用高度（level）
	MeasureMargin   float64 // 元素之间的间距，计入行宽
	TrackMargin     int     // 同一行内音轨之间的 level 间距
	LineMargin      int     // 行与行之间的 level 间距
	MinMeasureWidth float64

	TimeSigWidth      float64
	GatheredRestWidth float64
	RepeatWidth       float64
	// SymbolTrailingMargin 追加在每个小节最后一个符号之后；为负时使用 DefaultSymbolTrailingMargin。
	SymbolTrailingMargin float64

	CollapseRepeats bool // 把与前一小节完全相同的连续小节折叠为重复记号
	GatherRests     bool // 把连续的空小节合并为一个多小节休止

	Notation NotationResolver
	Logger   *log.Logger
}

// DefaultOptions 返回一组适合 A4 纵向页面的默认配置，Notation 需要调用方填充。
func DefaultOptions() Options {
	return Options{
		LineWidth:            DefaultLineWidth,
		PageHeight:           DefaultPageHeight,
		MeasureMargin:        DefaultMeasureMargin,
		TrackMargin:          DefaultTrackMargin,
		LineMargin:           DefaultLineMargin,
		MinMeasureWidth:      DefaultMinMeasureWidth,
		TimeSigWidth:         DefaultTimeSigWidth,
		GatheredRestWidth:    DefaultGatheredRestWidth,
		RepeatWidth:          DefaultRepeatWidth,
		SymbolTrailingMargin: -1,
		GatherRests:          true,
	}
}

// NumericOptions 配置数值排版（坐标解析）阶段，长度单位与 Geometry 一致。
type NumericOptions struct {
	MaxLevelHeight float64 // 单个 level 的最大物理高度，避免稀疏页面被过度拉伸
	ElementMaxZoom float64 // 水平方向的最大缩放倍率
	MeasureMargin  float64 // 元素之间的物理间距，不参与缩放
	EndBarSlack    float64 // 行尾剩余空间不超过该值时由最后一个元素吸收
	Strict         bool    // 为 true 时坐标退化直接报错，否则修正并记录 Diagnostic
	Logger         *log.Logger
}

// DefaultNumericOptions 返回以毫米为单位的默认数值排版配置。
func DefaultNumericOptions() NumericOptions {
	return NumericOptions{
		MaxLevelHeight: DefaultMaxLevelHeight,
		ElementMaxZoom: DefaultElementMaxZoom,
		MeasureMargin:  DefaultMeasureMargin,
		EndBarSlack:    DefaultEndBarSlack,
	}
}

// MeasureSpan 是一行覆盖的小节闭区间。
type MeasureSpan struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Contains 判断 m 是否在区间内。
func (s MeasureSpan) Contains(m int) bool { return m >= s.First && m <= s.Last }

// Notation 由各个视图（五线谱、六线谱、卷帘、鼓谱）实现，
// 告诉排版引擎一个音轨需要多少水平与垂直空间。引擎不关心空间需求的原因。
type Notation interface {
	// RegisterSymbolWidths 把 track 在小节 m 内的符号宽度登记到 alloc。
	RegisterSymbolWidths(job *Job, m *MeasureDescriptor, track *sequence.Track, alloc *SymbolSpaceAllocator)
	// VerticalUnitsNeeded 返回 track 在 span 覆盖的行中需要的 level 数，以及渲染所需的尺寸信息。
	VerticalUnitsNeeded(job *Job, track *sequence.Track, span MeasureSpan) (int, TrackDetail)
	// LineHeaderWidth 返回行首（谱号、调号等）所需宽度。
	LineHeaderWidth(track *sequence.Track) float64
}

// NotationResolver 为每个音轨选择 Notation 实现。
type NotationResolver func(track *sequence.Track) Notation
