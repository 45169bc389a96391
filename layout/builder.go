package layout

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ByLCY/scoreprint/sequence"
)

// Builder 执行一次抽象排版。Build 只能调用一次，结果为不可变的 *Layout。
type Builder struct {
	seq      *sequence.Sequence
	opts     Options
	consumed bool
}

// NewBuilder 创建 Builder，配置在 Build 时校验。
func NewBuilder(seq *sequence.Sequence, opts Options) *Builder {
	return &Builder{seq: seq, opts: opts}
}

// Build 依次完成需求收集、元素合成、换行与分页。
// 配置错误直接返回；单个符号或单行过宽等异常被恢复并记录到 Layout.Diagnostics。
func (b *Builder) Build() (*Layout, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	if err := validate(b.seq, b.opts); err != nil {
		return nil, err
	}
	logger := b.opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	job := newJob(b.seq, logger)
	st := &buildState{
		seq:       b.seq,
		opts:      b.opts,
		job:       job,
		logger:    job.Logger,
		notations: make(map[int]Notation, len(b.seq.Tracks)),
	}
	for _, t := range b.seq.Tracks {
		n := b.opts.Notation(t)
		if n == nil {
			return nil, fmt.Errorf("%w: track %d (%s)", ErrNoNotation, t.ID, t.View)
		}
		st.notations[t.ID] = n
	}

	started := time.Now()
	st.logger.Debug("开始排版", "measures", b.seq.MeasureCount(), "tracks", len(b.seq.Tracks))
	if err := st.gatherRequirements(); err != nil {
		return nil, err
	}
	units := st.synthesize()
	st.packLines(units)
	st.measureLines()
	st.packPages()
	st.logger.Debug("排版完成",
		"lines", len(st.lines), "pages", len(st.pages),
		"diagnostics", len(st.diagnostics), "elapsed", time.Since(started))

	trackIDs := make([]int, len(b.seq.Tracks))
	for i, t := range b.seq.Tracks {
		trackIDs[i] = t.ID
	}
	return &Layout{
		jobID:       job.ID,
		opts:        b.opts,
		trackIDs:    trackIDs,
		measures:    st.measures,
		elements:    st.elements,
		lines:       st.lines,
		pages:       st.pages,
		lineToPage:  st.lineToPage,
		diagnostics: st.diagnostics,
	}, nil
}

// Build 是 NewBuilder(seq, opts).Build() 的简写。
func Build(seq *sequence.Sequence, opts Options) (*Layout, error) {
	return NewBuilder(seq, opts).Build()
}

func validate(seq *sequence.Sequence, opts Options) error {
	switch {
	case seq == nil:
		return ErrNilSequence
	case opts.LineWidth <= 0:
		return fmt.Errorf("%w: %g", ErrZeroLineWidth, opts.LineWidth)
	case opts.PageHeight <= 0:
		return fmt.Errorf("%w: %d", ErrZeroPageHeight, opts.PageHeight)
	case len(seq.Tracks) == 0:
		return ErrNoTracks
	case opts.Notation == nil:
		return ErrNoNotation
	case seq.MeasureCount() == 0:
		return fmt.Errorf("layout: %w", sequence.ErrNoMeasures)
	}
	return nil
}

type buildState struct {
	seq       *sequence.Sequence
	opts      Options
	job       *Job
	logger    *log.Logger
	notations map[int]Notation

	measures    []*MeasureDescriptor
	elements    []LayoutElement
	lines       []LayoutLine
	pages       []LayoutPage
	lineToPage  []int
	diagnostics []Diagnostic
}

func (st *buildState) report(d Diagnostic) {
	st.diagnostics = append(st.diagnostics, d)
}

func (st *buildState) warn(kind DiagnosticKind, measure, track int, err error) {
	st.logger.Warn("排版异常", "kind", kind, "measure", measure, "track", track, "err", err)
	st.report(Diagnostic{Kind: kind, Measure: measure, Track: track, Message: err.Error()})
}

// gatherRequirements 为每个小节建立描述，并让各音轨的 Notation 登记符号宽度。
func (st *buildState) gatherRequirements() error {
	n := st.seq.MeasureCount()
	st.measures = make([]*MeasureDescriptor, 0, n)
	for m := 0; m < n; m++ {
		first, last := st.seq.MeasureBounds(m)
		md, err := newMeasureDescriptor(m, first, last, st.opts.SymbolTrailingMargin)
		if err != nil {
			return fmt.Errorf("小节 %d: %w", m, err)
		}
		md.Signature = st.seq.SignatureAt(m)
		md.Allocator.logger = st.logger
		md.Allocator.report = st.report
		md.setContent(st.seq.Tracks)
		for _, t := range st.seq.Tracks {
			st.notations[t.ID].RegisterSymbolWidths(st.job, md, t, md.Allocator)
		}
		md.Allocator.freeze()
		st.measures = append(st.measures, md)
	}
	return nil
}

func (st *buildState) measureWidth(md *MeasureDescriptor) float64 {
	return max(md.Allocator.NaturalWidth(), st.opts.MinMeasureWidth)
}

// unit 是不能被换行拆开的一组元素。
type unit struct {
	elements []LayoutElement
}

func (u *unit) width(margin float64) float64 {
	w := 0.0
	for _, e := range u.elements {
		w += e.Width + margin
	}
	return w
}

// synthesize 按时间顺序生成元素，并把拍号变化与其后的小节、小节与其重复记号绑定为一个单元。
func (st *buildState) synthesize() []unit {
	var units []unit
	n := len(st.measures)
	for m := 0; m < n; {
		var cur unit
		if st.seq.SignatureChangesAt(m) {
			sig := st.measures[m].Signature
			cur.elements = append(cur.elements, LayoutElement{
				Kind:        KindTimeSignatureChange,
				Measure:     m,
				LastMeasure: m,
				Width:       st.opts.TimeSigWidth,
				Num:         sig.Num,
				Denom:       sig.Denom,
				RepeatOf:    -1,
			})
		}

		if st.opts.GatherRests {
			if last := st.restRunEnd(m); last > m {
				cur.elements = append(cur.elements, LayoutElement{
					Kind:         KindGatheredRest,
					Measure:      m,
					LastMeasure:  last,
					Width:        st.opts.GatheredRestWidth,
					RenderEndBar: true,
					RepeatOf:     -1,
				})
				units = append(units, cur)
				m = last + 1
				continue
			}
		}

		md := st.measures[m]
		cur.elements = append(cur.elements, LayoutElement{
			Kind:         KindMeasure,
			Measure:      m,
			LastMeasure:  m,
			Width:        st.measureWidth(md),
			RenderEndBar: true,
			RepeatOf:     -1,
		})
		next := m + 1
		if st.opts.CollapseRepeats {
			if last := st.repeatRunEnd(m); last > m {
				cur.elements = append(cur.elements, LayoutElement{
					Kind:         KindRepeatedMeasure,
					Measure:      m + 1,
					LastMeasure:  last,
					Width:        st.opts.RepeatWidth,
					RenderEndBar: true,
					RepeatOf:     m,
				})
				st.logger.Debug("折叠重复小节", "source", m, "from", m+1, "to", last)
				next = last + 1
			}
		}
		units = append(units, cur)
		m = next
	}
	return units
}

// restRunEnd 返回从 m 开始、拍号不变的连续空小节的最后一个；不足两个时返回 m。
func (st *buildState) restRunEnd(m int) int {
	if !st.measures[m].Empty {
		return m
	}
	last := m
	for last+1 < len(st.measures) && st.measures[last+1].Empty && !st.seq.SignatureChangesAt(last+1) {
		last++
	}
	return last
}

// repeatRunEnd 返回紧跟在 src 之后、内容与 src 完全相同的连续小节的最后一个；没有时返回 src。
// 只要有歧义（跨小节线的音符、拍号变化、空小节），就保留原样，不做折叠。
func (st *buildState) repeatRunEnd(src int) int {
	tracks := st.seq.Tracks
	source := st.measures[src]
	if source.Empty || source.crossesBarline(tracks) {
		return src
	}
	last := src
	for k := src + 1; k < len(st.measures); k++ {
		cand := st.measures[k]
		if cand.Empty || st.seq.SignatureChangesAt(k) || cand.crossesBarline(tracks) || !cand.sameContent(source, tracks) {
			break
		}
		last = k
	}
	return last
}

// lineCollector 以贪心方式把单元放进行，行首总是一个 LineHeader。
type lineCollector struct {
	st          *buildState
	headerWidth float64
	used        float64
	units       int // 当前行已放入的单元数
	current     int // 当前行下标，-1 表示还没有行
}

func (lc *lineCollector) newLine() {
	st := lc.st
	st.elements = append(st.elements, LayoutElement{
		Kind:           KindLineHeader,
		Measure:        -1,
		LastMeasure:    -1,
		Width:          lc.headerWidth,
		RenderStartBar: true,
		RepeatOf:       -1,
	})
	idx := len(st.elements) - 1
	st.lines = append(st.lines, LayoutLine{First: idx, Last: idx, Span: MeasureSpan{First: -1, Last: -1}})
	lc.current = len(st.lines) - 1
	lc.used = lc.headerWidth + st.opts.MeasureMargin
	lc.units = 0
}

// ensureSpace 在当前行放不下宽度为 w 的单元时换行。
func (lc *lineCollector) ensureSpace(w float64) {
	if lc.current >= 0 && (lc.units == 0 || lc.used+w <= lc.st.opts.LineWidth) {
		return
	}
	lc.newLine()
}

func (lc *lineCollector) add(u unit) {
	st := lc.st
	w := u.width(st.opts.MeasureMargin)
	lc.ensureSpace(w)
	line := &st.lines[lc.current]
	for _, e := range u.elements {
		st.elements = append(st.elements, e)
		line.Last = len(st.elements) - 1
		if first, last, ok := e.Covers(); ok {
			if line.Span.First < 0 {
				line.Span.First = first
			}
			line.Span.Last = last
		} else if e.Kind == KindTimeSignatureChange && line.Span.First < 0 {
			line.Span.First = e.Measure
		}
	}
	lc.used += w
	lc.units++
	line.Width = lc.used
	if lc.units == 1 && lc.used > st.opts.LineWidth {
		err := &OverfullError{Container: "line", Index: lc.current, Need: lc.used, Capacity: st.opts.LineWidth}
		st.warn(DiagOverfullLine, line.Span.First, -1, err)
	}
}

// packLines 对应换行阶段：单元按顺序放入，超宽的单元单独占一行而不会被丢弃或拆开。
func (st *buildState) packLines(units []unit) {
	lc := &lineCollector{st: st, current: -1}
	for _, t := range st.seq.Tracks {
		lc.headerWidth = max(lc.headerWidth, st.notations[t.ID].LineHeaderWidth(t))
	}
	st.elements = make([]LayoutElement, 0, len(units)*2)
	for _, u := range units {
		lc.add(u)
	}
}

// measureLines 计算每一行各音轨的垂直需求。
func (st *buildState) measureLines() {
	for i := range st.lines {
		line := &st.lines[i]
		line.Tracks = make([]TrackExtent, 0, len(st.seq.Tracks))
		cursor := 0
		for ti, t := range st.seq.Tracks {
			levels, detail := st.notations[t.ID].VerticalUnitsNeeded(st.job, t, line.Span)
			if levels < 1 {
				st.warn(DiagVertical, line.Span.First, t.ID, fmt.Errorf("音轨需要 %d 个 level，按 1 处理", levels))
				levels = 1
			}
			if detail.View == "" {
				detail.View = t.View
			}
			if ti > 0 {
				cursor += st.opts.TrackMargin
			}
			line.Tracks = append(line.Tracks, TrackExtent{
				Track:     t.ID,
				LevelFrom: cursor,
				LevelTo:   cursor + levels,
				Detail:    detail,
			})
			cursor += levels
		}
		line.TotalLevelHeight = cursor
	}
}

// pageCollector 以贪心方式把行放进页面。
type pageCollector struct {
	st      *buildState
	used    int
	current int
}

func (pc *pageCollector) newPage() {
	pc.st.pages = append(pc.st.pages, LayoutPage{})
	pc.current = len(pc.st.pages) - 1
	pc.used = 0
}

// ensureSpace 在当前页放不下 need 个 level 时分页。恰好放满时不分页。
func (pc *pageCollector) ensureSpace(need int) {
	if pc.current >= 0 && (len(pc.st.pages[pc.current].Lines) == 0 || pc.used+need <= pc.st.opts.PageHeight) {
		return
	}
	pc.newPage()
}

func (pc *pageCollector) add(lineIdx int) {
	st := pc.st
	h := st.lines[lineIdx].TotalLevelHeight
	need := h
	if pc.current >= 0 && len(st.pages[pc.current].Lines) > 0 {
		need += st.opts.LineMargin
	}
	pc.ensureSpace(need)
	page := &st.pages[pc.current]
	if len(page.Lines) == 0 {
		need = h
	}
	page.Lines = append(page.Lines, lineIdx)
	pc.used += need
	page.Height = pc.used
	st.lineToPage = append(st.lineToPage, pc.current)
	if len(page.Lines) == 1 && h > st.opts.PageHeight {
		err := &OverfullError{Container: "page", Index: pc.current, Need: float64(h), Capacity: float64(st.opts.PageHeight)}
		st.warn(DiagOverfullPage, st.lines[lineIdx].Span.First, -1, err)
	}
}

func (st *buildState) packPages() {
	pc := &pageCollector{st: st, current: -1}
	st.lineToPage = make([]int, 0, len(st.lines))
	for i := range st.lines {
		pc.add(i)
	}
}
