package layout

import (
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ByLCY/scoreprint/sequence"
)

// stubNotation 是一个最小实现，仅用于测试，避免引入 notation 包造成循环依赖。
// width 不为空时每个小节登记一个固定宽度的符号；否则每个音符登记 noteWidth，空隙登记 restWidth。
type stubNotation struct {
	width     func(m int) float64
	noteWidth float64
	restWidth float64
	levels    int
	header    float64
}

func (s *stubNotation) RegisterSymbolWidths(job *Job, m *MeasureDescriptor, track *sequence.Track, alloc *SymbolSpaceAllocator) {
	if s.width != nil {
		if w := s.width(m.ID); w > 0 {
			_ = alloc.AddSymbol(m.FirstTick, m.LastTick, w, track.ID)
		}
		return
	}
	for _, n := range m.Notes(track) {
		_ = alloc.AddSymbol(n.Start, n.End, s.noteWidth, track.ID)
	}
	if s.restWidth > 0 {
		var rests []SilenceSymbol
		for _, r := range track.Silences(m.FirstTick, m.LastTick) {
			rests = append(rests, SilenceSymbol{From: r.Start, To: r.End, Width: s.restWidth})
		}
		alloc.AddSilenceSymbols(rests, track.ID, m.FirstTick, m.LastTick)
	}
}

func (s *stubNotation) VerticalUnitsNeeded(job *Job, track *sequence.Track, span MeasureSpan) (int, TrackDetail) {
	low, high, _ := job.SpanPitchRange(track, span)
	return s.levels, TrackDetail{View: track.View, PitchLow: low, PitchHigh: high}
}

func (s *stubNotation) LineHeaderWidth(*sequence.Track) float64 { return s.header }

func quietLogger() *log.Logger { return log.New(io.Discard) }

// testOptions 关闭所有间距，使宽度计算与场景描述一一对应。
func testOptions(n Notation) Options {
	return Options{
		LineWidth:            250,
		PageHeight:           100,
		SymbolTrailingMargin: 0,
		TimeSigWidth:         5,
		GatheredRestWidth:    20,
		RepeatWidth:          10,
		Notation:             func(*sequence.Track) Notation { return n },
		Logger:               quietLogger(),
	}
}

func constWidth(w float64) func(int) float64 { return func(int) float64 { return w } }

// newSeq 构建 4/4、每拍 480 tick（每小节 1920 tick）的序列。
func newSeq(t *testing.T, measures int, tracks ...*sequence.Track) *sequence.Sequence {
	t.Helper()
	if len(tracks) == 0 {
		tracks = []*sequence.Track{{ID: 0, View: sequence.ViewScore}}
	}
	seq := &sequence.Sequence{TicksPerBeat: 480, Measures: measures, Tracks: tracks}
	require.NoError(t, seq.Prepare())
	return seq
}

func build(t *testing.T, seq *sequence.Sequence, opts Options) *Layout {
	t.Helper()
	l, err := Build(seq, opts)
	require.NoError(t, err)
	assertCoverage(t, l, seq.MeasureCount())
	return l
}

// assertCoverage 断言：所有页面的元素恰好覆盖每个小节一次，且按顺序。
func assertCoverage(t *testing.T, l *Layout, measures int) {
	t.Helper()
	got := l.CoveredMeasures()
	require.Len(t, got, measures)
	for i, m := range got {
		require.Equal(t, i, m, "第 %d 个被覆盖的小节", i)
	}
}

func lineMeasures(l *Layout, line int) []int {
	var out []int
	for _, e := range l.LineElements(line) {
		if first, last, ok := e.Covers(); ok {
			for m := first; m <= last; m++ {
				out = append(out, m)
			}
		}
	}
	return out
}

func TestTwoMeasuresPerLine(t *testing.T) {
	seq := newSeq(t, 4)
	l := build(t, seq, testOptions(&stubNotation{width: constWidth(100), levels: 4}))

	require.Equal(t, 2, l.LineCount())
	assert.Equal(t, []int{0, 1}, lineMeasures(l, 0))
	assert.Equal(t, []int{2, 3}, lineMeasures(l, 1))
	assert.Empty(t, l.Diagnostics())

	els := l.LineElements(0)
	require.Len(t, els, 3)
	assert.Equal(t, KindLineHeader, els[0].Kind)
	assert.True(t, els[0].RenderStartBar)
	assert.Equal(t, -1, els[0].Measure)
	assert.Equal(t, 100.0, els[1].Width)
}

func TestOversizedMeasureAloneOnLine(t *testing.T) {
	seq := newSeq(t, 1)
	l := build(t, seq, testOptions(&stubNotation{width: constWidth(500), levels: 4}))
	require.Equal(t, 1, l.LineCount())
	assert.Equal(t, []int{0}, lineMeasures(l, 0))

	diags := l.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, DiagOverfullLine, diags[0].Kind)

	widths := map[int]float64{0: 100, 1: 500, 2: 100}
	seq = newSeq(t, 3)
	l = build(t, seq, testOptions(&stubNotation{width: func(m int) float64 { return widths[m] }, levels: 4}))
	require.Equal(t, 3, l.LineCount())
	for i := 0; i < 3; i++ {
		assert.Equal(t, []int{i}, lineMeasures(l, i))
	}
}

func TestTotalLevelHeight(t *testing.T) {
	seq := newSeq(t, 2,
		&sequence.Track{ID: 1, View: sequence.ViewScore},
		&sequence.Track{ID: 2, View: sequence.ViewTablature},
	)
	three := &stubNotation{width: constWidth(50), levels: 3}
	two := &stubNotation{width: constWidth(50), levels: 2}
	opts := testOptions(nil)
	opts.TrackMargin = 1
	opts.Notation = func(t *sequence.Track) Notation {
		if t.ID == 1 {
			return three
		}
		return two
	}
	l := build(t, seq, opts)
	line := l.Line(0)
	assert.Equal(t, 6, line.TotalLevelHeight)
	require.Len(t, line.Tracks, 2)
	assert.Equal(t, TrackExtent{Track: 1, LevelFrom: 0, LevelTo: 3, Detail: TrackDetail{View: sequence.ViewScore}}, line.Tracks[0])
	assert.Equal(t, 4, line.Tracks[1].LevelFrom)
	assert.Equal(t, 6, line.Tracks[1].LevelTo)
}

func TestVerticalUnitsClampedToOne(t *testing.T) {
	seq := newSeq(t, 1)
	l := build(t, seq, testOptions(&stubNotation{width: constWidth(10), levels: 0}))
	assert.Equal(t, 1, l.Line(0).TotalLevelHeight)
	require.Len(t, l.Diagnostics(), 1)
	assert.Equal(t, DiagVertical, l.Diagnostics()[0].Kind)
}

func TestExactPageFitStaysOnPage(t *testing.T) {
	seq := newSeq(t, 2)
	opts := testOptions(&stubNotation{width: constWidth(200), levels: 6})
	opts.PageHeight = 12
	l := build(t, seq, opts)
	require.Equal(t, 2, l.LineCount())
	require.Equal(t, 1, l.PageCount())
	assert.Equal(t, []int{0, 1}, l.Page(0).Lines)
	assert.Equal(t, 12, l.Page(0).Height)

	opts.PageHeight = 11
	l = build(t, seq, opts)
	assert.Equal(t, 2, l.PageCount())
	assert.Equal(t, 1, l.PageOfLine(1))
	assert.Equal(t, -1, l.PageOfLine(2))
}

func TestExactPageFitWithDefaultOptions(t *testing.T) {
	seq := newSeq(t, 2)
	opts := DefaultOptions()
	opts.Notation = func(*sequence.Track) Notation { return &stubNotation{width: constWidth(150), levels: 6} }
	opts.Logger = quietLogger()
	opts.GatherRests = false
	opts.PageHeight = 12
	l := build(t, seq, opts)
	require.Equal(t, 2, l.LineCount())
	require.Equal(t, 1, l.PageCount())
	assert.Equal(t, []int{0, 1}, l.Page(0).Lines)
	assert.Equal(t, 12, l.Page(0).Height)
}

func TestLineMarginCountsTowardsPage(t *testing.T) {
	seq := newSeq(t, 3)
	opts := testOptions(&stubNotation{width: constWidth(200), levels: 5})
	opts.PageHeight = 17
	opts.LineMargin = 2
	l := build(t, seq, opts)
	// 5 + 2 + 5 = 12，再加一行需要 19 > 17。
	require.Equal(t, 2, l.PageCount())
	assert.Equal(t, []int{0, 1}, l.Page(0).Lines)
	assert.Equal(t, []int{2}, l.Page(1).Lines)
}

func TestOversizedLineAloneOnPage(t *testing.T) {
	seq := newSeq(t, 2)
	opts := testOptions(&stubNotation{width: constWidth(200), levels: 30})
	opts.PageHeight = 20
	l := build(t, seq, opts)
	require.Equal(t, 2, l.PageCount())
	var overfull int
	for _, d := range l.Diagnostics() {
		if d.Kind == DiagOverfullPage {
			overfull++
		}
	}
	assert.Equal(t, 2, overfull)
}

func TestMarginsCountTowardsLineWidth(t *testing.T) {
	seq := newSeq(t, 4)
	opts := testOptions(&stubNotation{width: constWidth(100), levels: 4, header: 20})
	opts.MeasureMargin = 5
	// 行首 20+5，两个小节 2×105，共 235 ≤ 250；第三个小节放不下。
	l := build(t, seq, opts)
	require.Equal(t, 2, l.LineCount())
	assert.InDelta(t, 235, l.Line(0).Width, 1e-9)
	assert.Equal(t, 20.0, l.LineElements(1)[0].Width)
}

func TestTimeSignatureChangeStaysWithMeasure(t *testing.T) {
	seq := &sequence.Sequence{
		TicksPerBeat: 480,
		Measures:     4,
		Signatures:   []sequence.TimeSignature{{Measure: 2, Num: 3, Denom: 4}},
		Tracks:       []*sequence.Track{{ID: 0}},
	}
	require.NoError(t, seq.Prepare())
	opts := testOptions(&stubNotation{width: constWidth(100), levels: 4})
	opts.LineWidth = 300
	l := build(t, seq, opts)

	// 第三个小节前有拍号变化，100+100+5+100 > 300，拍号随小节一起换行。
	require.Equal(t, 2, l.LineCount())
	second := l.LineElements(1)
	require.Len(t, second, 4)
	assert.Equal(t, KindTimeSignatureChange, second[1].Kind)
	assert.Equal(t, 2, second[1].Measure)
	assert.Equal(t, 3, second[1].Num)
	assert.Equal(t, 4, second[1].Denom)
	assert.Equal(t, MeasureSpan{First: 2, Last: 3}, l.Line(1).Span)
}

func TestGatheredRests(t *testing.T) {
	track := &sequence.Track{ID: 0, Notes: []sequence.Note{
		{Start: 0, End: 480, Pitch: 60},
		{Start: 4 * 1920, End: 4*1920 + 480, Pitch: 62},
	}}
	seq := newSeq(t, 6, track)
	opts := testOptions(&stubNotation{noteWidth: 10, levels: 4})
	opts.GatherRests = true
	opts.MinMeasureWidth = 8
	l := build(t, seq, opts)

	els := l.LineElements(0)
	var kinds []ElementKind
	for _, e := range els {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []ElementKind{KindLineHeader, KindMeasure, KindGatheredRest, KindMeasure, KindMeasure}, kinds)
	assert.Equal(t, 1, els[2].Measure)
	assert.Equal(t, 3, els[2].LastMeasure)
	// 单个空小节不合并，宽度至少为 MinMeasureWidth。
	assert.Equal(t, 5, els[4].Measure)
	assert.Equal(t, 8.0, els[4].Width)
}

func TestGatheredRestsBreakAtSignatureChange(t *testing.T) {
	seq := &sequence.Sequence{
		TicksPerBeat: 480,
		Measures:     4,
		Signatures:   []sequence.TimeSignature{{Measure: 2, Num: 2, Denom: 4}},
		Tracks:       []*sequence.Track{{ID: 0}},
	}
	require.NoError(t, seq.Prepare())
	opts := testOptions(&stubNotation{levels: 4})
	opts.GatherRests = true
	l := build(t, seq, opts)
	var rests []LayoutElement
	for i := 0; i < l.ElementCount(); i++ {
		if e := l.Element(i); e.Kind == KindGatheredRest {
			rests = append(rests, e)
		}
	}
	require.Len(t, rests, 2)
	assert.Equal(t, [2]int{0, 1}, [2]int{rests[0].Measure, rests[0].LastMeasure})
	assert.Equal(t, [2]int{2, 3}, [2]int{rests[1].Measure, rests[1].LastMeasure})
}

func repeatedTrack(measures int) *sequence.Track {
	track := &sequence.Track{ID: 0}
	for m := 0; m < measures; m++ {
		base := m * 1920
		track.Notes = append(track.Notes,
			sequence.Note{Start: base, End: base + 960, Pitch: 60},
			sequence.Note{Start: base + 960, End: base + 1920, Pitch: 64},
		)
	}
	return track
}

func TestCollapseRepeats(t *testing.T) {
	track := repeatedTrack(4)
	track.Notes = append(track.Notes, sequence.Note{Start: 4 * 1920, End: 5 * 1920, Pitch: 67})
	seq := newSeq(t, 5, track)
	opts := testOptions(&stubNotation{noteWidth: 20, levels: 4})
	opts.CollapseRepeats = true
	l := build(t, seq, opts)

	els := l.LineElements(0)
	require.Len(t, els, 4)
	assert.Equal(t, KindMeasure, els[1].Kind)
	assert.Equal(t, KindRepeatedMeasure, els[2].Kind)
	assert.Equal(t, 0, els[2].RepeatOf)
	assert.Equal(t, 1, els[2].Measure)
	assert.Equal(t, 3, els[2].LastMeasure)
	assert.Equal(t, 4, els[3].Measure)
}

func TestCollapseRepeatsLeavesAmbiguousMeasures(t *testing.T) {
	track := repeatedTrack(3)
	// 第二小节的最后一个音延续到第三小节，折叠会改变含义。
	track.Notes[3].End = 2*1920 + 240
	seq := newSeq(t, 3, track)
	opts := testOptions(&stubNotation{noteWidth: 20, levels: 4})
	opts.CollapseRepeats = true
	l := build(t, seq, opts)
	for i := 0; i < l.ElementCount(); i++ {
		assert.NotEqual(t, KindRepeatedMeasure, l.Element(i).Kind)
	}
}

func TestRepeatUnitIsNotSplit(t *testing.T) {
	seq := newSeq(t, 3, repeatedTrack(3))
	opts := testOptions(&stubNotation{noteWidth: 100, levels: 4})
	opts.CollapseRepeats = true
	opts.LineWidth = 205
	l := build(t, seq, opts)
	// 小节 0 宽 200，重复记号 10，共 210 > 205：二者仍在同一行。
	require.Equal(t, 1, l.LineCount())
	assert.Equal(t, []int{0, 1, 2}, lineMeasures(l, 0))
	require.Len(t, l.Diagnostics(), 1)
	assert.Equal(t, DiagOverfullLine, l.Diagnostics()[0].Kind)
}

func TestInvalidSymbolRecordedAsDiagnostic(t *testing.T) {
	seq := newSeq(t, 1, &sequence.Track{ID: 7, Notes: []sequence.Note{{Start: 0, End: 480}}})
	opts := testOptions(&stubNotation{noteWidth: -1, levels: 4})
	l := build(t, seq, opts)
	diags := l.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, DiagInvalidRange, diags[0].Kind)
	assert.Equal(t, 7, diags[0].Track)
	assert.Equal(t, 0, diags[0].Measure)
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	seq := newSeq(t, 1)
	n := &stubNotation{width: constWidth(10), levels: 1}
	tests := []struct {
		name   string
		seq    *sequence.Sequence
		mutate func(*Options)
		want   error
	}{
		{"nil sequence", nil, func(*Options) {}, ErrNilSequence},
		{"zero line width", seq, func(o *Options) { o.LineWidth = 0 }, ErrZeroLineWidth},
		{"zero page height", seq, func(o *Options) { o.PageHeight = 0 }, ErrZeroPageHeight},
		{"no notation", seq, func(o *Options) { o.Notation = nil }, ErrNoNotation},
		{"notation returns nil", seq, func(o *Options) { o.Notation = func(*sequence.Track) Notation { return nil } }, ErrNoNotation},
		{"no tracks", &sequence.Sequence{Measures: 1}, func(*Options) {}, ErrNoTracks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(n)
			tt.mutate(&opts)
			_, err := Build(tt.seq, opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuilderIsConsumed(t *testing.T) {
	b := NewBuilder(newSeq(t, 1), testOptions(&stubNotation{width: constWidth(10), levels: 1}))
	_, err := b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	assert.True(t, errors.Is(err, ErrBuilderConsumed))
}

func TestJobCachesPitchRanges(t *testing.T) {
	track := &sequence.Track{ID: 3, Notes: []sequence.Note{
		{Start: 0, End: 480, Pitch: 60},
		{Start: 480, End: 2400, Pitch: 72},
		{Start: 1920, End: 2400, Pitch: 55},
	}}
	seq := newSeq(t, 2, track)
	job := newJob(seq, quietLogger())

	low, high, ok := job.PitchRange(track, 1)
	require.True(t, ok)
	assert.Equal(t, 55, low)
	assert.Equal(t, 72, high, "跨小节的音也计入")
	_, _, _ = job.PitchRange(track, 1)
	assert.Equal(t, 1, job.cachedPitchRanges())

	low, high, ok = job.SpanPitchRange(track, MeasureSpan{First: 0, Last: 1})
	require.True(t, ok)
	assert.Equal(t, [2]int{55, 72}, [2]int{low, high})
	assert.Equal(t, 2, job.cachedPitchRanges())
}

// randomSequence 生成带空小节、重复小节与拍号变化的序列，用于覆盖性质检查。
func randomSequence(t *testing.T, r *rand.Rand) *sequence.Sequence {
	t.Helper()
	measures := 1 + r.Intn(40)
	seq := &sequence.Sequence{TicksPerBeat: 480, Measures: measures}
	for m := 1; m < measures; m++ {
		if r.Intn(8) == 0 {
			seq.Signatures = append(seq.Signatures, sequence.TimeSignature{Measure: m, Num: 2 + r.Intn(4), Denom: 4})
		}
	}
	require.NoError(t, seq.Prepare())
	tracks := 1 + r.Intn(3)
	for id := 0; id < tracks; id++ {
		track := &sequence.Track{ID: id}
		var prev []sequence.Note
		for m := 0; m < measures; m++ {
			first, last := seq.MeasureBounds(m)
			switch r.Intn(4) {
			case 0: // 空小节
				prev = nil
				continue
			case 1: // 重复前一小节
				if prev != nil {
					pfirst, _ := seq.MeasureBounds(m - 1)
					for _, n := range prev {
						n.Start += first - pfirst
						n.End += first - pfirst
						if n.End <= last {
							track.Notes = append(track.Notes, n)
						}
					}
					continue
				}
			}
			prev = nil
			for tick := first; tick < last; tick += 240 * (1 + r.Intn(4)) {
				n := sequence.Note{Start: tick, End: min(tick+240*(1+r.Intn(6)), last+480), Pitch: 40 + r.Intn(40)}
				track.Notes = append(track.Notes, n)
				prev = append(prev, n)
			}
		}
		seq.Tracks = append(seq.Tracks, track)
	}
	require.NoError(t, seq.Prepare())
	return seq
}

func TestCoverageProperty(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		seq := randomSequence(t, r)
		opts := testOptions(&stubNotation{noteWidth: 5 + float64(r.Intn(20)), restWidth: 3, levels: 1 + r.Intn(8), header: 10})
		opts.MeasureMargin = float64(r.Intn(3))
		opts.TrackMargin = r.Intn(3)
		opts.LineMargin = r.Intn(3)
		opts.PageHeight = 10 + r.Intn(40)
		opts.MinMeasureWidth = 8
		opts.GatherRests = r.Intn(2) == 0
		opts.CollapseRepeats = r.Intn(2) == 0
		l := build(t, seq, opts)

		for li := 0; li < l.LineCount(); li++ {
			line := l.Line(li)
			if li > 0 {
				assert.Equal(t, l.Line(li-1).Span.Last+1, line.Span.First, "行之间的小节必须连续")
			}
			if line.Width > opts.LineWidth {
				// 超宽的行只能包含一个不可拆分的单元。
				n := 0
				for _, e := range l.LineElements(li) {
					if e.Kind == KindMeasure || e.Kind == KindGatheredRest {
						n++
					}
				}
				assert.Equal(t, 1, n, "超宽行 %d", li)
			}
		}
		for pi := 0; pi < l.PageCount(); pi++ {
			p := l.Page(pi)
			if len(p.Lines) > 1 {
				assert.LessOrEqual(t, p.Height, opts.PageHeight)
			}
		}
	}
}

func TestConcurrentBuilds(t *testing.T) {
	seqs := make([]*sequence.Sequence, 8)
	r := rand.New(rand.NewSource(1))
	for i := range seqs {
		seqs[i] = randomSequence(t, r)
	}
	layouts := make([]*Layout, len(seqs))
	var g errgroup.Group
	for i, seq := range seqs {
		g.Go(func() error {
			opts := testOptions(&stubNotation{noteWidth: 12, restWidth: 4, levels: 5})
			opts.GatherRests = true
			opts.CollapseRepeats = true
			l, err := Build(seq, opts)
			layouts[i] = l
			return err
		})
	}
	require.NoError(t, g.Wait())
	ids := map[string]bool{}
	for i, l := range layouts {
		assertCoverage(t, l, seqs[i].MeasureCount())
		ids[l.JobID().String()] = true
	}
	assert.Len(t, ids, len(seqs), "每次排版都有独立的任务")
}
