package layout

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/scoreprint/sequence"
)

func numericOptions() NumericOptions {
	return NumericOptions{
		MaxLevelHeight: 2,
		ElementMaxZoom: 2,
		EndBarSlack:    5,
		Logger:         quietLogger(),
	}
}

func place(t *testing.T, l *Layout, geom Geometry, opts NumericOptions) *Placement {
	t.Helper()
	p, err := Place(l, geom, opts)
	require.NoError(t, err)
	return p
}

func TestPlaceJustifiesFullLines(t *testing.T) {
	l := build(t, newSeq(t, 4), testOptions(&stubNotation{width: constWidth(100), levels: 4}))
	p := place(t, l, Geometry{X0: 10, Y0: 0, X1: 190, Y1: 100}, numericOptions())

	line := p.Line(0)
	assert.InDelta(t, 0.9, line.Zoom, 1e-12)
	first := l.Line(0).First
	header := p.Element(first)
	assert.Equal(t, 10.0, header.XFrom)
	assert.Equal(t, 10.0, header.XTo)
	assert.InDelta(t, 100, p.Element(first+1).XTo, 1e-9)
	assert.Equal(t, 190.0, p.Element(first+2).XTo)
	assert.False(t, p.Element(first+2).LineEndBar)
	assert.True(t, p.Element(first+2).RenderEndBar)
}

func TestPlaceMarginsAreNotZoomed(t *testing.T) {
	l := build(t, newSeq(t, 2), testOptions(&stubNotation{width: constWidth(100), levels: 4}))
	opts := numericOptions()
	opts.MeasureMargin = 2
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 180, Y1: 100}, opts)

	// 三个元素各占 2 的间距，剩余 174 分给 200 个抽象单位。
	assert.InDelta(t, 0.87, p.Line(0).Zoom, 1e-12)
	m0 := p.Element(1)
	m1 := p.Element(2)
	assert.InDelta(t, 2, m0.XFrom, 1e-9)
	assert.InDelta(t, 89, m0.XTo, 1e-9)
	assert.InDelta(t, 91, m1.XFrom, 1e-9)
	// 剩余的 2 不超过 EndBarSlack，由最后一个元素吸收。
	assert.Equal(t, 180.0, m1.XTo)
}

func TestPlaceZoomIsCapped(t *testing.T) {
	l := build(t, newSeq(t, 1), testOptions(&stubNotation{width: constWidth(50), levels: 4}))
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 200, Y1: 100}, numericOptions())
	assert.Equal(t, 2.0, p.Line(0).Zoom)
	last := p.Element(1)
	assert.Equal(t, 100.0, last.XTo)
	assert.True(t, last.LineEndBar)
	assert.Equal(t, 100.0, p.Line(0).X1)
}

func TestPlaceLevelHeightIsCapped(t *testing.T) {
	seq := newSeq(t, 2)
	opts := testOptions(&stubNotation{width: constWidth(200), levels: 6})
	opts.LineMargin = 3
	l := build(t, seq, opts)
	require.Equal(t, 1, l.PageCount())

	p := place(t, l, Geometry{X0: 0, Y0: 20, X1: 200, Y1: 300}, numericOptions())
	first, second := p.Line(0), p.Line(1)
	assert.Equal(t, 2.0, first.LevelHeight)
	assert.Equal(t, 20.0, first.Y0)
	assert.Equal(t, 32.0, first.Y1)
	assert.Equal(t, 38.0, second.Y0)

	// 空间不足时 level 高度按比例缩小：15 个 level 分 30 的高度。
	p = place(t, l, Geometry{X0: 0, Y0: 0, X1: 200, Y1: 30}, numericOptions())
	assert.Equal(t, 2.0, p.Line(0).LevelHeight)
	p = place(t, l, Geometry{X0: 0, Y0: 0, X1: 200, Y1: 15}, numericOptions())
	assert.Equal(t, 1.0, p.Line(0).LevelHeight)
	assert.Equal(t, 15.0, p.Line(1).Y1)
}

func TestTrackBounds(t *testing.T) {
	seq := newSeq(t, 1,
		&sequence.Track{ID: 4},
		&sequence.Track{ID: 9},
	)
	opts := testOptions(&stubNotation{width: constWidth(100), levels: 3})
	opts.TrackMargin = 1
	l := build(t, seq, opts)
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 300, Y1: 100}, numericOptions())

	r, err := p.TrackBounds(9, 0)
	require.NoError(t, err)
	assert.Equal(t, Rect{X0: 0, Y0: 8, X1: 200, Y1: 14}, r)

	_, err = p.TrackBounds(5, 0)
	assert.ErrorIs(t, err, ErrNotOnLine)
	_, err = p.TrackBounds(4, 3)
	assert.ErrorIs(t, err, ErrNotOnLine)
}

func TestTickToX(t *testing.T) {
	track := &sequence.Track{ID: 0, Notes: []sequence.Note{
		{Start: 0, End: 480, Pitch: 60},
		{Start: 480, End: 960, Pitch: 62},
		{Start: 1440, End: 1920, Pitch: 64},
	}}
	seq := newSeq(t, 2, track)
	opts := testOptions(&stubNotation{noteWidth: 10, levels: 4})
	opts.MinMeasureWidth = 30
	l := build(t, seq, opts)
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 60, Y1: 100}, numericOptions())

	m0 := p.Element(1)
	require.InDelta(t, 30, m0.XTo-m0.XFrom, 1e-9)

	a, err := p.TickToX(0, 0, 0)
	require.NoError(t, err)
	b, err := p.TickToX(0, 0, 480)
	require.NoError(t, err)
	c, err := p.TickToX(0, 0, 1440)
	require.NoError(t, err)
	assert.LessOrEqual(t, a.To, b.From)
	assert.LessOrEqual(t, b.To, c.From)
	assert.InDelta(t, 10, a.To-a.From, 1e-9)

	// 960~1440 之间没有符号。
	gap, err := p.TickToX(0, 0, 1000)
	var unresolved *UnresolvedTickError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, 960, unresolved.Anchor)
	assert.Equal(t, gap.From, gap.To)
	assert.InDelta(t, b.To, gap.From, 1e-9)

	_, err = p.TickToX(0, 0, 99999)
	assert.ErrorIs(t, err, ErrNotOnLine)
	_, err = p.TickToX(1, 0, 0)
	assert.ErrorIs(t, err, ErrNotOnLine)
}

func TestTickToXInsideGatheredRest(t *testing.T) {
	seq := newSeq(t, 4)
	opts := testOptions(&stubNotation{levels: 4})
	opts.GatherRests = true
	l := build(t, seq, opts)
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 40, Y1: 100}, numericOptions())

	rest := p.Element(1)
	require.Equal(t, 0.0, rest.XFrom)
	require.Equal(t, 40.0, rest.XTo)
	s, err := p.TickToX(0, 0, 2*1920+960)
	require.NoError(t, err)
	assert.InDelta(t, 25, s.From, 1e-9)

	m, ok := p.MeasureAt(0, 31, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, m)
}

func TestMeasureAt(t *testing.T) {
	l := build(t, newSeq(t, 4), testOptions(&stubNotation{width: constWidth(100), levels: 5}))
	p := place(t, l, Geometry{X0: 0, Y0: 0, X1: 200, Y1: 100}, numericOptions())

	m, ok := p.MeasureAt(0, 150, 1)
	assert.True(t, ok)
	assert.Equal(t, 1, m)
	m, ok = p.MeasureAt(0, 10, p.Line(1).Y0+1)
	assert.True(t, ok)
	assert.Equal(t, 2, m)
	_, ok = p.MeasureAt(0, 10, 99)
	assert.False(t, ok)
	_, ok = p.MeasureAt(3, 10, 1)
	assert.False(t, ok)
}

func TestPlaceDegenerateGeometry(t *testing.T) {
	l := build(t, newSeq(t, 2), testOptions(&stubNotation{width: constWidth(100), levels: 4}))
	_, err := Place(l, Geometry{X0: 10, X1: 10, Y1: 100}, numericOptions())
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = Place(nil, Geometry{X1: 10, Y1: 10}, numericOptions())
	assert.ErrorIs(t, err, ErrNilLayout)

	// 间距占满整行：严格模式报错，否则修正并记录。
	opts := numericOptions()
	opts.MeasureMargin = 5
	opts.Strict = true
	_, err = Place(l, Geometry{X1: 10, Y1: 100}, opts)
	assert.ErrorIs(t, err, ErrDegenerate)

	opts.Strict = false
	p := place(t, l, Geometry{X1: 10, Y1: 100}, opts)
	require.NotEmpty(t, p.Diagnostics())
	assert.Equal(t, DiagDegenerate, p.Diagnostics()[0].Kind)
	e := p.Element(1)
	assert.Greater(t, e.XTo, e.XFrom)
}

// TestPlaceProperties 检查横向不溢出、坐标单调以及重复计算结果完全一致。
func TestPlaceProperties(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		seq := randomSequence(t, r)
		opts := testOptions(&stubNotation{noteWidth: 4 + float64(r.Intn(10)), restWidth: 3, levels: 2 + r.Intn(6), header: 8})
		opts.MeasureMargin = 1
		opts.GatherRests = r.Intn(2) == 0
		opts.CollapseRepeats = r.Intn(2) == 0
		l := build(t, seq, opts)

		geom := Geometry{X0: 15, Y0: 20, X1: 195, Y1: 280}
		nopts := numericOptions()
		nopts.MeasureMargin = float64(r.Intn(3))
		p := place(t, l, geom, nopts)
		again := place(t, l, geom, nopts)

		for li := 0; li < l.LineCount(); li++ {
			line := l.Line(li)
			require.Equal(t, p.Line(li), again.Line(li))
			prevTo := geom.X0
			for ei := line.First; ei <= line.Last; ei++ {
				e := p.Element(ei)
				require.Equal(t, e, again.Element(ei))
				assert.GreaterOrEqual(t, e.XFrom, prevTo-1e-9)
				assert.GreaterOrEqual(t, e.XTo, e.XFrom)
				if l.Element(ei).Width > 0 {
					assert.Greater(t, e.XTo, e.XFrom)
				}
				prevTo = e.XTo
			}
			assert.LessOrEqual(t, prevTo, geom.X1+1e-9)
			pl := p.Line(li)
			for _, tr := range pl.Tracks {
				assert.Greater(t, tr.Y1, tr.Y0)
			}
			assert.LessOrEqual(t, pl.Y1, geom.Y1+1e-9)
		}
	}
}

func TestWriteDebugJSON(t *testing.T) {
	l := build(t, newSeq(t, 2), testOptions(&stubNotation{width: constWidth(100), levels: 4}))
	p := place(t, l, Geometry{X1: 200, Y1: 100}, numericOptions())
	path := filepath.Join(t.TempDir(), "layout.json")
	require.NoError(t, WriteDebugJSON(l, p, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Layout struct {
			JobID    string `json:"jobId"`
			Elements []struct {
				Kind string `json:"kind"`
			} `json:"elements"`
		} `json:"layout"`
		Placement struct {
			Lines []PlacedLine `json:"lines"`
		} `json:"placement"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, l.JobID().String(), doc.Layout.JobID)
	assert.Equal(t, "line-header", doc.Layout.Elements[0].Kind)
	assert.Len(t, doc.Placement.Lines, 1)
}
