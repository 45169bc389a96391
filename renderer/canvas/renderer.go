package canvasrenderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/ByLCY/scoreprint/binding"
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/renderer"
	"github.com/ByLCY/scoreprint/sequence"
)

const (
	staffLineWidth = 0.15
	barLineWidth   = 0.25
	endBarWidth    = 0.7
	bracketWidth   = 0.6
)

var (
	inkColor      = canvas.Hex("#1e1e1e")
	selectedColor = canvas.Hex("#0F62FE")
	rollColor     = canvas.Hex("#d8d8d8")
	transparent   = color.RGBA{0, 0, 0, 0}
)

// ErrNothingToRender 表示排版结果没有任何页面。
var ErrNothingToRender = errors.New("缺少可渲染的页面")

// Renderer draws placements via github.com/tdewolff/canvas.
type Renderer struct {
	opts   Options
	logger *log.Logger

	fontOnce sync.Once
	family   *canvas.FontFamily
	fontErr  error
}

var _ renderer.Renderer = (*Renderer)(nil)

// Options configures the canvas renderer. 长度单位为 mm，字号为 pt。
type Options struct {
	Page   layout.PageSize
	Margin layout.Margin
	// Header/Footer 是 binding 模板，例如 "${title} - ${page}/${pages}"。
	Header string
	Footer string
	// FontPath 指向 TTF/OTF 字体。为空时不绘制任何文字。
	FontPath string
	FontSize float64
	// Parallelism 限制同时绘制的页数，<=0 时使用 GOMAXPROCS。
	Parallelism int
	Logger      *log.Logger
}

// NewRenderer creates a renderer; the font, if any, is loaded on first use.
func NewRenderer(opts Options) *Renderer {
	if opts.FontSize <= 0 {
		opts.FontSize = 10
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{opts: opts, logger: logger}
}

// Render renders every page into one PDF. Pages are drawn concurrently and
// written in order.
func (r *Renderer) Render(ctx context.Context, p *layout.Placement, seq *sequence.Sequence) ([]byte, error) {
	if p == nil || seq == nil {
		return nil, fmt.Errorf("渲染结果为空")
	}
	l := p.Layout()
	n := l.PageCount()
	if n == 0 {
		return nil, ErrNothingToRender
	}
	width, height := r.opts.Page.Width, r.opts.Page.Height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("页面尺寸无效: %.1fx%.1f", width, height)
	}
	faces, err := r.textFaces()
	if err != nil {
		return nil, err
	}

	// 文字在串行阶段排好，字体对象不在 goroutine 间共享。
	texts := make([]pageText, n)
	if faces != nil {
		for pi := range texts {
			texts[pi] = r.prepareText(faces, p, seq, pi, n)
		}
	}

	canvases := make([]*canvas.Canvas, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for pi := 0; pi < n; pi++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := canvas.New(width, height)
			cctx := canvas.NewContext(c)
			cctx.SetCoordSystem(canvas.CartesianIV) // 使坐标与排版保持左上角为原点
			r.drawPage(cctx, p, seq, pi, texts[pi])
			canvases[pi] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := pdf.New(&buf, width, height, nil)
	writer.SetInfo(seq.Title, "", strings.Join(trackNames(seq), ", "), seq.Meta["composer"], "scoreprint")
	for i, c := range canvases {
		if i > 0 {
			writer.NewPage(width, height)
		}
		c.RenderTo(writer)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("写入 PDF 失败: %w", err)
	}
	r.logger.Debug("PDF 已生成", "pages", n, "bytes", buf.Len())
	return buf.Bytes(), nil
}

func trackNames(seq *sequence.Sequence) []string {
	names := make([]string, 0, len(seq.Tracks))
	for _, t := range seq.Tracks {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}

func (r *Renderer) drawPage(ctx *canvas.Context, p *layout.Placement, seq *sequence.Sequence, pi int, text pageText) {
	l := p.Layout()
	for _, li := range l.Page(pi).Lines {
		pline := p.Line(li)
		r.drawBracket(ctx, pline)
		for _, pt := range pline.Tracks {
			drawStaff(ctx, pline, pt)
		}
		first := l.Line(li).First
		for k, e := range l.LineElements(li) {
			pe := p.Element(first + k)
			r.drawElement(ctx, p, seq, li, pline, e, pe, text.signatures[first+k])
		}
	}
	text.draw(ctx)
}

// drawBracket 连接一行内所有音轨。
func (r *Renderer) drawBracket(ctx *canvas.Context, pline layout.PlacedLine) {
	if len(pline.Tracks) == 0 {
		return
	}
	top, bottom := staffTop(pline, pline.Tracks[0]), staffBottom(pline, pline.Tracks[len(pline.Tracks)-1])
	strokeLine(ctx, bracketWidth, pline.X0, top, pline.X0, bottom)
}

func drawStaff(ctx *canvas.Context, pline layout.PlacedLine, pt layout.PlacedTrack) {
	if pt.Detail.View == sequence.ViewKeyboard {
		lh := pline.LevelHeight
		ctx.SetFillColor(transparent)
		ctx.SetStrokeColor(rollColor)
		ctx.SetStrokeWidth(staffLineWidth)
		ctx.DrawPath(pline.X0, pt.Y0+lh, canvas.Rectangle(pline.X1-pline.X0, pt.Y1-pt.Y0-2*lh))
		return
	}
	for _, y := range staffLines(pline, pt) {
		strokeLine(ctx, staffLineWidth, pline.X0, y, pline.X1, y)
	}
}

// staffLines 返回谱线的纵坐标，自上而下。
func staffLines(pline layout.PlacedLine, pt layout.PlacedTrack) []float64 {
	lh := pline.LevelHeight
	count := 5
	top := pt.Y0 + float64(pt.Detail.LevelsAbove)*lh
	if pt.Detail.View == sequence.ViewTablature {
		count = pt.Detail.Strings
		top = pt.Y0 + lh/2
	}
	ys := make([]float64, count)
	for i := range ys {
		ys[i] = top + float64(i)*lh
	}
	return ys
}

func staffTop(pline layout.PlacedLine, pt layout.PlacedTrack) float64 {
	if ys := staffLines(pline, pt); len(ys) > 0 && pt.Detail.View != sequence.ViewKeyboard {
		return ys[0]
	}
	return pt.Y0 + pline.LevelHeight
}

func staffBottom(pline layout.PlacedLine, pt layout.PlacedTrack) float64 {
	if ys := staffLines(pline, pt); len(ys) > 0 && pt.Detail.View != sequence.ViewKeyboard {
		return ys[len(ys)-1]
	}
	return pt.Y1 - pline.LevelHeight
}

func (r *Renderer) drawElement(ctx *canvas.Context, p *layout.Placement, seq *sequence.Sequence, li int, pline layout.PlacedLine, e layout.LayoutElement, pe layout.PlacedElement, sig *canvas.Text) {
	for _, pt := range pline.Tracks {
		top, bottom := staffTop(pline, pt), staffBottom(pline, pt)
		if pe.RenderStartBar {
			strokeLine(ctx, barLineWidth, pe.XFrom, top, pe.XFrom, bottom)
		}
		if pe.RenderEndBar {
			strokeLine(ctx, barLineWidth, pe.XTo, top, pe.XTo, bottom)
		}
		if pe.LineEndBar {
			strokeLine(ctx, endBarWidth, pe.XTo, top, pe.XTo, bottom)
		}

		mid := (top + bottom) / 2
		switch e.Kind {
		case layout.KindGatheredRest:
			w := pe.XTo - pe.XFrom
			ctx.SetStrokeColor(transparent)
			ctx.SetFillColor(inkColor)
			ctx.DrawPath(pe.XFrom+w*0.2, mid-pline.LevelHeight/2, canvas.Rectangle(w*0.6, pline.LevelHeight))
		case layout.KindRepeatedMeasure:
			cx := (pe.XFrom + pe.XTo) / 2
			lh := pline.LevelHeight
			strokeLine(ctx, barLineWidth*2, cx-lh, mid+lh, cx+lh, mid-lh)
			fillCircle(ctx, inkColor, cx-lh, mid-lh/2, lh/4)
			fillCircle(ctx, inkColor, cx+lh, mid+lh/2, lh/4)
		case layout.KindTimeSignatureChange:
			if sig != nil {
				ctx.DrawText(pe.XFrom, mid, sig)
			}
		case layout.KindMeasure:
			r.drawNotes(ctx, p, seq, li, pline, pt, e.Measure)
		}
	}
}

func (r *Renderer) drawNotes(ctx *canvas.Context, p *layout.Placement, seq *sequence.Sequence, li int, pline layout.PlacedLine, pt layout.PlacedTrack, measure int) {
	track := seq.Track(pt.Track)
	if track == nil {
		return
	}
	lh := pline.LevelHeight
	md := p.Layout().Measure(measure)
	for _, n := range md.Notes(track) {
		if n.Start < md.FirstTick {
			continue // 从前一小节延续的音只画一次
		}
		span, err := p.TickToX(pt.Track, li, n.Start)
		var unresolved *layout.UnresolvedTickError
		if err != nil && !errors.As(err, &unresolved) {
			r.logger.Debug("音符无法定位", "track", pt.Track, "tick", n.Start, "err", err)
			continue
		}
		x := (span.From + span.To) / 2
		col := inkColor
		if n.Selected {
			col = selectedColor
		}
		switch pt.Detail.View {
		case sequence.ViewTablature:
			ys := staffLines(pline, pt)
			s := stringOf(n, track.Strings())
			if s >= 0 && s < len(ys) {
				ctx.SetStrokeColor(transparent)
				ctx.SetFillColor(col)
				ctx.DrawPath(x-lh/3, ys[s]-lh/3, canvas.Rectangle(2*lh/3, 2*lh/3))
			}
		case sequence.ViewKeyboard:
			y := rollY(pline, pt, n.Pitch)
			ctx.SetStrokeColor(transparent)
			ctx.SetFillColor(col)
			ctx.DrawPath(span.From, y, canvas.Rectangle(max(span.To-span.From, lh/2), lh/2))
		case sequence.ViewDrum:
			ys := staffLines(pline, pt)
			fillCircle(ctx, col, x, ys[0]+float64(n.Pitch%9)*lh/2, lh*0.45)
		default:
			fillCircle(ctx, col, x, scoreY(pline, pt, n.Pitch), lh*0.45)
		}
	}
}

// scoreY 以 E4 为第五线（最下方的谱线）计算位置，每个音级半个 level。
func scoreY(pline layout.PlacedLine, pt layout.PlacedTrack, pitch int) float64 {
	ys := staffLines(pline, pt)
	return ys[len(ys)-1] - float64(diatonic(pitch)-diatonic(64))*pline.LevelHeight/2
}

func rollY(pline layout.PlacedLine, pt layout.PlacedTrack, pitch int) float64 {
	lh := pline.LevelHeight
	low, high := pt.Detail.PitchLow, pt.Detail.PitchHigh
	avail := pt.Y1 - pt.Y0 - 2.5*lh
	if high <= low || avail <= 0 {
		return pt.Y0 + lh
	}
	return pt.Y0 + lh + avail*float64(high-pitch)/float64(high-low)
}

func diatonic(pitch int) int {
	steps := [12]int{0, 0, 1, 1, 2, 3, 3, 4, 4, 5, 5, 6}
	return (pitch/12)*7 + steps[pitch%12]
}

// stringOf 返回音符所在弦的下标（0 为最高音弦）。
func stringOf(n sequence.Note, tuning []int) int {
	if n.String > 0 && n.String <= len(tuning) {
		return n.String - 1
	}
	best, bestFret := -1, 0
	for i, open := range tuning {
		if f := n.Pitch - open; f >= 0 && (best < 0 || f < bestFret) {
			best, bestFret = i, f
		}
	}
	if best < 0 {
		return len(tuning) - 1
	}
	return best
}

func strokeLine(ctx *canvas.Context, width, x1, y1, x2, y2 float64) {
	ctx.SetFillColor(transparent)
	ctx.SetStrokeColor(inkColor)
	ctx.SetStrokeWidth(width)
	path := &canvas.Path{}
	path.MoveTo(0, 0)
	path.LineTo(x2-x1, y2-y1)
	ctx.DrawPath(x1, y1, path)
}

func fillCircle(ctx *canvas.Context, col color.Color, cx, cy, radius float64) {
	ctx.SetStrokeColor(transparent)
	ctx.SetFillColor(col)
	ctx.DrawPath(cx, cy, canvas.Circle(radius))
}

// fontFaces 是一次渲染中使用的字体。
type fontFaces struct {
	header *canvas.FontFace
	small  *canvas.FontFace
}

func (r *Renderer) textFaces() (*fontFaces, error) {
	if r.opts.FontPath == "" {
		return nil, nil
	}
	r.fontOnce.Do(func() {
		data, err := os.ReadFile(r.opts.FontPath)
		if err != nil {
			r.fontErr = fmt.Errorf("读取字体 %s 失败: %w", r.opts.FontPath, err)
			return
		}
		family := canvas.NewFontFamily("scoreprint")
		if err := family.LoadFont(data, 0, canvas.FontRegular); err != nil {
			r.fontErr = fmt.Errorf("加载字体 %s 失败: %w", r.opts.FontPath, err)
			return
		}
		r.family = family
	})
	if r.fontErr != nil {
		return nil, r.fontErr
	}
	return &fontFaces{
		header: r.family.Face(r.opts.FontSize, inkColor, canvas.FontRegular, canvas.FontNormal),
		small:  r.family.Face(r.opts.FontSize*0.8, inkColor, canvas.FontRegular, canvas.FontNormal),
	}, nil
}

type placedText struct {
	x, y float64
	text *canvas.Text
}

// pageText 保存一页上预先排好的文字。
type pageText struct {
	items      []placedText
	signatures map[int]*canvas.Text // 按元素下标
}

func (t pageText) draw(ctx *canvas.Context) {
	for _, it := range t.items {
		ctx.DrawText(it.x, it.y, it.text)
	}
}

func (r *Renderer) prepareText(faces *fontFaces, p *layout.Placement, seq *sequence.Sequence, pi, pages int) pageText {
	out := pageText{signatures: map[int]*canvas.Text{}}
	data := binding.PageData(seq, pi+1, pages)
	m := r.opts.Margin
	if r.opts.Header != "" {
		s := binding.Interpolate(r.opts.Header, data)
		out.items = append(out.items, placedText{
			x:    m.Left,
			y:    m.Top + faces.header.Metrics().Ascent,
			text: canvas.NewTextLine(faces.header, s, canvas.Left),
		})
	}
	if r.opts.Footer != "" {
		s := binding.Interpolate(r.opts.Footer, data)
		out.items = append(out.items, placedText{
			x:    r.opts.Page.Width / 2,
			y:    r.opts.Page.Height - m.Bottom/2,
			text: canvas.NewTextLine(faces.small, s, canvas.Center),
		})
	}

	l := p.Layout()
	for _, li := range l.Page(pi).Lines {
		line := l.Line(li)
		for idx := line.First; idx <= line.Last; idx++ {
			e := l.Element(idx)
			switch e.Kind {
			case layout.KindTimeSignatureChange:
				out.signatures[idx] = canvas.NewTextLine(faces.header, fmt.Sprintf("%d/%d", e.Num, e.Denom), canvas.Left)
			case layout.KindGatheredRest:
				pe := p.Element(idx)
				count := e.LastMeasure - e.Measure + 1
				if pl := p.Line(li); len(pl.Tracks) > 0 {
					out.items = append(out.items, placedText{
						x:    (pe.XFrom + pe.XTo) / 2,
						y:    staffTop(pl, pl.Tracks[0]) - pl.LevelHeight/2,
						text: canvas.NewTextLine(faces.small, fmt.Sprint(count), canvas.Center),
					})
				}
			case layout.KindLineHeader:
				if pl := p.Line(li); len(pl.Tracks) > 0 {
					out.items = append(out.items, placedText{
						x:    pl.X0 - 1,
						y:    staffTop(pl, pl.Tracks[0]),
						text: canvas.NewTextLine(faces.small, fmt.Sprint(l.Measure(line.Span.First).ID+1), canvas.Right),
					})
				}
			}
		}
	}
	return out
}
