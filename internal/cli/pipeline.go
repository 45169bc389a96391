package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ByLCY/scoreprint/dsl"
	"github.com/ByLCY/scoreprint/internal/config"
	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/notation"
	"github.com/ByLCY/scoreprint/sequence"
)

// ErrUnknownFormat is returned for input files with an unrecognised extension.
var ErrUnknownFormat = errors.New("无法识别的输入格式")

// input is a loaded score and the page setup it declares, if any.
type input struct {
	seq  *sequence.Sequence
	page *dsl.PageSetup
}

// loadInput picks the reader by extension: .score (DSL), .yaml/.yml,
// .toml, .mid/.midi.
func loadInput(path string) (*input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开输入文件 %s: %w", path, err)
	}
	defer f.Close()

	var seq *sequence.Sequence
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".score":
		return loadDSL(f)
	case ".yaml", ".yml":
		seq, err = sequence.LoadYAML(f)
	case ".toml":
		seq, err = sequence.LoadTOML(f)
	case ".mid", ".midi":
		seq, err = sequence.LoadMIDI(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	return &input{seq: seq}, nil
}

func loadDSL(r io.Reader) (*input, error) {
	doc, err := dsl.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("解析 DSL 失败: %w", err)
	}
	seq, err := doc.Sequence()
	if err != nil {
		return nil, err
	}
	ps, ok, err := doc.PageSetup()
	if err != nil {
		return nil, err
	}
	in := &input{seq: seq}
	if ok {
		in.page = &ps
	}
	return in, nil
}

// pageSettings is the resolved paper for one run.
type pageSettings struct {
	size   layout.PageSize
	margin layout.Margin
	header string
	footer string
	geom   layout.Geometry
}

// resolvePage merges the config with the page section of a DSL file; the
// file wins.
func resolvePage(cfg *config.Config, page *dsl.PageSetup) (pageSettings, error) {
	size, err := cfg.PageSize()
	if err != nil {
		return pageSettings{}, err
	}
	margin, err := cfg.Margin()
	if err != nil {
		return pageSettings{}, err
	}
	ps := pageSettings{size: size, margin: margin, header: cfg.Render.Header, footer: cfg.Render.Footer}
	if page != nil {
		if ps.size, err = layout.ResolvePageSize(page.Size, page.Landscape); err != nil {
			return pageSettings{}, err
		}
		ps.margin = page.Margin
		if page.Header != "" {
			ps.header = page.Header
		}
		if page.Footer != "" {
			ps.footer = page.Footer
		}
	}
	ps.geom = layout.ContentGeometry(ps.size, ps.margin, cfg.Page.HeaderHeight)
	return ps, nil
}

// runLayout runs both layout passes.
func runLayout(ctx context.Context, cfg *config.Config, in *input) (*layout.Placement, pageSettings, error) {
	logger := loggerFromContext(ctx)
	page, err := resolvePage(cfg, in.page)
	if err != nil {
		return nil, pageSettings{}, err
	}

	prog := newProgress(logger)
	opts := cfg.LayoutOptions(logger)
	opts.Notation = notation.Resolver(notation.DefaultOptions())
	l, err := layout.Build(in.seq, opts)
	if err != nil {
		return nil, pageSettings{}, fmt.Errorf("布局计算失败: %w", err)
	}
	p, err := layout.Place(l, page.geom, cfg.NumericOptions(logger))
	if err != nil {
		return nil, pageSettings{}, fmt.Errorf("坐标计算失败: %w", err)
	}
	prog.done("排版完成", "measures", l.MeasureCount(), "lines", l.LineCount(), "pages", l.PageCount())
	return p, page, nil
}

func writeDebug(p *layout.Placement, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建调试目录失败: %w", err)
	}
	if err := layout.WriteDebugJSON(p.Layout(), p, path); err != nil {
		return fmt.Errorf("输出调试 JSON 失败: %w", err)
	}
	return nil
}

// mustConfig returns the config loaded by the root command.
func mustConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := configFromContext(ctx)
	if !ok {
		return nil, errors.New("配置未加载")
	}
	return cfg, nil
}
