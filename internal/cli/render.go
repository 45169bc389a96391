package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	canvasrenderer "github.com/ByLCY/scoreprint/renderer/canvas"
	"github.com/ByLCY/scoreprint/sequence"
)

func newRenderCmd() *cobra.Command {
	var (
		output    string
		debugPath string
	)

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a score to PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			cfg, err := mustConfig(ctx)
			if err != nil {
				return err
			}
			in, err := loadInput(args[0])
			if err != nil {
				return err
			}
			p, page, err := runLayout(ctx, cfg, in)
			if err != nil {
				return err
			}
			if debugPath != "" {
				if err := writeDebug(p, debugPath); err != nil {
					return err
				}
			}

			prog := newProgress(logger)
			r := canvasrenderer.NewRenderer(canvasrenderer.Options{
				Page:        page.size,
				Margin:      page.margin,
				Header:      page.header,
				Footer:      page.footer,
				FontPath:    cfg.Render.Font,
				FontSize:    cfg.Render.FontSize,
				Parallelism: cfg.Render.Parallelism,
				Logger:      logger,
			})
			pdf, err := r.Render(ctx, p, in.seq)
			if err != nil {
				return fmt.Errorf("渲染 PDF 失败: %w", err)
			}

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".pdf"
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return fmt.Errorf("创建输出目录失败: %w", err)
			}
			if err := os.WriteFile(output, pdf, 0o644); err != nil {
				return fmt.Errorf("写入 PDF 文件失败: %w", err)
			}
			prog.done("已生成 PDF", "path", output, "size", humanize.Bytes(uint64(len(pdf))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "PDF output path (default: input name with .pdf)")
	cmd.Flags().StringVar(&debugPath, "debug-json", "", "write layout and coordinates as JSON")
	return cmd
}

func newConvertCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a score (DSL, TOML or MIDI) into the YAML sequence format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInput(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return sequence.WriteYAML(cmd.OutOrStdout(), in.seq)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("创建输出文件失败: %w", err)
			}
			if err := sequence.WriteYAML(f, in.seq); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "YAML output path (default: stdout)")
	return cmd
}
