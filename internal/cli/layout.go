package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ByLCY/scoreprint/layout"
)

func newLayoutCmd() *cobra.Command {
	var debugPath string

	cmd := &cobra.Command{
		Use:   "layout <file>",
		Short: "Lay a score out and print the line and page breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := mustConfig(ctx)
			if err != nil {
				return err
			}
			in, err := loadInput(args[0])
			if err != nil {
				return err
			}
			p, _, err := runLayout(ctx, cfg, in)
			if err != nil {
				return err
			}
			if debugPath != "" {
				if err := writeDebug(p, debugPath); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), linesTable(p))
			if diags := p.Layout().Diagnostics(); len(diags) > 0 || len(p.Diagnostics()) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), diagnosticsTable(append(diags, p.Diagnostics()...)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&debugPath, "debug-json", "", "write layout and coordinates as JSON")
	return cmd
}

// linesTable renders one row per line.
func linesTable(p *layout.Placement) string {
	l := p.Layout()
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Line", "Page", "Measures", "Elements", "Width", "Levels", "Zoom"})
	for i := 0; i < l.LineCount(); i++ {
		line := l.Line(i)
		pl := p.Line(i)
		measures := strconv.Itoa(line.Span.First + 1)
		if line.Span.Last > line.Span.First {
			measures = fmt.Sprintf("%d-%d", line.Span.First+1, line.Span.Last+1)
		}
		tbl.AppendRow(table.Row{
			i + 1,
			pl.Page + 1,
			measures,
			line.Last - line.First + 1,
			fmt.Sprintf("%.1f", line.Width),
			line.TotalLevelHeight,
			fmt.Sprintf("%.3f", pl.Zoom),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d lines", l.LineCount()), fmt.Sprintf("%d pages", l.PageCount())})
	return tbl.Render()
}

func diagnosticsTable(diags []layout.Diagnostic) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Kind", "Measure", "Track", "Message"})
	for _, d := range diags {
		tbl.AppendRow(table.Row{string(d.Kind), d.Measure, d.Track, d.Message})
	}
	return tbl.Render()
}
