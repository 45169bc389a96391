package renderer

import (
	"context"

	"github.com/ByLCY/scoreprint/layout"
	"github.com/ByLCY/scoreprint/sequence"
)

// Renderer 将数值排版结果输出为最终文件，例如 PDF。
// seq 必须是生成该排版的同一个序列，渲染器从中读取音符。
type Renderer interface {
	Render(ctx context.Context, p *layout.Placement, seq *sequence.Sequence) ([]byte, error)
}
