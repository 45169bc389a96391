// Package binding fills `${...}` placeholders in page headers and footers.
package binding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ByLCY/scoreprint/sequence"
)

var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// PageData 构造页眉页脚可用的变量：
//
//	${title} ${page} ${pages} ${meta.composer} ${composer} ${tracks[0].name}
//
// meta 中的键同时平铺到顶层，但不覆盖 title/page/pages。
func PageData(seq *sequence.Sequence, page, pages int) map[string]any {
	data := map[string]any{}
	if seq != nil {
		meta := make(map[string]any, len(seq.Meta))
		for k, v := range seq.Meta {
			meta[k] = v
			data[k] = v
		}
		tracks := make([]any, len(seq.Tracks))
		for i, t := range seq.Tracks {
			tracks[i] = map[string]any{"id": t.ID, "name": t.Name, "view": string(t.View)}
		}
		data["meta"] = meta
		data["tracks"] = tracks
		data["title"] = seq.Title
		data["measures"] = seq.MeasureCount()
	}
	data["page"] = page
	data["pages"] = pages
	return data
}

// Interpolate 将文本中的 ${path.to.value} 替换为 data 中的值。
// 若 data 为空或路径不存在，则返回原占位符。
func Interpolate(text string, data any) string {
	if data == nil {
		return text
	}
	return exprPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := exprPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		path := strings.TrimSpace(groups[1])
		if path == "" {
			return match
		}
		if val, ok := resolvePath(data, path); ok {
			return fmt.Sprint(val)
		}
		return match
	})
}

func resolvePath(data any, path string) (any, bool) {
	current := data
	for _, segment := range strings.Split(path, ".") {
		name, indexes := parseSegment(segment)
		if name != "" {
			var ok bool
			if current, ok = descendMap(current, name); !ok {
				return nil, false
			}
		}
		for _, idxStr := range indexes {
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, false
			}
			var ok bool
			if current, ok = descendArray(current, idx); !ok {
				return nil, false
			}
		}
	}
	return current, true
}

func parseSegment(segment string) (string, []string) {
	i := strings.Index(segment, "[")
	if i == -1 {
		return segment, nil
	}
	name, rest := segment[:i], segment[i:]
	var indexes []string
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			break
		}
		indexes = append(indexes, rest[1:end])
		rest = rest[end+1:]
	}
	return name, indexes
}

func descendMap(current any, key string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		val, ok := c[key]
		return val, ok
	case map[string]string:
		val, ok := c[key]
		return val, ok
	default:
		return nil, false
	}
}

func descendArray(current any, idx int) (any, bool) {
	c, ok := current.([]any)
	if !ok || idx < 0 || idx >= len(c) {
		return nil, false
	}
	return c[idx], true
}
