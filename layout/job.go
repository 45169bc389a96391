package layout

import (
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ByLCY/scoreprint/sequence"
)

type pitchKey struct {
	track, measure int
}

type pitchEntry struct {
	low, high int
	ok        bool
}

// Job 是一次排版任务的上下文，在每次 Build 时新建并传给 Notation。
// 小节音高范围的缓存挂在 Job 上而不是全局变量，不同任务之间互不影响。
type Job struct {
	ID       uuid.UUID
	Sequence *sequence.Sequence
	Logger   *log.Logger

	pitches map[pitchKey]pitchEntry
}

func newJob(seq *sequence.Sequence, logger *log.Logger) *Job {
	id := uuid.New()
	return &Job{
		ID:       id,
		Sequence: seq,
		Logger:   logger.With("job", id.String()[:8]),
		pitches:  map[pitchKey]pitchEntry{},
	}
}

// PitchRange 返回音轨在小节内发声音符的最低、最高音高，结果按 (音轨, 小节) 缓存。
func (j *Job) PitchRange(track *sequence.Track, measure int) (low, high int, ok bool) {
	key := pitchKey{track: track.ID, measure: measure}
	if e, hit := j.pitches[key]; hit {
		return e.low, e.high, e.ok
	}
	first, last := j.Sequence.MeasureBounds(measure)
	low, high, ok = track.PitchRange(first, last)
	j.pitches[key] = pitchEntry{low: low, high: high, ok: ok}
	return low, high, ok
}

// SpanPitchRange 合并 span 内各小节的音高范围。
func (j *Job) SpanPitchRange(track *sequence.Track, span MeasureSpan) (low, high int, ok bool) {
	for m := span.First; m <= span.Last; m++ {
		l, h, has := j.PitchRange(track, m)
		if !has {
			continue
		}
		if !ok {
			low, high, ok = l, h, true
			continue
		}
		low = min(low, l)
		high = max(high, h)
	}
	return low, high, ok
}

// cachedPitchRanges 返回缓存条目数，供测试使用。
func (j *Job) cachedPitchRanges() int { return len(j.pitches) }
