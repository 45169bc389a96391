package layout

import (
	"github.com/ByLCY/scoreprint/sequence"
)

// NoteRange 是小节在某条音轨中的音符下标区间（闭区间），只引用外部存储，不持有音符。
// 没有音符时 First 与 Last 均为 -1。
type NoteRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Empty 判断区间内是否没有音符。
func (r NoteRange) Empty() bool { return r.First < 0 || r.Last < r.First }

// MeasureDescriptor 描述一个小节：tick 区间、是否为空以及各音轨的音符引用。
type MeasureDescriptor struct {
	ID        int                    `json:"id"`
	FirstTick int                    `json:"firstTick"`
	LastTick  int                    `json:"lastTick"`
	Empty     bool                   `json:"empty"`
	Signature sequence.TimeSignature `json:"signature"`
	TrackRefs map[int]NoteRange      `json:"trackRefs"`
	Allocator *SymbolSpaceAllocator  `json:"-"`
}

// newMeasureDescriptor 校验 tick 区间并建立空的分配器。
func newMeasureDescriptor(id, firstTick, lastTick int, trailing float64) (*MeasureDescriptor, error) {
	if firstTick >= lastTick {
		return nil, &InvalidRangeError{From: firstTick, To: lastTick, Track: -1}
	}
	alloc := NewSymbolSpaceAllocator(trailing)
	alloc.measure = id
	return &MeasureDescriptor{
		ID:        id,
		FirstTick: firstTick,
		LastTick:  lastTick,
		Empty:     true,
		TrackRefs: map[int]NoteRange{},
		Allocator: alloc,
	}, nil
}

// Duration 返回小节的 tick 长度。
func (m *MeasureDescriptor) Duration() int { return m.LastTick - m.FirstTick }

// setContent 根据各音轨的音符计算引用区间与是否为空。
// 从前一小节延续过来的音符也会让小节非空。
func (m *MeasureDescriptor) setContent(tracks []*sequence.Track) {
	m.Empty = true
	for _, t := range tracks {
		ref := NoteRange{
			First: t.FirstNoteIndexInRange(m.FirstTick, m.LastTick),
			Last:  t.LastNoteIndexInRange(m.FirstTick, m.LastTick),
		}
		m.TrackRefs[t.ID] = ref
		if t.Overlaps(m.FirstTick, m.LastTick) {
			m.Empty = false
		}
	}
}

// Notes 返回小节在 track 中起始的音符切片（只读视图）。
func (m *MeasureDescriptor) Notes(track *sequence.Track) []sequence.Note {
	ref, ok := m.TrackRefs[track.ID]
	if !ok || ref.Empty() {
		return nil
	}
	return track.Notes[ref.First : ref.Last+1]
}

// crossesBarline 判断是否有音符从前一小节延续进来，或延续到下一小节。
func (m *MeasureDescriptor) crossesBarline(tracks []*sequence.Track) bool {
	for _, t := range tracks {
		for _, n := range t.Notes {
			if n.Start >= m.LastTick {
				break
			}
			if n.Start < m.FirstTick && n.End > m.FirstTick {
				return true
			}
			if n.Start >= m.FirstTick && n.End > m.LastTick {
				return true
			}
		}
	}
	return false
}

// sameContent 判断两个小节在所有音轨上的内容（相对小节起点）是否一致，用于重复小节折叠。
func (m *MeasureDescriptor) sameContent(other *MeasureDescriptor, tracks []*sequence.Track) bool {
	if m.Duration() != other.Duration() || !sameMeter(m.Signature, other.Signature) {
		return false
	}
	for _, t := range tracks {
		a, b := m.Notes(t), other.Notes(t)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Start-m.FirstTick != b[i].Start-other.FirstTick ||
				a[i].End-m.FirstTick != b[i].End-other.FirstTick ||
				a[i].Pitch != b[i].Pitch || a[i].String != b[i].String || a[i].Fret != b[i].Fret {
				return false
			}
		}
	}
	return true
}

func sameMeter(a, b sequence.TimeSignature) bool { return a.Num == b.Num && a.Denom == b.Denom }
