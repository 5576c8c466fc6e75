package sourcestr

import (
	"fmt"
	"sort"
)

// Span is a byte range within one file.
type Span struct {
	File  *File
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Position returns the 1-based position of the span start.
func (s Span) Position() Position { return s.File.Position(s.Start) }

// String renders the span as path:line:col.
func (s Span) String() string {
	p := s.Position()
	return fmt.Sprintf("%s:%d:%d", s.File.Path(), p.Line, p.Col)
}

// MapSpan binds the half-open output range [OutStart, OutEnd) to a source
// span of the same length.
type MapSpan struct {
	OutStart int
	OutEnd   int
	Source   Span
}

// SourceMap records provenance for a string. Spans are sorted by OutStart
// and do not overlap; gaps between them are untracked text.
type SourceMap []MapSpan

// Slice returns the map for the output range [start, end), re-based to
// offset 0. Spans crossing the boundary are clipped.
func (m SourceMap) Slice(start, end int) SourceMap {
	if start >= end || len(m) == 0 {
		return nil
	}
	// First span that ends after start.
	lo := sort.Search(len(m), func(i int) bool { return m[i].OutEnd > start })
	var out SourceMap
	for i := lo; i < len(m) && m[i].OutStart < end; i++ {
		sp := m[i]
		outStart := sp.OutStart
		srcStart := sp.Source.Start
		if outStart < start {
			srcStart += start - outStart
			outStart = start
		}
		outEnd := sp.OutEnd
		srcEnd := sp.Source.End
		if outEnd > end {
			srcEnd -= outEnd - end
			outEnd = end
		}
		out = append(out, MapSpan{
			OutStart: outStart - start,
			OutEnd:   outEnd - start,
			Source:   Span{File: sp.Source.File, Start: srcStart, End: srcEnd},
		})
	}
	return out
}

// shift returns a copy of m with all output offsets moved by delta.
func (m SourceMap) shift(delta int) SourceMap {
	if delta == 0 {
		return m
	}
	out := make(SourceMap, len(m))
	for i, sp := range m {
		sp.OutStart += delta
		sp.OutEnd += delta
		out[i] = sp
	}
	return out
}

// concatMaps joins the maps of consecutive pieces whose lengths are given in
// lens, coalescing spans that are contiguous in both output and source.
func concatMaps(maps []SourceMap, lens []int) SourceMap {
	var out SourceMap
	offset := 0
	for i, m := range maps {
		for _, sp := range m {
			sp.OutStart += offset
			sp.OutEnd += offset
			if n := len(out); n > 0 {
				last := out[n-1]
				if last.OutEnd == sp.OutStart &&
					last.Source.File == sp.Source.File &&
					last.Source.End == sp.Source.Start {
					out[n-1].OutEnd = sp.OutEnd
					out[n-1].Source.End = sp.Source.End
					continue
				}
			}
			out = append(out, sp)
		}
		offset += lens[i]
	}
	return out
}

// SpanAt returns the source span covering the single output offset, when
// tracked.
func (m SourceMap) SpanAt(offset int) (Span, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].OutEnd > offset })
	if i == len(m) || m[i].OutStart > offset {
		return Span{}, false
	}
	sp := m[i]
	delta := offset - sp.OutStart
	return Span{File: sp.Source.File, Start: sp.Source.Start + delta, End: sp.Source.Start + delta + 1}, true
}

// Spans returns the source spans in output order.
func (m SourceMap) Spans() []Span {
	out := make([]Span, len(m))
	for i, sp := range m {
		out[i] = sp.Source
	}
	return out
}
