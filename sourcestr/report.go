package sourcestr

import (
	"fmt"
	"sort"
	"strings"
)

// InputError is a diagnostic about user-provided input, bound to the source
// locations that caused it.
type InputError struct {
	Message string
	Where   []Span
}

// NewInputError builds an InputError pointing at the given spans.
func NewInputError(message string, where ...Span) *InputError {
	return &InputError{Message: message, Where: where}
}

// InputErrorf formats the message and points it at the spans backing s.
func InputErrorf(s Str, format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...), Where: s.Spans()}
}

func (e *InputError) Error() string {
	if len(e.Where) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Where[0], e.Message)
}

// Report renders the full diagnostic with context lines and carets.
func (e *InputError) Report() string {
	return Render(e.Message, e.Where)
}

// CloseGaps merges spans in the same file separated by at most maxGap
// bytes, so a diagnostic underlines one range instead of many fragments.
func CloseGaps(spans []Span, maxGap int) []Span {
	if len(spans) < 2 {
		return spans
	}
	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File.Path() < sorted[j].File.Path()
		}
		return sorted[i].Start < sorted[j].Start
	})
	out := sorted[:1]
	for _, sp := range sorted[1:] {
		last := &out[len(out)-1]
		if sp.File == last.File && sp.Start-last.End <= maxGap {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}

// Render formats message with one location block per span: a path:line:col
// header, the source line and a caret highlight. Spans closer than a few
// bytes are merged first.
func Render(message string, spans []Span) string {
	spans = CloseGaps(spans, 2)
	var b strings.Builder
	if len(spans) == 0 {
		b.WriteString(message)
		b.WriteByte('\n')
		return b.String()
	}
	for i, sp := range spans {
		pos := sp.Position()
		if i == 0 {
			fmt.Fprintf(&b, "%s:%d:%d: %s\n", sp.File.Path(), pos.Line, pos.Col, message)
		} else {
			fmt.Fprintf(&b, "%s:%d:%d:\n", sp.File.Path(), pos.Line, pos.Col)
		}
		line := sp.File.LineText(pos.Line)
		fmt.Fprintf(&b, "  %s\n", line)
		width := sp.Len()
		if rest := len(line) - (pos.Col - 1); width > rest {
			width = rest
		}
		if width < 1 {
			width = 1
		}
		fmt.Fprintf(&b, "  %s%s\n", strings.Repeat(" ", pos.Col-1), strings.Repeat("^", width))
	}
	return b.String()
}
