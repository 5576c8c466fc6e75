package sourcestr

import (
	"context"
	"strings"
	"unicode"

	"github.com/viant/afs"
)

// Str is a string carrying source provenance. The zero value is the empty
// untracked string. Str is a value type; all operations return new values.
type Str struct {
	Text string
	Map  SourceMap
}

// New returns an untracked string.
func New(text string) Str {
	return Str{Text: text}
}

// ReadFile loads the asset at URL and returns its content as a fully
// tracked string. URL accepts anything the afs service handles, plain
// paths included.
func ReadFile(ctx context.Context, URL string) (Str, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return Str{}, err
	}
	return NewFile(URL, string(data)).Str(), nil
}

// Len returns the length in bytes.
func (s Str) Len() int { return len(s.Text) }

// String returns the bare text.
func (s Str) String() string { return s.Text }

// Tracked reports whether any part of the string has provenance.
func (s Str) Tracked() bool { return len(s.Map) > 0 }

// Detached returns the same text with all provenance dropped.
func (s Str) Detached() Str { return Str{Text: s.Text} }

// Spans returns the source spans backing the string, in output order.
func (s Str) Spans() []Span { return s.Map.Spans() }

// SpanAt returns the source span of the byte at offset, when tracked.
func (s Str) SpanAt(offset int) (Span, bool) { return s.Map.SpanAt(offset) }

// Slice returns the byte range [start, end) with clipped provenance.
func (s Str) Slice(start, end int) Str {
	if start < 0 {
		start = 0
	}
	if end > len(s.Text) {
		end = len(s.Text)
	}
	if start >= end {
		return Str{}
	}
	return Str{Text: s.Text[start:end], Map: s.Map.Slice(start, end)}
}

// Concat joins parts into one string. Adjacent pieces that continue each
// other in the same file merge into a single span.
func Concat(parts ...Str) Str {
	switch len(parts) {
	case 0:
		return Str{}
	case 1:
		return parts[0]
	}
	var b strings.Builder
	maps := make([]SourceMap, len(parts))
	lens := make([]int, len(parts))
	for i, p := range parts {
		b.WriteString(p.Text)
		maps[i] = p.Map
		lens[i] = len(p.Text)
	}
	return Str{Text: b.String(), Map: concatMaps(maps, lens)}
}

// Concat appends parts to s.
func (s Str) Concat(parts ...Str) Str {
	return Concat(append([]Str{s}, parts...)...)
}

// Repeat concatenates n copies of s, each keeping its provenance.
func (s Str) Repeat(n int) Str {
	if n <= 0 {
		return Str{}
	}
	parts := make([]Str, n)
	for i := range parts {
		parts[i] = s
	}
	return Concat(parts...)
}

// Index returns the byte offset of the first occurrence of sub, -1 when
// absent.
func (s Str) Index(sub string) int { return strings.Index(s.Text, sub) }

// HasPrefix reports whether the text starts with prefix.
func (s Str) HasPrefix(prefix string) bool { return strings.HasPrefix(s.Text, prefix) }

// HasSuffix reports whether the text ends with suffix.
func (s Str) HasSuffix(suffix string) bool { return strings.HasSuffix(s.Text, suffix) }

// Split slices s around each instance of sep. An empty sep is not
// supported and yields the whole string.
func (s Str) Split(sep string) []Str {
	if sep == "" {
		return []Str{s}
	}
	var out []Str
	start := 0
	for {
		i := strings.Index(s.Text[start:], sep)
		if i < 0 {
			out = append(out, s.Slice(start, len(s.Text)))
			return out
		}
		out = append(out, s.Slice(start, start+i))
		start += i + len(sep)
	}
}

// SplitLines splits on newlines, excluding the line terminators. A trailing
// newline does not produce a final empty line.
func (s Str) SplitLines() []Str {
	var out []Str
	start := 0
	for i := 0; i < len(s.Text); i++ {
		if s.Text[i] != '\n' {
			continue
		}
		end := i
		if end > start && s.Text[end-1] == '\r' {
			end--
		}
		out = append(out, s.Slice(start, end))
		start = i + 1
	}
	if start < len(s.Text) {
		out = append(out, s.Slice(start, len(s.Text)))
	}
	return out
}

// TrimSpace removes leading and trailing whitespace.
func (s Str) TrimSpace() Str {
	start := 0
	for start < len(s.Text) && isSpace(s.Text[start]) {
		start++
	}
	end := len(s.Text)
	for end > start && isSpace(s.Text[end-1]) {
		end--
	}
	return s.Slice(start, end)
}

// Trim removes leading and trailing bytes contained in cutset.
func (s Str) Trim(cutset string) Str {
	return s.TrimLeft(cutset).TrimRight(cutset)
}

// TrimLeft removes leading bytes contained in cutset.
func (s Str) TrimLeft(cutset string) Str {
	start := 0
	for start < len(s.Text) && strings.IndexByte(cutset, s.Text[start]) >= 0 {
		start++
	}
	return s.Slice(start, len(s.Text))
}

// TrimRight removes trailing bytes contained in cutset.
func (s Str) TrimRight(cutset string) Str {
	end := len(s.Text)
	for end > 0 && strings.IndexByte(cutset, s.Text[end-1]) >= 0 {
		end--
	}
	return s.Slice(0, end)
}

// Fields splits around runs of whitespace, returning only non-empty pieces.
func (s Str) Fields() []Str {
	var out []Str
	i := 0
	for i < len(s.Text) {
		for i < len(s.Text) && isSpace(s.Text[i]) {
			i++
		}
		start := i
		for i < len(s.Text) && !isSpace(s.Text[i]) {
			i++
		}
		if i > start {
			out = append(out, s.Slice(start, i))
		}
	}
	return out
}

func isSpace(b byte) bool {
	return b < 0x80 && unicode.IsSpace(rune(b))
}
