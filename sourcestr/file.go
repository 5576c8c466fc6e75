package sourcestr

import (
	"path/filepath"
	"sort"
	"strings"
)

// File is one source text with a newline index for offset-to-position
// lookups. Files are immutable after creation.
type File struct {
	path        string
	absPath     string
	text        string
	lineOffsets []int
}

// NewFile indexes text under the given path. The path is used verbatim in
// diagnostics; AbsPath resolves it against the working directory.
func NewFile(path, text string) *File {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	f := &File{path: path, absPath: abs, text: text}
	f.lineOffsets = append(f.lineOffsets, 0)
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			f.lineOffsets = append(f.lineOffsets, i+1)
		}
	}
	return f
}

// Path returns the path the file was created with.
func (f *File) Path() string { return f.path }

// AbsPath returns the absolute path.
func (f *File) AbsPath() string { return f.absPath }

// Text returns the full file content.
func (f *File) Text() string { return f.text }

// Len returns the content length in bytes.
func (f *File) Len() int { return len(f.text) }

// Position is a 1-based line and column.
type Position struct {
	Line int
	Col  int
}

// Position converts a byte offset into a 1-based line and column.
func (f *File) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(f.text) {
		offset = len(f.text)
	}
	line := sort.Search(len(f.lineOffsets), func(i int) bool {
		return f.lineOffsets[i] > offset
	})
	return Position{Line: line, Col: offset - f.lineOffsets[line-1] + 1}
}

// LineText returns the text of the 1-based line n without its newline.
func (f *File) LineText(n int) string {
	if n < 1 || n > len(f.lineOffsets) {
		return ""
	}
	start := f.lineOffsets[n-1]
	end := len(f.text)
	if n < len(f.lineOffsets) {
		end = f.lineOffsets[n] - 1
	}
	return strings.TrimSuffix(f.text[start:end], "\r")
}

// LineCount returns the number of lines.
func (f *File) LineCount() int { return len(f.lineOffsets) }

// Str returns the whole file content as a tracked string.
func (f *File) Str() Str {
	if len(f.text) == 0 {
		return Str{}
	}
	return Str{
		Text: f.text,
		Map: SourceMap{{
			OutStart: 0,
			OutEnd:   len(f.text),
			Source:   Span{File: f, Start: 0, End: len(f.text)},
		}},
	}
}
