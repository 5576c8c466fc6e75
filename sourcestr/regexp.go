package sourcestr

import "regexp"

// Pattern is a compiled regular expression operating on tracked strings.
// Every returned group value is sliced from the subject, so provenance
// flows through matching.
type Pattern struct {
	re *regexp.Regexp
}

// Compile compiles expr using the standard regexp syntax.
func Compile(expr string) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re}, nil
}

// MustCompile is Compile panicking on error, for package-level patterns.
func MustCompile(expr string) *Pattern {
	return &Pattern{re: regexp.MustCompile(expr)}
}

// Expr returns the pattern source.
func (p *Pattern) Expr() string { return p.re.String() }

// Match is one successful application of a Pattern to a subject.
type Match struct {
	subject Str
	idx     []int
	names   []string
}

// Search returns the leftmost match in s, or nil.
func (p *Pattern) Search(s Str) *Match {
	idx := p.re.FindStringSubmatchIndex(s.Text)
	if idx == nil {
		return nil
	}
	return &Match{subject: s, idx: idx, names: p.re.SubexpNames()}
}

// MatchAt returns a match anchored at byte offset pos, or nil. The pattern
// is applied to the text from pos on, so `^` matches at pos and `\b` is
// judged without the bytes before pos; there is no way to match at an
// offset with surrounding context through the standard regexp engine.
func (p *Pattern) MatchAt(s Str, pos int) *Match {
	if pos < 0 || pos > len(s.Text) {
		return nil
	}
	idx := p.re.FindStringSubmatchIndex(s.Text[pos:])
	if idx == nil || idx[0] != 0 {
		return nil
	}
	shifted := make([]int, len(idx))
	for i, v := range idx {
		if v < 0 {
			shifted[i] = v
			continue
		}
		shifted[i] = v + pos
	}
	return &Match{subject: s, idx: shifted, names: p.re.SubexpNames()}
}

// FullMatch returns a match covering all of s, or nil.
func (p *Pattern) FullMatch(s Str) *Match {
	m := p.MatchAt(s, 0)
	if m == nil || m.idx[1] != len(s.Text) {
		return nil
	}
	return m
}

// FindAll returns all non-overlapping matched substrings.
func (p *Pattern) FindAll(s Str) []Str {
	var out []Str
	for _, loc := range p.re.FindAllStringIndex(s.Text, -1) {
		out = append(out, s.Slice(loc[0], loc[1]))
	}
	return out
}

// FindAllMatches returns all non-overlapping matches with group access.
func (p *Pattern) FindAllMatches(s Str) []*Match {
	var out []*Match
	names := p.re.SubexpNames()
	for _, idx := range p.re.FindAllStringSubmatchIndex(s.Text, -1) {
		out = append(out, &Match{subject: s, idx: idx, names: names})
	}
	return out
}

// Split slices s around all matches of the pattern.
func (p *Pattern) Split(s Str) []Str {
	var out []Str
	start := 0
	for _, loc := range p.re.FindAllStringIndex(s.Text, -1) {
		out = append(out, s.Slice(start, loc[0]))
		start = loc[1]
	}
	out = append(out, s.Slice(start, len(s.Text)))
	return out
}

// ReplaceAll substitutes every match with the literal repl. The unmatched
// segments keep their provenance; replacements are untracked.
func (p *Pattern) ReplaceAll(s Str, repl string) Str {
	locs := p.re.FindAllStringIndex(s.Text, -1)
	if len(locs) == 0 {
		return s
	}
	var parts []Str
	start := 0
	for _, loc := range locs {
		parts = append(parts, s.Slice(start, loc[0]), New(repl))
		start = loc[1]
	}
	parts = append(parts, s.Slice(start, len(s.Text)))
	return Concat(parts...)
}

// Str returns the full matched substring (group 0).
func (m *Match) Str() Str {
	return m.subject.Slice(m.idx[0], m.idx[1])
}

// Group returns the i-th group. The second result is false for a group that
// did not participate in the match.
func (m *Match) Group(i int) (Str, bool) {
	if i < 0 || 2*i+1 >= len(m.idx) || m.idx[2*i] < 0 {
		return Str{}, false
	}
	return m.subject.Slice(m.idx[2*i], m.idx[2*i+1]), true
}

// Named returns the named group.
func (m *Match) Named(name string) (Str, bool) {
	for i, n := range m.names {
		if n == name {
			return m.Group(i)
		}
	}
	return Str{}, false
}

// Groups returns groups 1..n; absent groups are empty untracked strings.
func (m *Match) Groups() []Str {
	n := len(m.idx)/2 - 1
	out := make([]Str, n)
	for i := 1; i <= n; i++ {
		g, _ := m.Group(i)
		out[i-1] = g
	}
	return out
}

// Span returns the subject byte range of group i, (-1, -1) when absent.
func (m *Match) Span(i int) (int, int) {
	if i < 0 || 2*i+1 >= len(m.idx) {
		return -1, -1
	}
	return m.idx[2*i], m.idx[2*i+1]
}

// Start returns the start offset of group i.
func (m *Match) Start(i int) int {
	s, _ := m.Span(i)
	return s
}

// End returns the end offset of group i.
func (m *Match) End(i int) int {
	_, e := m.Span(i)
	return e
}
