package sourcestr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputErrorMessage(t *testing.T) {
	f := NewFile("a.txt", "wire bad_net\n")
	err := NewInputError("unknown net", Span{File: f, Start: 5, End: 12})
	assert.Equal(t, "a.txt:1:6: unknown net", err.Error())

	bare := NewInputError("no location")
	assert.Equal(t, "no location", bare.Error())
}

func TestInputErrorf(t *testing.T) {
	f := NewFile("a.txt", "wire bad_net\n")
	s := f.Str().Slice(5, 12)
	err := InputErrorf(s, "unknown net %q", "bad_net")
	assert.Equal(t, `a.txt:1:6: unknown net "bad_net"`, err.Error())
	require.Len(t, err.Where, 1)
	assert.Equal(t, Span{File: f, Start: 5, End: 12}, err.Where[0])
}

func TestRender(t *testing.T) {
	f := NewFile("a.txt", "first line\nwire bad_net ok\n")
	got := Render("unknown net", []Span{{File: f, Start: 16, End: 23}})
	assert.Equal(t,
		"a.txt:2:6: unknown net\n"+
			"  wire bad_net ok\n"+
			"       ^^^^^^^\n",
		got)
}

func TestRenderMultipleSpans(t *testing.T) {
	f := NewFile("a.txt", "alpha\nbeta\n")
	got := Render("conflict", []Span{
		{File: f, Start: 0, End: 5},
		{File: f, Start: 6, End: 10},
	})
	assert.Equal(t,
		"a.txt:1:1: conflict\n"+
			"  alpha\n"+
			"  ^^^^^\n"+
			"a.txt:2:1:\n"+
			"  beta\n"+
			"  ^^^^\n",
		got)
}

func TestRenderWithoutSpans(t *testing.T) {
	assert.Equal(t, "just a message\n", Render("just a message", nil))
}

func TestRenderClipsCaretsToLine(t *testing.T) {
	f := NewFile("a.txt", "short\nnext\n")
	// The span runs past the end of its line; carets stop at the line end.
	got := Render("spans lines", []Span{{File: f, Start: 0, End: 9}})
	assert.Equal(t,
		"a.txt:1:1: spans lines\n"+
			"  short\n"+
			"  ^^^^^\n",
		got)
}

func TestCloseGaps(t *testing.T) {
	f := NewFile("a.txt", "0123456789")
	g := NewFile("b.txt", "0123456789")
	testCases := []struct {
		description string
		spans       []Span
		maxGap      int
		expect      []Span
	}{
		{
			description: "adjacent spans merge",
			spans:       []Span{{File: f, Start: 0, End: 3}, {File: f, Start: 4, End: 8}},
			maxGap:      2,
			expect:      []Span{{File: f, Start: 0, End: 8}},
		},
		{
			description: "wide gap kept apart",
			spans:       []Span{{File: f, Start: 0, End: 2}, {File: f, Start: 8, End: 9}},
			maxGap:      2,
			expect:      []Span{{File: f, Start: 0, End: 2}, {File: f, Start: 8, End: 9}},
		},
		{
			description: "different files never merge",
			spans:       []Span{{File: f, Start: 0, End: 2}, {File: g, Start: 2, End: 4}},
			maxGap:      10,
			expect:      []Span{{File: f, Start: 0, End: 2}, {File: g, Start: 2, End: 4}},
		},
		{
			description: "out of order input is sorted",
			spans:       []Span{{File: f, Start: 5, End: 7}, {File: f, Start: 0, End: 4}},
			maxGap:      2,
			expect:      []Span{{File: f, Start: 0, End: 7}},
		},
		{
			description: "contained span absorbed",
			spans:       []Span{{File: f, Start: 0, End: 8}, {File: f, Start: 2, End: 4}},
			maxGap:      0,
			expect:      []Span{{File: f, Start: 0, End: 8}},
		},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expect, CloseGaps(tc.spans, tc.maxGap), tc.description)
	}
}

func TestRenderMergesNearbySpans(t *testing.T) {
	f := NewFile("a.txt", "one bad and ugly\n")
	// "bad" and "and" are two bytes apart; the diagnostic underlines one run.
	got := Render("suspicious", []Span{
		{File: f, Start: 4, End: 7},
		{File: f, Start: 8, End: 11},
	})
	assert.Equal(t,
		"a.txt:1:5: suspicious\n"+
			"  one bad and ugly\n"+
			"      ^^^^^^^\n",
		got)
}
