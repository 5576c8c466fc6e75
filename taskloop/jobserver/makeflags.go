package jobserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// EnvInfo is the jobserver configuration extracted from MAKEFLAGS.
type EnvInfo struct {
	// Raw is the original MAKEFLAGS value.
	Raw string
	// JobCount is the -jN value, 0 when absent.
	JobCount int
	// DryRun reports the make -n flag.
	DryRun bool
	// FifoPath is set for --jobserver-auth=fifo:PATH.
	FifoPath string
	// ReadFD and WriteFD are set for the pipe styles; valid when HasFDs.
	ReadFD  int
	WriteFD int
	HasFDs  bool
}

// HasJobserver reports whether MAKEFLAGS named a usable jobserver.
func (e *EnvInfo) HasJobserver() bool {
	return e != nil && (e.FifoPath != "" || e.HasFDs)
}

const (
	whitespaceCode = iota
	wordCode
)

var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	wordToken       = parsly.NewToken(wordCode, "Word", newWordMatcher())
)

func newWordMatcher() parsly.Matcher {
	return &wordMatcher{}
}

// wordMatcher matches a run of non-whitespace bytes.
type wordMatcher struct{}

func (m *wordMatcher) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	size := cursor.InputSize
	matched := 0
	for i := pos; i < size; i++ {
		if input[i] == ' ' || input[i] == '\t' || input[i] == '\n' {
			break
		}
		matched++
	}
	return matched
}

// ParseMakeflags splits a MAKEFLAGS value into words and interprets the
// jobserver-related flags: -jN, --jobserver-auth and the legacy
// --jobserver-fds.
func ParseMakeflags(value string) (*EnvInfo, error) {
	info := &EnvInfo{Raw: value}
	cursor := parsly.NewCursor("", []byte(value), 0)
	first := true
	for {
		matched := cursor.MatchAfterOptional(whitespaceToken, wordToken)
		if matched.Code != wordToken.Code {
			break
		}
		word := matched.Text(cursor)
		if first && !strings.HasPrefix(word, "-") {
			// Leading bundle of single-letter options, e.g. "kn".
			if strings.ContainsRune(word, 'n') {
				info.DryRun = true
			}
			first = false
			continue
		}
		first = false
		switch {
		case word == "-j":
			// Unlimited; leave JobCount at 0.
		case strings.HasPrefix(word, "-j"):
			n, err := strconv.Atoi(word[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid job count flag %q: %w", word, err)
			}
			info.JobCount = n
		case strings.HasPrefix(word, "--jobserver-auth="):
			if err := parseAuth(info, strings.TrimPrefix(word, "--jobserver-auth=")); err != nil {
				return nil, err
			}
		case strings.HasPrefix(word, "--jobserver-fds="):
			if err := parseAuth(info, strings.TrimPrefix(word, "--jobserver-fds=")); err != nil {
				return nil, err
			}
		}
	}
	return info, nil
}

func parseAuth(info *EnvInfo, spec string) error {
	if path, ok := strings.CutPrefix(spec, "fifo:"); ok {
		info.FifoPath = path
		return nil
	}
	rs, ws, ok := strings.Cut(spec, ",")
	if !ok {
		return fmt.Errorf("invalid jobserver auth %q", spec)
	}
	r, err := strconv.Atoi(rs)
	if err != nil {
		return fmt.Errorf("invalid jobserver auth %q: %w", spec, err)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return fmt.Errorf("invalid jobserver auth %q: %w", spec, err)
	}
	if r < 0 || w < 0 {
		// make uses -1,-1 to signal a disabled jobserver
		return nil
	}
	info.ReadFD, info.WriteFD, info.HasFDs = r, w, true
	return nil
}

// ParseEnv reads the jobserver configuration from the MAKEFLAGS environment
// variable of this process.
func ParseEnv() (*EnvInfo, error) {
	return ParseMakeflags(os.Getenv("MAKEFLAGS"))
}
