// Package gupfile parses Gupfiles (spec §3.3) and matches target paths
// against the pattern blocks they contain.
package gupfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Block associates one build script (given relative to the Gupfile's
// directory) with an ordered list of include/exclude glob patterns.
type Block struct {
	Script   string
	Includes []string
	Excludes []string
	Line     int // 1-based line of the "script:" header, for diagnostics
}

// Matches reports whether relpath is covered by this block: at least one
// include pattern matches and no exclude pattern matches (spec §4.A).
func (b *Block) Matches(relpath string) (bool, error) {
	relpath = filepathToSlash(relpath)

	matched := false
	for _, pat := range b.Includes {
		ok, err := doublestar.Match(pat, relpath)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pat, err)
		}
		if ok {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	for _, pat := range b.Excludes {
		ok, err := doublestar.Match(pat, relpath)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Parse reads a Gupfile's contents into an ordered list of Blocks. Earlier
// blocks take precedence over later ones (spec §4.C "within a gupfile,
// earlier blocks beat later blocks").
func Parse(r io.Reader) ([]*Block, error) {
	scanner := bufio.NewScanner(r)
	var blocks []*Block
	var current *Block
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		isIndented := len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t')

		if !isIndented {
			name, ok := strings.CutSuffix(trimmed, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: expected a script name ending in ':', got %q", lineNo, raw)
			}
			if strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("line %d: empty script name", lineNo)
			}
			current = &Block{Script: strings.TrimSpace(name), Line: lineNo}
			blocks = append(blocks, current)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: pattern %q appears before any script name", lineNo, trimmed)
		}

		if strings.HasPrefix(trimmed, "!") {
			pat := strings.TrimSpace(trimmed[1:])
			if pat == "" {
				return nil, fmt.Errorf("line %d: empty exclusion pattern", lineNo)
			}
			current.Excludes = append(current.Excludes, pat)
		} else {
			current.Includes = append(current.Includes, trimmed)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ParseString is a convenience wrapper around Parse for in-memory input,
// used by the tests.
func ParseString(s string) ([]*Block, error) {
	return Parse(strings.NewReader(s))
}
