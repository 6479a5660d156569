package tuf

import (
	"strings"

	"github.com/pkg/errors"
)

// segmentKind classifies one path segment of a compiled Pattern.
type segmentKind int

const (
	segExact segmentKind = iota
	segWildcard          // "*" - exactly one path segment, captured
	segGlobstar          // "**" - any number of segments (including zero), captured as a group
)

type patternSegment struct {
	kind segmentKind
	text string // only meaningful for segExact
}

// Pattern is a compiled delegation path pattern over "/"-separated path
// segments. It supports exact segments, single-segment wildcards ("*")
// and any-depth wildcards ("**"), per spec.md §3. At most one "**" is
// supported per pattern, and it need not be the final segment.
type Pattern struct {
	raw      string
	segments []patternSegment
}

// CompilePattern parses a delegation path pattern into a Pattern. An
// empty pattern matches only the empty path.
func CompilePattern(raw string) (Pattern, error) {
	parts := strings.Split(raw, "/")
	segs := make([]patternSegment, 0, len(parts))
	globstars := 0
	for _, part := range parts {
		switch part {
		case "**":
			globstars++
			if globstars > 1 {
				return Pattern{}, errors.Errorf("pattern %q has more than one ** segment", raw)
			}
			segs = append(segs, patternSegment{kind: segGlobstar})
		case "*":
			segs = append(segs, patternSegment{kind: segWildcard})
		default:
			segs = append(segs, patternSegment{kind: segExact, text: part})
		}
	}
	return Pattern{raw: raw, segments: segs}, nil
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Match reports whether path matches the pattern, and if so returns the
// positional captures for every "*" and "**" segment in pattern order
// (a "**" capture is the "/"-joined run of segments it consumed, which
// may be empty).
func (p Pattern) Match(path string) (captures []string, ok bool) {
	pathParts := strings.Split(path, "/")
	return matchSegments(p.segments, pathParts)
}

func matchSegments(pattern []patternSegment, path []string) ([]string, bool) {
	if len(pattern) == 0 {
		if len(path) == 0 {
			return nil, true
		}
		return nil, false
	}
	head := pattern[0]
	switch head.kind {
	case segExact:
		if len(path) == 0 || path[0] != head.text {
			return nil, false
		}
		return matchSegments(pattern[1:], path[1:])
	case segWildcard:
		if len(path) == 0 {
			return nil, false
		}
		rest, ok := matchSegments(pattern[1:], path[1:])
		if !ok {
			return nil, false
		}
		return append([]string{path[0]}, rest...), true
	case segGlobstar:
		// Try consuming 0..len(path) segments greedily-backwards so the
		// remaining fixed pattern still has a chance to match; TUF
		// delegation patterns are small so a linear backtrack is fine.
		for consume := len(path); consume >= 0; consume-- {
			rest, ok := matchSegments(pattern[1:], path[consume:])
			if ok {
				capture := strings.Join(path[:consume], "/")
				return append([]string{capture}, rest...), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}
