package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPattern matches common "x.y.z" version tokens with an optional v prefix.
const DefaultPattern = `v?(\d+(?:\.\d+)+)`

// Normalize removes common prefixes and surrounding whitespace from version strings
// Handles: v1.2.3 -> 1.2.3, version-1.2.3 -> 1.2.3, "git version 2.43.0" is NOT handled here
func Normalize(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "version-")
	version = strings.TrimPrefix(version, "release-")
	version = strings.TrimPrefix(version, "v")
	version = strings.TrimPrefix(version, "V")
	return version
}

// ExtractFromOutput extracts a version from command output using the first capture group of pattern
func ExtractFromOutput(output, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid version pattern: %w", err)
	}

	matches := re.FindStringSubmatch(output)
	if len(matches) < 2 {
		return "", fmt.Errorf("version not found in output: %q", firstLine(output))
	}

	return Normalize(matches[1]), nil
}

// Compare orders two versions by their dot separated integer components.
// Missing components count as 0 and each component is coerced to its
// leading digits, so pre-release and build suffixes are ignored:
// Compare("2.0.0-rc1", "2.0.0") == 0.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func Compare(a, b string) int {
	pa, pb := components(a), components(b)
	n := max(len(pa), len(pb))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v >= minimum
func AtLeast(v, minimum string) bool {
	return Compare(v, minimum) >= 0
}

// Max returns the highest of the given versions, or "" when none are given
func Max(versions ...string) string {
	best := ""
	for _, v := range versions {
		if best == "" || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}

// Major returns the first component of v
func Major(v string) int {
	c := components(v)
	if len(c) == 0 {
		return 0
	}
	return c[0]
}

func components(v string) []int {
	v = Normalize(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i] = leadingInt(p)
	}
	return out
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
