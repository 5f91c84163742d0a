package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SatisfiesConstraint checks if version satisfies a semver constraint such as ">=18" or "20.x"
func SatisfiesConstraint(version, constraint string) (bool, error) {
	if constraint == "" || constraint == "latest" {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		// not a constraint, treat as exact version
		return Compare(version, constraint) == 0, nil
	}

	v, err := semver.NewVersion(Normalize(version))
	if err != nil {
		return false, fmt.Errorf("invalid version %s: %w", version, err)
	}

	return c.Check(v), nil
}

// IsPartialVersion checks if a string is a partial version (major or major.minor)
// Examples: "1", "20", "2.43" -> true; "1.2.3", ">=1.2.3", "latest" -> false
func IsPartialVersion(s string) bool {
	if s == "" || s == "latest" || strings.ContainsAny(s, ">=<~^*x") {
		return false
	}
	normalized := Normalize(s)
	switch strings.Count(normalized, ".") {
	case 0:
		_, err := semver.NewVersion(normalized + ".0.0")
		return err == nil
	case 1:
		_, err := semver.NewVersion(normalized + ".0")
		return err == nil
	}
	return false
}

// ToConstraint turns a requested version into a constraint: partial versions
// become ranges ("20" -> "20.x"), empty becomes ">= minimum".
func ToConstraint(requested, minimum string) string {
	switch {
	case requested == "" || requested == "latest":
		if minimum == "" {
			return "*"
		}
		return ">= " + Normalize(minimum)
	case IsPartialVersion(requested):
		return Normalize(requested) + ".x"
	}
	return requested
}

// Latest returns the highest version among candidates satisfying constraint,
// skipping anything semver cannot parse.
func Latest(candidates []string, constraint string) (string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	var best *semver.Version
	var bestRaw string
	for _, raw := range candidates {
		v, err := semver.NewVersion(Normalize(raw))
		if err != nil || v.Prerelease() != "" || !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	if best == nil {
		return "", fmt.Errorf("no version satisfies %s", constraint)
	}
	return Normalize(bestRaw), nil
}
