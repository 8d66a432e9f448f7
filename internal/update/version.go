package update

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// extractBaseSemver extracts the base semver from a version string.
func extractBaseSemver(v string) string {
	v = strings.TrimPrefix(v, "v")
	if len(v) == 0 || v[0] < '0' || v[0] > '9' {
		return ""
	}
	if !strings.Contains(v, ".") {
		return ""
	}
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx]
	}
	return v
}

// gitDescribePattern matches git describe format: v0.16.1-2-gabcdef or v0.16.1-2-gabcdef-dirty
var gitDescribePattern = regexp.MustCompile(`-\d+-g[0-9a-f]+(-dirty)?$`)

// isDevBuildVersion returns true if the version is a dev build.
func isDevBuildVersion(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if extractBaseSemver(v) == "" {
		return true
	}
	return gitDescribePattern.MatchString(v)
}

// isNewer returns true if v1 is newer than v2 (semver comparison).
// Prerelease versions (e.g. -rc1) are considered older than the same base version.
// Git-describe versions (e.g. 0.4.0-5-gabcdef) are treated as their base version.
func isNewer(v1, v2 string) bool {
	// Extract base semver to validate both are valid versions
	base1 := extractBaseSemver(v1)
	base2 := extractBaseSemver(v2)
	if base1 == "" || base2 == "" {
		return false
	}

	// Normalize to semver format with "v" prefix
	sv1 := normalizeSemver(v1)
	sv2 := normalizeSemver(v2)

	return semver.Compare(sv1, sv2) > 0
}

// prereleaseNumericPattern matches prerelease identifiers consisting of letters followed
// by digits (e.g., "rc10", "beta2", "alpha1") to normalize them for proper numeric comparison.
// The pattern is anchored to avoid partial matches within identifiers like "rc10a".
var prereleaseNumericPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// normalizeSemver converts a version string to semver format for comparison.
// Git-describe versions are converted to their base version.
// Prerelease tags are normalized to use dotted format for proper numeric comparison
// (e.g., "rc10" becomes "rc.10" so that rc.10 > rc.2 numerically).
func normalizeSemver(v string) string {
	v = strings.TrimPrefix(v, "v")

	// Strip git-describe suffix (e.g., "-5-gabcdef" or "-5-gabcdef-dirty")
	if gitDescribePattern.MatchString(v) {
		v = gitDescribePattern.ReplaceAllString(v, "")
	}

	// Normalize prerelease identifiers to dotted format for numeric comparison.
	// Per semver spec, "rc10" is compared lexicographically (so rc10 < rc2).
	// By converting to "rc.10", the numeric part is compared as an integer.
	// Each dot-separated identifier is processed independently.
	if idx := strings.Index(v, "-"); idx > 0 {
		base := v[:idx]
		prerelease := v[idx+1:]
		prerelease = normalizePrereleaseIdentifiers(prerelease)
		v = base + "-" + prerelease
	}

	return "v" + v
}

// normalizePrereleaseIdentifiers processes each dot-separated prerelease identifier
// and normalizes identifiers like "rc10" to "rc.10" for proper numeric comparison.
// Identifiers with leading zeros in the numeric part are skipped to avoid creating
// invalid semver numeric identifiers.
func normalizePrereleaseIdentifiers(prerelease string) string {
	parts := strings.Split(prerelease, ".")
	var result []string
	for _, part := range parts {
		if matches := prereleaseNumericPattern.FindStringSubmatch(part); matches != nil {
			letters, digits := matches[1], matches[2]
			// Skip normalization if the numeric part has leading zeros,
			// as that would create an invalid semver numeric identifier.
			if len(digits) > 1 && digits[0] == '0' {
				result = append(result, part)
			} else {
				result = append(result, letters, digits)
			}
		} else {
			result = append(result, part)
		}
	}
	return strings.Join(result, ".")
}

