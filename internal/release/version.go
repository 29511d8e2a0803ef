package release

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// The pre-release group only accepts the usual channel words so that build
// suffixes like geth's commit hash are not mistaken for one.
var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)\.(\d+)(?:-((?:alpha|beta|rc|pre|unstable)[0-9A-Za-z.]*))?`)

// ParseVersion extracts the first semantic version found in s, without a
// leading "v". It returns "" if none is present.
func ParseVersion(s string) string {
	s = strings.TrimSuffix(archiveBase(s), ".exe")
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	v := m[1] + "." + m[2] + "." + m[3]
	if m[4] != "" {
		v += "-" + m[4]
	}
	return v
}

// CompareVersions orders two versions as returned by ParseVersion:
// -1 if a < b, 0 if equal, +1 if a > b. A release without pre-release
// suffix sorts after the same version with one, and numeric pre-release
// parts compare as numbers ("rc.10" > "rc.9", "beta10" > "beta2").
// Unparseable versions sort first.
func CompareVersions(a, b string) int {
	sa, sb := canonicalSemver(a), canonicalSemver(b)
	switch {
	case sa == "" && sb == "":
		return strings.Compare(a, b)
	case sa == "":
		return -1
	case sb == "":
		return 1
	}
	return semver.Compare(sa, sb)
}

// canonicalSemver rewrites v into the "vX.Y.Z[-pre]" form semver.Compare
// expects, or "" if v holds no version.
func canonicalSemver(v string) string {
	m := versionPattern.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	out := "v" + trimZeros(m[1]) + "." + trimZeros(m[2]) + "." + trimZeros(m[3])
	if pre := prereleaseIdentifiers(m[4]); pre != "" {
		out += "-" + pre
	}
	return out
}

// prereleaseIdentifiers splits pre into dot-separated identifiers at every
// letter/digit boundary, so "beta10" becomes "beta.10".
func prereleaseIdentifiers(pre string) string {
	var (
		ids []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		id := cur.String()
		if isDigit(id[0]) {
			id = trimZeros(id)
		}
		ids = append(ids, id)
		cur.Reset()
	}
	for i := 0; i < len(pre); i++ {
		c := pre[i]
		if c == '.' {
			flush()
			continue
		}
		if cur.Len() > 0 {
			prev := cur.String()[cur.Len()-1]
			if isDigit(prev) != isDigit(c) {
				flush()
			}
		}
		cur.WriteByte(c)
	}
	flush()
	return strings.Join(ids, ".")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// trimZeros drops leading zeros from a digit run, keeping a single "0".
func trimZeros(digits string) string {
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0"
	}
	return digits
}

// SortNewestFirst orders releases by descending version.
func SortNewestFirst(rels []Release) {
	sort.SliceStable(rels, func(i, j int) bool {
		return CompareVersions(rels[i].Version, rels[j].Version) > 0
	})
}
