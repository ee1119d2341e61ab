package dispatch

import (
	"strconv"
	"strings"
)

// freedomVersion is the sentinel lightning-rod version string meaning "run
// from source, always newer than any released version" (spec.md §4.E).
const freedomVersion = "freedom"

// CompareVersion compares two dotted 3-part version strings (e.g. "1.4.2").
// Returns -1, 0 or 1 as a < b, a == b, a > b. freedomVersion always compares
// greater than any numeric version, and equal to itself.
func CompareVersion(a, b string) int {
	if a == b {
		return 0
	}
	if a == freedomVersion {
		return 1
	}
	if b == freedomVersion {
		return -1
	}

	aParts := versionParts(a)
	bParts := versionParts(b)
	for i := 0; i < 3; i++ {
		if aParts[i] != bParts[i] {
			if aParts[i] < bParts[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionParts(v string) [3]int {
	var parts [3]int
	fields := strings.SplitN(v, ".", 3)
	for i := 0; i < len(fields) && i < 3; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			continue
		}
		parts[i] = n
	}
	return parts
}
