package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// Version is a semantic version MAJOR.MINOR.PATCH.
type Version struct {
	Major, Minor, Patch int
}

// FirstVersion is assigned to the first registered version of a model.
var FirstVersion = Version{Major: 1}

// ParseVersion parses "1.2.3". A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, errors.NewValueError("ParseVersion", "expected MAJOR.MINOR.PATCH, got "+s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, errors.NewValueError("ParseVersion", "invalid version component in "+s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NextPatch returns v with the patch number incremented.
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// Less reports whether v orders before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}
