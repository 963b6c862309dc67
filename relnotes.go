package commhub

import (
	"strconv"
	"strings"
)

/*
Release note browsing.

Release notes are not stored on their own; they are derived from the
release-*.html pages of the documentation, split into a (major, minor) pair by
the numbering era the filename belongs to. The filename release-9-6-3.html is
major 9.6 minor 3, release-17-2.html is major 17 minor 2, and the ancient
release-1-09.html is major 1 minor 0.09, since back then the second component
was a fraction and not a counter.
*/

// NormalizeReleaseVersion maps the URL segments of a release note to the
// (major, minor) pair of the index. URLs predate the modern numbering, so a
// single-digit major of 6 through 9 folds its first minor segment into the
// major: /6/4 is major 6.4 minor 0, not major 6 minor 4. The fractional
// minors of majors 0 and 1 are written without their "0." prefix in URLs.
func NormalizeReleaseVersion(majorSeg, minorSeg string) (major, minor string) {
	major = majorSeg
	minor = minorSeg
	if minor == "" {
		minor = "0"
	}
	if n, err := strconv.Atoi(majorSeg); err == nil && n >= 6 && n <= 9 && minorSeg != "" {
		major = majorSeg + "." + minor
		minor = "0"
		return major, minor
	}
	if majorSeg == "0" || majorSeg == "1" {
		if minorSeg != "" {
			minor = "0." + minorSeg
		}
	}
	return major, minor
}

// releaseVersionString renders a (major, minor) pair back into the version
// number a reader expects to see.
func releaseVersionString(major, minor string) string {
	if minor == "0" {
		return major
	}
	if strings.HasPrefix(minor, "0.") {
		return major + "." + minor[2:]
	}
	return major + "." + minor
}

// ReleaseNoteMajors lists the major versions that have release notes,
// newest first.
func (x *Central) ReleaseNoteMajors() ([]string, error) {
	return x.docStore.ReleaseNoteMajors()
}

// ReleaseNotesForMajor lists the releases of one major, newest first. The
// notes' content is not loaded; the listing only needs the version numbers.
func (x *Central) ReleaseNotesForMajor(major string) ([]ReleaseNote, error) {
	return x.docStore.ReleaseNotesForMajor(major)
}

// GetReleaseNote loads one release's notes, content included, along with its
// neighbouring minors on the same branch.
func (x *Central) GetReleaseNote(major, minor string) (*ReleaseNote, error) {
	return x.docStore.GetReleaseNote(major, minor)
}
