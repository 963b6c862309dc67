package commhub

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

/*
dummyDocStore is an in-memory DocStore. The release note index, which the SQL
store derives with a view, is computed here in Go with the same rules, so
that the resolution logic can be tested without a database.
*/
type dummyDocStore struct {
	lock      sync.Mutex
	versions  map[Tree]*Version
	pages     map[Tree]map[string]*DocPage
	aliases   map[string]string // file1 <-> file2, stored in both directions
	redirects map[string]string
}

func newDummyDocStore() *dummyDocStore {
	return &dummyDocStore{
		versions:  make(map[Tree]*Version),
		pages:     make(map[Tree]map[string]*DocPage),
		aliases:   make(map[string]string),
		redirects: make(map[string]string),
	}
}

func (x *dummyDocStore) PutDocPage(page *DocPage) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if x.pages[page.Tree] == nil {
		x.pages[page.Tree] = make(map[string]*DocPage)
	}
	copy := *page
	x.pages[page.Tree][page.File] = &copy
	return nil
}

func (x *dummyDocStore) PutAlias(file1, file2 string) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.aliases[file1] = file2
	x.aliases[file2] = file1
	return nil
}

func (x *dummyDocStore) PutRedirect(file, redirectTo string) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.redirects[file] = redirectTo
	return nil
}

func (x *dummyDocStore) CurrentVersion() (*Version, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	for _, v := range x.versions {
		if v.Current {
			copy := *v
			return &copy, nil
		}
	}
	return nil, ErrVersionNotFound
}

func (x *dummyDocStore) GetVersion(tree Tree) (*Version, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	v := x.versions[tree]
	if v == nil {
		return nil, ErrVersionNotFound
	}
	copy := *v
	return &copy, nil
}

func (x *dummyDocStore) ListVersions() ([]Version, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	versions := []Version{}
	for _, v := range x.versions {
		versions = append(versions, *v)
	}
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].Supported != versions[j].Supported {
			return versions[i].Supported
		}
		return versions[i].Tree < versions[j].Tree
	})
	return versions, nil
}

func (x *dummyDocStore) TreeExists(tree Tree) (bool, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	return x.versions[tree] != nil, nil
}

func (x *dummyDocStore) SaveVersion(v *Version) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	if v.Current {
		for _, other := range x.versions {
			if other.Tree != v.Tree {
				other.Current = false
			}
		}
	}
	copy := *v
	x.versions[v.Tree] = &copy
	return nil
}

func (x *dummyDocStore) GetDocPage(tree Tree, file string) (*DocPage, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	page := x.pages[tree][file]
	if page == nil {
		return nil, NewError(ErrPageNotFound, fmt.Sprintf("%v in %v", file, tree))
	}
	copy := *page
	return &copy, nil
}

func (x *dummyDocStore) GetPageRedirect(file string) (string, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	return x.redirects[file], nil
}

func (x *dummyDocStore) PageVersions(file string) ([]PageVersion, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	names := map[string]bool{file: true}
	if other := x.aliases[file]; other != "" {
		names[other] = true
	}
	versions := []PageVersion{}
	for tree, pages := range x.pages {
		v := x.versions[tree]
		if v == nil {
			continue
		}
		for name := range names {
			if pages[name] != nil {
				versions = append(versions, PageVersion{Tree: tree, File: name, Supported: v.Supported, Current: v.Current})
				break
			}
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].Supported != versions[j].Supported {
			return versions[i].Supported
		}
		return versions[i].Tree < versions[j].Tree
	})
	return versions, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var relnoteFilenameRe = regexp.MustCompile(`^release-(\d+)(?:-(\d+))?(?:-(\d+))?\.html$`)

// parseRelnoteFilename splits a release note filename into its (major, minor)
// pair, using the three numbering eras. Returns ok=false for filenames that
// are not release notes.
func parseRelnoteFilename(file string) (major, minor string, ok bool) {
	m := relnoteFilenameRe.FindStringSubmatch(file)
	if m == nil {
		return "", "", false
	}
	c1, _ := strconv.Atoi(m[1])
	switch {
	case c1 >= 10:
		major = m[1]
		minor = "0"
		if m[2] != "" {
			minor = normalizeNumeric(m[2])
		}
	case c1 <= 1:
		major = m[1]
		minor = "0"
		if m[2] != "" {
			minor = "0." + m[2]
		}
	default:
		if m[2] == "" {
			return "", "", false
		}
		major = m[1] + "." + normalizeNumeric(m[2])
		minor = "0"
		if m[3] != "" {
			minor = normalizeNumeric(m[3])
		}
	}
	return major, minor, true
}

func normalizeNumeric(s string) string {
	n, _ := strconv.Atoi(s)
	return strconv.Itoa(n)
}

func numericLess(a, b string) bool {
	fa, _ := strconv.ParseFloat(a, 64)
	fb, _ := strconv.ParseFloat(b, 64)
	return fa < fb
}

// buildRelnoteIndex computes what the SQL relnotes view holds: one row per
// (major, minor), backed by the newest tree that carries the page. Only trees
// from 9.3 onward contribute, because older trees hold stale copies of the
// notes that newer trees rewrote.
// Assumes lock is held.
func (x *dummyDocStore) buildRelnoteIndex() []ReleaseNote {
	best := map[string]*ReleaseNote{}
	for tree, pages := range x.pages {
		if tree < 93 {
			continue
		}
		for file := range pages {
			major, minor, ok := parseRelnoteFilename(file)
			if !ok {
				continue
			}
			key := major + "|" + minor
			if prev := best[key]; prev == nil || tree > prev.Tree {
				best[key] = &ReleaseNote{Major: major, Minor: minor, Tree: tree, File: file}
			}
		}
	}
	notes := []ReleaseNote{}
	for _, note := range best {
		notes = append(notes, *note)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Major != notes[j].Major {
			return numericLess(notes[i].Major, notes[j].Major)
		}
		return numericLess(notes[i].Minor, notes[j].Minor)
	})
	return notes
}

func (x *dummyDocStore) ReleaseNoteMajors() ([]string, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	seen := map[string]bool{}
	majors := []string{}
	for _, note := range x.buildRelnoteIndex() {
		if !seen[note.Major] {
			seen[note.Major] = true
			majors = append(majors, note.Major)
		}
	}
	sort.Slice(majors, func(i, j int) bool { return numericLess(majors[j], majors[i]) })
	return majors, nil
}

func (x *dummyDocStore) ReleaseNotesForMajor(major string) ([]ReleaseNote, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	notes := x.windowedMajor(major)
	// Newest first for display
	for i, j := 0, len(notes)-1; i < j; i, j = i+1, j-1 {
		notes[i], notes[j] = notes[j], notes[i]
	}
	return notes, nil
}

// Assumes lock is held. Returns the major's releases oldest first, with
// PrevMinor/NextMinor chained.
func (x *dummyDocStore) windowedMajor(major string) []ReleaseNote {
	notes := []ReleaseNote{}
	for _, note := range x.buildRelnoteIndex() {
		if note.Major == major {
			notes = append(notes, note)
		}
	}
	for i := range notes {
		if i > 0 {
			notes[i].PrevMinor = notes[i-1].Minor
		}
		if i < len(notes)-1 {
			notes[i].NextMinor = notes[i+1].Minor
		}
	}
	return notes
}

func (x *dummyDocStore) GetReleaseNote(major, minor string) (*ReleaseNote, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	for _, note := range x.windowedMajor(major) {
		if note.Minor == minor {
			if page := x.pages[note.Tree][note.File]; page != nil {
				note.Content = page.Content
			}
			return &note, nil
		}
	}
	return nil, NewError(ErrPageNotFound, fmt.Sprintf("release notes %v.%v", major, minor))
}

func (x *dummyDocStore) Close() {
}
