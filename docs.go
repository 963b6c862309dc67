package commhub

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

/*
Documentation version trees.

A Tree is a documentation branch number stored in tenths, so that the pre-10
two-component numbering and the modern single-component numbering share one
integer ordering: 6.4 is 64, 9.4 is 94, 10 is 100, 17 is 170. The in-development
branch is 0, which sorts before everything else and never wins a "newest tree"
comparison.
*/
type Tree int

const TreeDevel Tree = 0

// ParseTree parses a version string from a URL into a Tree.
// "devel" parses to TreeDevel. A major of 10 or above must be written
// without a dot; callers handle the dotted form as a redirect before
// parsing.
func ParseTree(s string) (Tree, bool) {
	if s == "devel" {
		return TreeDevel, true
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	major, err := strconv.Atoi(whole)
	if err != nil || major <= 0 {
		return 0, false
	}
	if !hasDot {
		if major < 10 {
			return 0, false
		}
		return Tree(major * 10), true
	}
	if major >= 10 || len(frac) != 1 {
		return 0, false
	}
	minor, err := strconv.Atoi(frac)
	if err != nil {
		return 0, false
	}
	return Tree(major*10 + minor), true
}

func (t Tree) IsDevel() bool {
	return t == TreeDevel
}

func (t Tree) String() string {
	if t == TreeDevel {
		return "devel"
	}
	if t >= 100 {
		return strconv.Itoa(int(t) / 10)
	}
	return fmt.Sprintf("%v.%v", int(t)/10, int(t)%10)
}

// extension is the file extension of doc pages in this tree. The very old
// trees were published as .htm.
func (t Tree) extension() string {
	if t > TreeDevel && t < 71 {
		return ".htm"
	}
	return ".html"
}

// indexFilename is the page that a bare /docs/<version>/ resolves to.
func (t Tree) indexFilename() string {
	switch {
	case t > TreeDevel && t < 71:
		return "postgres.htm"
	case t == 71:
		return "postgres.html"
	default:
		return "index.html"
	}
}

// rootFilename is the page that the documentation index of this tree links to.
func (t Tree) rootFilename() string {
	switch {
	case t > TreeDevel && t < 64:
		return "book01.htm"
	case t > TreeDevel && t < 70:
		return "postgres.htm"
	case t > TreeDevel && t < 72:
		return "postgres.html"
	default:
		return "index.html"
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Version is one released (or in-development) branch of the software.
type Version struct {
	Tree         Tree
	LatestMinor  int
	RelDate      time.Time
	FirstRelDate time.Time
	EOLDate      time.Time
	Current      bool
	Supported    bool
	Testing      int
	DocsLoaded   time.Time
}

// NumVersion is the full version number of the latest release on this branch,
// such as "9.4.8" or "17.2".
func (v *Version) NumVersion() string {
	if v.Tree.IsDevel() {
		return "devel"
	}
	return fmt.Sprintf("%v.%v", v.Tree, v.LatestMinor)
}

// RelNotesFilename is the doc page holding the release notes of the latest
// release on this branch. The naming convention changed several times over
// the years.
func (v *Version) RelNotesFilename() string {
	switch {
	case v.Tree >= 100:
		if v.LatestMinor == 0 {
			return fmt.Sprintf("release-%v.html", int(v.Tree)/10)
		}
		return fmt.Sprintf("release-%v-%v.html", int(v.Tree)/10, v.LatestMinor)
	case v.Tree >= 82:
		return fmt.Sprintf("release-%v-%v-%v.html", int(v.Tree)/10, int(v.Tree)%10, v.LatestMinor)
	case v.Tree >= 71:
		return "release.html"
	case v.Tree >= 64:
		return "release.htm"
	default:
		return "c2701.htm"
	}
}

// PDFFileSize returns the size of the published PDF rendering of this
// branch's documentation, or 0 if none exists. 'paper' is "A4" or "US".
func (v *Version) PDFFileSize(staticCheckout, paper string) int64 {
	path := fmt.Sprintf("%s/documentation/pdf/%s/postgresql-%s-%s.pdf", staticCheckout, v.Tree, v.Tree, paper)
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// DocPage is one page of the documentation of one tree.
type DocPage struct {
	Tree    Tree
	File    string
	Title   string
	Content string
}

// PageVersion says that a tree carries this page, possibly under a different
// filename. Used for the version switcher on every doc page.
type PageVersion struct {
	Tree      Tree
	File      string
	Supported bool
	Current   bool
}

// ReleaseNote is one release's notes, located by the major/minor split that
// the filename encodes.
type ReleaseNote struct {
	Major     string
	Minor     string
	Tree      Tree
	File      string
	Content   string
	PrevMinor string
	NextMinor string
}

// DocStore is the database that stores documentation versions, pages, and
// the derived release note index.
type DocStore interface {
	// CurrentVersion returns ErrVersionNotFound if no version is marked current
	CurrentVersion() (*Version, error)
	GetVersion(tree Tree) (*Version, error)
	// ListVersions returns all versions, supported branches first, each group
	// ordered oldest to newest
	ListVersions() ([]Version, error)
	TreeExists(tree Tree) (bool, error)
	// SaveVersion upserts the version. Marking a version current unmarks
	// every other version.
	SaveVersion(v *Version) error

	GetDocPage(tree Tree, file string) (*DocPage, error)
	// PutDocPage upserts a page. Used by the documentation loader.
	PutDocPage(page *DocPage) error
	// PutAlias links two filenames that mean the same page in different trees
	PutAlias(file1, file2 string) error
	// PutRedirect records that 'file' permanently moved to 'redirectTo'
	PutRedirect(file, redirectTo string) error
	// GetPageRedirect returns the filename this obsolete filename moved to,
	// or "" if there is no redirect
	GetPageRedirect(file string) (string, error)
	// PageVersions returns every tree that carries this page or an alias of it
	PageVersions(file string) ([]PageVersion, error)

	// ReleaseNoteMajors returns the distinct major versions that have release
	// notes, newest first
	ReleaseNoteMajors() ([]string, error)
	// ReleaseNotesForMajor returns the releases of one major, newest first,
	// without content
	ReleaseNotesForMajor(major string) ([]ReleaseNote, error)
	// GetReleaseNote returns one release's notes with content and the
	// neighbouring minors filled in, or ErrPageNotFound
	GetReleaseNote(major, minor string) (*ReleaseNote, error)

	Close()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type DocPageOutcome int

const (
	DocPageOK DocPageOutcome = iota
	DocPageMoved
	DocPageMissing
)

// DocPageResult is the outcome of resolving a documentation URL.
type DocPageResult struct {
	Outcome DocPageOutcome
	// Location of the page when Outcome is DocPageMoved. All doc moves are permanent.
	Location string
	Page     *DocPage
	Version  *Version
	// DisplayVersion is the version segment to render in links: "current",
	// "devel", or the numeric form
	DisplayVersion string
	// CanonicalVersion is the version segment of the page's canonical URL
	CanonicalVersion string
	// XKeys are the surrogate cache keys of the response, so that loading a
	// new documentation build can purge exactly the affected pages
	XKeys []string
	// Sidebar lists the other trees carrying this page
	Sidebar []PageVersion
}

var relnotesOwnerRe = regexp.MustCompile(`^release-((\d+)(-\d+)?)(-\d+)?\.html$`)

// stripDocExtension drops a trailing .html or .htm so that the tree's own
// extension can be appended.
func stripDocExtension(filename string) string {
	return strings.TrimSuffix(strings.TrimSuffix(filename, ".html"), ".htm")
}

// ResolveDocPage resolves a /docs/<version>/<filename> URL to a page, a
// permanent redirect, or a versioned not-found.
func (x *Central) ResolveDocPage(versionSeg, filename string) (*DocPageResult, error) {
	display := versionSeg
	var version *Version
	switch {
	case versionSeg == "current":
		cur, err := x.docStore.CurrentVersion()
		if err != nil {
			return nil, err
		}
		version = cur
	case versionSeg == "devel":
		dev, err := x.docStore.GetVersion(TreeDevel)
		if err != nil {
			return nil, err
		}
		version = dev
	default:
		// Version 0 shows up in old crawler links. There is no such tree and
		// never will be, so the not-found is keyed for the whole site.
		if versionSeg == "0" {
			return &DocPageResult{
				Outcome:        DocPageMissing,
				DisplayVersion: versionSeg,
				XKeys:          []string{"pgdocs_all"},
			}, nil
		}
		// A dotted major of 10 or above gets one permanent redirect to the
		// dotless form, so there is exactly one URL per page
		if whole, _, hasDot := strings.Cut(versionSeg, "."); hasDot {
			if major, err := strconv.Atoi(whole); err == nil && major >= 10 {
				loc := fmt.Sprintf("/docs/%v/", major)
				if filename != "" {
					loc += stripDocExtension(filename) + ".html"
				}
				return &DocPageResult{Outcome: DocPageMoved, Location: loc}, nil
			}
		}
		tree, ok := ParseTree(versionSeg)
		if !ok {
			return nil, ErrVersionNotFound
		}
		ver, err := x.docStore.GetVersion(tree)
		if err != nil {
			return nil, err
		}
		version = ver
		display = tree.String()
	}

	// The URL is extension-agnostic: whatever the link says, the page is
	// stored under the extension its tree was published with
	if filename == "" {
		filename = version.Tree.indexFilename()
	} else {
		filename = stripDocExtension(filename) + version.Tree.extension()
	}

	result := &DocPageResult{
		Version:        version,
		DisplayVersion: display,
		XKeys:          []string{"pgdocs_" + version.Tree.String()},
	}
	if display == "current" {
		result.XKeys = append(result.XKeys, "pgdocs_current")
	}

	// Release notes live in the tree of the release they describe, and old
	// trees keep the notes of everything before them. Send the reader to the
	// owning tree, so that the notes of 9.6.3 are read under /docs/9.6/ even
	// when reached from a newer tree's appendix. The "release-prior" pages
	// are the per-tree appendix indexes and stay where they are.
	if (version.Tree >= 94 || version.Tree.IsDevel()) &&
		strings.HasPrefix(filename, "release-") && !strings.HasPrefix(filename, "release-prior") {
		loc, parsed, err := x.relnotesOwnerRedirect(version.Tree, versionSeg, filename)
		if err != nil {
			return nil, err
		}
		if !parsed {
			result.Outcome = DocPageMissing
			return result, nil
		}
		if loc != "" {
			result.Outcome = DocPageMoved
			result.Location = loc
			return result, nil
		}
	}

	page, err := x.docStore.GetDocPage(version.Tree, filename)
	if err != nil && !strings.HasPrefix(err.Error(), ErrPageNotFound.Error()) {
		return nil, err
	}

	if page == nil {
		// A page that moved within its tree gets a permanent redirect to the
		// new filename; everything else is a not-found rendered inside the
		// requested version's docs, with that version's cache keys
		redirect, err := x.docStore.GetPageRedirect(filename)
		if err != nil {
			return nil, err
		}
		if redirect != "" {
			result.Outcome = DocPageMoved
			result.Location = fmt.Sprintf("/docs/%v/%v", display, redirect)
			return result, nil
		}
		result.Outcome = DocPageMissing
		return result, nil
	}

	result.Outcome = DocPageOK
	result.Page = page

	sidebar, err := x.docStore.PageVersions(filename)
	if err != nil {
		return nil, err
	}
	result.Sidebar = sidebar
	result.CanonicalVersion = canonicalVersion(sidebar)
	return result, nil
}

// SubmitDocComment forwards a reader's correction to the documentation
// mailing list. Requiring a logged-in sender keeps the reply address real.
func (x *Central) SubmitDocComment(user *AuthUser, version, page, shortDesc, details string) error {
	body := fmt.Sprintf("Page: /docs/%v/%v\nFrom: %v <%v>\n\n%v", version, page, user.Username, user.Email, details)
	return x.Mailer.Send(x.MailFrom, x.DocsCommentsTo, shortDesc, body)
}

// DocSVG loads an illustration page from a documentation tree. The trees
// before 12 were built without figures, so those always miss.
func (x *Central) DocSVG(versionSeg, filename string) (*DocPage, error) {
	var version *Version
	var err error
	switch versionSeg {
	case "current":
		version, err = x.docStore.CurrentVersion()
	case "devel":
		version, err = x.docStore.GetVersion(TreeDevel)
	default:
		tree, ok := ParseTree(versionSeg)
		if !ok {
			return nil, ErrVersionNotFound
		}
		version, err = x.docStore.GetVersion(tree)
	}
	if err != nil {
		return nil, err
	}
	if !version.Tree.IsDevel() && version.Tree < 120 {
		return nil, NewError(ErrPageNotFound, filename)
	}
	return x.docStore.GetDocPage(version.Tree, filename)
}

// relnotesOwnerRedirect returns the redirect location if 'filename' is a
// release notes page owned by a different tree, "" if this tree serves it
// itself. parsed is false when the filename does not encode a release at all.
func (x *Central) relnotesOwnerRedirect(tree Tree, versionSeg, filename string) (loc string, parsed bool, err error) {
	m := relnotesOwnerRe.FindStringSubmatch(filename)
	if m == nil {
		return "", false, nil
	}
	// m[1] is the full dashed version, m[2] its first component
	first, _ := strconv.Atoi(m[2])
	var owner string
	if first >= 10 {
		owner = m[2]
	} else {
		owner = strings.Replace(m[1], "-", ".", -1)
	}
	ownerFloat, err := strconv.ParseFloat(owner, 64)
	if err != nil {
		return "", false, nil
	}
	// Nothing older than 7.2 is hosted as a tree of its own
	if ownerFloat < 7.2 {
		owner = "7.2"
	}
	ownerTree, ok := ParseTree(owner)
	if !ok {
		return "", false, nil
	}
	if ownerTree == tree {
		return "", true, nil
	}
	// The owning branch may not have branched off yet, in which case the
	// development docs keep serving its notes. Released trees redirect
	// unconditionally.
	if tree.IsDevel() {
		exists, err := x.docStore.TreeExists(ownerTree)
		if err != nil {
			return "", true, err
		}
		if !exists {
			return "", true, nil
		}
	}
	if versionSeg == ownerTree.String() {
		return "", true, nil
	}
	return fmt.Sprintf("/docs/%v/%v", ownerTree, filename), true, nil
}

// canonicalVersion picks the version segment of a page's canonical URL:
// "current" if the current tree carries the page, else the newest released
// tree that does.
func canonicalVersion(sidebar []PageVersion) string {
	best := Tree(-1)
	for _, pv := range sidebar {
		if pv.Current {
			return "current"
		}
		if pv.Tree > best {
			best = pv.Tree
		}
	}
	if best <= TreeDevel {
		return ""
	}
	return best.String()
}

// ListVersions returns all documentation versions for the version listing
// and the sidebar.
func (x *Central) ListVersions() ([]Version, error) {
	return x.docStore.ListVersions()
}

// CurrentVersion returns the version marked current.
func (x *Central) CurrentVersion() (*Version, error) {
	return x.docStore.CurrentVersion()
}

// SaveVersion upserts a version.
func (x *Central) SaveVersion(v *Version) error {
	return x.docStore.SaveVersion(v)
}

// LoadDocPage upserts one page of a documentation build.
func (x *Central) LoadDocPage(page *DocPage) error {
	return x.docStore.PutDocPage(page)
}

// LoadDocAlias links two filenames that mean the same page in different trees.
func (x *Central) LoadDocAlias(file1, file2 string) error {
	return x.docStore.PutAlias(file1, file2)
}

// LoadDocRedirect records a permanently moved filename.
func (x *Central) LoadDocRedirect(file, redirectTo string) error {
	return x.docStore.PutRedirect(file, redirectTo)
}
