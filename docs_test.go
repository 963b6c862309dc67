package commhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seedDocs(t *testing.T, c *Central) {
	versions := []Version{
		{Tree: TreeDevel},
		{Tree: 72},
		{Tree: 81},
		{Tree: 94, Supported: true, LatestMinor: 8},
		{Tree: 96, Supported: true, LatestMinor: 3},
		{Tree: 100, Supported: true, LatestMinor: 4},
		{Tree: 170, Supported: true, Current: true, LatestMinor: 2},
	}
	for i := range versions {
		if err := c.SaveVersion(&versions[i]); err != nil {
			t.Fatalf("SaveVersion %v failed: %v", versions[i].Tree, err)
		}
	}
	pages := []DocPage{
		{Tree: 170, File: "index.html", Content: "seventeen index"},
		{Tree: 170, File: "release-prior.html", Content: "older releases"},
		{Tree: 170, File: "release-17-2.html", Content: "17.2 notes"},
		{Tree: 96, File: "release-9-6-3.html", Content: "9.6.3 notes"},
		{Tree: 94, File: "index.html", Content: "nine four index"},
		{Tree: 94, File: "only-in-94.html", Content: "old feature"},
		{Tree: 96, File: "in-two.html", Content: "old copy"},
		{Tree: 170, File: "in-two.html", Content: "new copy"},
		{Tree: 170, File: "queries.html", Content: "about queries"},
		{Tree: 72, File: "queries.htm", Content: "about queries, old"},
		{Tree: TreeDevel, File: "release-19.html", Content: "19 devel notes"},
	}
	for i := range pages {
		if err := c.LoadDocPage(&pages[i]); err != nil {
			t.Fatalf("LoadDocPage %v failed: %v", pages[i].File, err)
		}
	}
}

func TestParseTree(t *testing.T) {
	cases := map[string]Tree{
		"devel": TreeDevel,
		"7.2":   72,
		"9.4":   94,
		"10":    100,
		"17":    170,
	}
	for in, want := range cases {
		got, ok := ParseTree(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0", "7", "9.44", "10.1", "abc", "-9.4", "9.x"} {
		_, ok := ParseTree(bad)
		assert.False(t, ok, bad)
	}
}

func TestTreeString(t *testing.T) {
	assert.Equal(t, "devel", TreeDevel.String())
	assert.Equal(t, "9.4", Tree(94).String())
	assert.Equal(t, "10", Tree(100).String())
	assert.Equal(t, "17", Tree(170).String())
}

func TestTreeFilenames(t *testing.T) {
	assert.Equal(t, ".htm", Tree(63).extension())
	assert.Equal(t, ".htm", Tree(70).extension())
	assert.Equal(t, ".html", Tree(71).extension())
	assert.Equal(t, ".html", Tree(170).extension())
	assert.Equal(t, ".html", TreeDevel.extension())

	assert.Equal(t, "postgres.htm", Tree(70).indexFilename())
	assert.Equal(t, "postgres.html", Tree(71).indexFilename())
	assert.Equal(t, "index.html", Tree(94).indexFilename())
	assert.Equal(t, "index.html", TreeDevel.indexFilename())

	assert.Equal(t, "book01.htm", Tree(63).rootFilename())
	assert.Equal(t, "postgres.htm", Tree(64).rootFilename())
	assert.Equal(t, "postgres.html", Tree(71).rootFilename())
	assert.Equal(t, "index.html", Tree(72).rootFilename())
	assert.Equal(t, "index.html", TreeDevel.rootFilename())
}

func TestVersionNumbers(t *testing.T) {
	assert.Equal(t, "9.4.8", (&Version{Tree: 94, LatestMinor: 8}).NumVersion())
	assert.Equal(t, "17.2", (&Version{Tree: 170, LatestMinor: 2}).NumVersion())
	assert.Equal(t, "devel", (&Version{Tree: TreeDevel}).NumVersion())

	assert.Equal(t, "release-17-2.html", (&Version{Tree: 170, LatestMinor: 2}).RelNotesFilename())
	assert.Equal(t, "release-17.html", (&Version{Tree: 170, LatestMinor: 0}).RelNotesFilename())
	assert.Equal(t, "release-9-6-3.html", (&Version{Tree: 96, LatestMinor: 3}).RelNotesFilename())
	assert.Equal(t, "release.html", (&Version{Tree: 71, LatestMinor: 1}).RelNotesFilename())
	assert.Equal(t, "release.htm", (&Version{Tree: 64, LatestMinor: 2}).RelNotesFilename())
	assert.Equal(t, "c2701.htm", (&Version{Tree: 63, LatestMinor: 2}).RelNotesFilename())
}

func TestDocPageDottedRedirect(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)
	result, err := c.ResolveDocPage("10.4", "whatever.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/10/whatever.html", result.Location)

	// The redirect also canonicalizes the extension
	result, err = c.ResolveDocPage("10.4", "whatever.htm")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/10/whatever.html", result.Location)

	// Pre-10 dotted versions are the real thing, not a redirect
	result, err = c.ResolveDocPage("9.4", "index.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
}

func TestDocPageCurrent(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)

	result, err := c.ResolveDocPage("current", "index.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	assert.Equal(t, "seventeen index", result.Page.Content)
	assert.Equal(t, "current", result.DisplayVersion)
	// Pages are keyed by the tree that serves them. The current spelling
	// carries an extra key so a release can purge every /current/ URL
	assert.Equal(t, []string{"pgdocs_17", "pgdocs_current"}, result.XKeys)

	result, err = c.ResolveDocPage("17", "index.html")
	assert.NoError(t, err)
	assert.Equal(t, []string{"pgdocs_17"}, result.XKeys)
	assert.Equal(t, "current", result.CanonicalVersion)
}

func TestDocPageIndexDefault(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)
	result, err := c.ResolveDocPage("9.4", "")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	assert.Equal(t, "nine four index", result.Page.Content)
}

func TestDocPageMovedAndMissing(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)
	assert.NoError(t, c.LoadDocRedirect("old.html", "new.html"))

	result, err := c.ResolveDocPage("9.4", "old.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/9.4/new.html", result.Location)

	result, err = c.ResolveDocPage("9.4", "nothing-here.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMissing, result.Outcome)
	assert.Equal(t, []string{"pgdocs_9.4"}, result.XKeys)

	_, err = c.ResolveDocPage("3.0", "index.html")
	assert.True(t, isPrefix(ErrVersionNotFound, err))

	// A literal 0 is a crawler artifact, not a version. It gets the shared
	// purge key so the 404 does not stick in the cache forever
	result, err = c.ResolveDocPage("0", "index.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMissing, result.Outcome)
	assert.Equal(t, []string{"pgdocs_all"}, result.XKeys)
}

func TestDocPageExtensionAgnostic(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)

	// Links spell the extension however they like; the page lives under the
	// extension its tree was published with
	result, err := c.ResolveDocPage("7.2", "queries.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	assert.Equal(t, "about queries, old", result.Page.Content)

	result, err = c.ResolveDocPage("17", "queries.htm")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	assert.Equal(t, "about queries", result.Page.Content)
}

func TestRelnotesOwnerRedirect(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)

	// Notes of 9.6.3 read from the 17 tree go to the 9.6 tree
	result, err := c.ResolveDocPage("17", "release-9-6-3.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/9.6/release-9-6-3.html", result.Location)

	// In their own tree they just render
	result, err = c.ResolveDocPage("9.6", "release-9-6-3.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)

	// Anything older than 7.2 belongs to the 7.2 tree
	result, err = c.ResolveDocPage("17", "release-6-4.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/7.2/release-6-4.html", result.Location)

	// The per-tree appendix index is not a release note
	result, err = c.ResolveDocPage("17", "release-prior.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)

	// Released trees redirect even when the owner has never been loaded;
	// the destination answers for itself
	result, err = c.ResolveDocPage("17", "release-8-0-3.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/8.0/release-8-0-3.html", result.Location)

	// A release-ish name that does not encode a version is a plain 404
	result, err = c.ResolveDocPage("17", "release-notes.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMissing, result.Outcome)

	// Trees that predate the redirect behavior serve whatever they hold
	result, err = c.ResolveDocPage("8.1", "release-7-4.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMissing, result.Outcome)
}

func TestRelnotesDevelUntilBranched(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)

	// 19 has not branched, so its notes still render under devel
	result, err := c.ResolveDocPage("devel", "release-19.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	assert.Equal(t, "19 devel notes", result.Page.Content)

	// Once 19 branches, devel hands the notes over
	assert.NoError(t, c.SaveVersion(&Version{Tree: 190, Testing: 1}))
	result, err = c.ResolveDocPage("devel", "release-19.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageMoved, result.Outcome)
	assert.Equal(t, "/docs/19/release-19.html", result.Location)
}

func TestDocPageSidebarAndCanonical(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)

	// A page carried by the current tree is canonical under "current"
	result, err := c.ResolveDocPage("9.6", "in-two.html")
	assert.NoError(t, err)
	assert.Equal(t, "current", result.CanonicalVersion)
	assert.Equal(t, 2, len(result.Sidebar))

	// A page only in old trees is canonical under its newest tree
	result, err = c.ResolveDocPage("9.4", "only-in-94.html")
	assert.NoError(t, err)
	assert.Equal(t, "9.4", result.CanonicalVersion)
	assert.Equal(t, 1, len(result.Sidebar))
}

func TestDocPageAlias(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)
	assert.NoError(t, c.LoadDocAlias("queries.html", "queries.htm"))

	result, err := c.ResolveDocPage("17", "queries.html")
	assert.NoError(t, err)
	assert.Equal(t, DocPageOK, result.Outcome)
	// The alias pulls the renamed copy in the 7.2 tree into the sidebar
	assert.Equal(t, 2, len(result.Sidebar))
	trees := map[Tree]string{}
	for _, pv := range result.Sidebar {
		trees[pv.Tree] = pv.File
	}
	assert.Equal(t, "queries.htm", trees[72])
	assert.Equal(t, "queries.html", trees[170])
}

func TestOnlyOneCurrentVersion(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedDocs(t, c)
	assert.NoError(t, c.SaveVersion(&Version{Tree: 180, Supported: true, Current: true}))
	versions, err := c.ListVersions()
	assert.NoError(t, err)
	currents := 0
	for i := range versions {
		if versions[i].Current {
			currents++
			assert.Equal(t, Tree(180), versions[i].Tree)
		}
	}
	assert.Equal(t, 1, currents)
	cur, err := c.CurrentVersion()
	assert.NoError(t, err)
	assert.Equal(t, Tree(180), cur.Tree)
}
