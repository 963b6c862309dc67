package commhub

import (
	"database/sql"
	"fmt"
)

type sqlDocStoreDB struct {
	db *sql.DB
}

const selectVersion = `SELECT tree, latestminor, COALESCE(reldate, 'epoch'::date), COALESCE(firstreldate, 'epoch'::date), COALESCE(eoldate, 'epoch'::date), ` +
	`current, supported, testing, COALESCE(docsloaded, 'epoch'::timestamp) FROM docversion`

func (x *sqlDocStoreDB) scanVersion(row interface{ Scan(...interface{}) error }) (*Version, error) {
	v := &Version{}
	err := row.Scan(&v.Tree, &v.LatestMinor, &v.RelDate, &v.FirstRelDate, &v.EOLDate, &v.Current, &v.Supported, &v.Testing, &v.DocsLoaded)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	} else if err != nil {
		return nil, err
	}
	return v, nil
}

func (x *sqlDocStoreDB) CurrentVersion() (*Version, error) {
	return x.scanVersion(x.db.QueryRow(selectVersion + ` WHERE current = true`))
}

func (x *sqlDocStoreDB) GetVersion(tree Tree) (*Version, error) {
	return x.scanVersion(x.db.QueryRow(selectVersion+` WHERE tree = $1`, tree))
}

func (x *sqlDocStoreDB) ListVersions() ([]Version, error) {
	rows, err := x.db.Query(selectVersion + ` ORDER BY supported DESC, tree ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	versions := []Version{}
	for rows.Next() {
		v, err := x.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (x *sqlDocStoreDB) TreeExists(tree Tree) (bool, error) {
	var n int
	err := x.db.QueryRow(`SELECT count(*) FROM docversion WHERE tree = $1`, tree).Scan(&n)
	return n != 0, err
}

func (x *sqlDocStoreDB) SaveVersion(v *Version) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if v.Current {
		if _, err := tx.Exec(`UPDATE docversion SET current = false WHERE tree <> $1`, v.Tree); err != nil {
			return err
		}
	}
	_, err = tx.Exec(
		`INSERT INTO docversion (tree, latestminor, reldate, firstreldate, eoldate, current, supported, testing, docsloaded) `+
			`VALUES ($1, $2, NULLIF($3, 'epoch'::timestamp), NULLIF($4, 'epoch'::timestamp), NULLIF($5, 'epoch'::timestamp), $6, $7, $8, NULLIF($9, 'epoch'::timestamp)) `+
			`ON CONFLICT (tree) DO UPDATE SET latestminor = $2, reldate = NULLIF($3, 'epoch'::timestamp), firstreldate = NULLIF($4, 'epoch'::timestamp), `+
			`eoldate = NULLIF($5, 'epoch'::timestamp), current = $6, supported = $7, testing = $8, docsloaded = NULLIF($9, 'epoch'::timestamp)`,
		v.Tree, v.LatestMinor, v.RelDate, v.FirstRelDate, v.EOLDate, v.Current, v.Supported, v.Testing, v.DocsLoaded)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (x *sqlDocStoreDB) GetDocPage(tree Tree, file string) (*DocPage, error) {
	page := &DocPage{}
	err := x.db.QueryRow(`SELECT tree, file, title, content FROM docpage WHERE tree = $1 AND file = $2`, tree, file).
		Scan(&page.Tree, &page.File, &page.Title, &page.Content)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrPageNotFound, fmt.Sprintf("%v in %v", file, tree))
	} else if err != nil {
		return nil, err
	}
	return page, nil
}

func (x *sqlDocStoreDB) PutDocPage(page *DocPage) error {
	_, err := x.db.Exec(
		`INSERT INTO docpage (tree, file, title, content) VALUES ($1, $2, $3, $4) `+
			`ON CONFLICT (tree, file) DO UPDATE SET title = $3, content = $4`,
		page.Tree, page.File, page.Title, page.Content)
	return err
}

func (x *sqlDocStoreDB) PutAlias(file1, file2 string) error {
	_, err := x.db.Exec(
		`INSERT INTO docalias (file1, file2) VALUES ($1, $2) ON CONFLICT (file1) DO UPDATE SET file2 = $2`,
		file1, file2)
	return err
}

func (x *sqlDocStoreDB) PutRedirect(file, redirectTo string) error {
	_, err := x.db.Exec(
		`INSERT INTO docpageredirect (file, redirect_to) VALUES ($1, $2) ON CONFLICT (file) DO UPDATE SET redirect_to = $2`,
		file, redirectTo)
	return err
}

func (x *sqlDocStoreDB) GetPageRedirect(file string) (string, error) {
	var redirect string
	err := x.db.QueryRow(`SELECT redirect_to FROM docpageredirect WHERE file = $1`, file).Scan(&redirect)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return redirect, err
}

func (x *sqlDocStoreDB) PageVersions(file string) ([]PageVersion, error) {
	// A page may live under a different filename in other trees; the alias
	// table links those filenames in both directions
	rows, err := x.db.Query(
		`SELECT p.tree, p.file, v.supported, v.current FROM docpage p INNER JOIN docversion v ON v.tree = p.tree `+
			`WHERE p.file = $1 `+
			`OR p.file IN (SELECT file2 FROM docalias WHERE file1 = $1) `+
			`OR p.file IN (SELECT file1 FROM docalias WHERE file2 = $1) `+
			`ORDER BY v.supported DESC, p.tree ASC`, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	versions := []PageVersion{}
	for rows.Next() {
		var pv PageVersion
		if err := rows.Scan(&pv.Tree, &pv.File, &pv.Supported, &pv.Current); err != nil {
			return nil, err
		}
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}

func (x *sqlDocStoreDB) ReleaseNoteMajors() ([]string, error) {
	rows, err := x.db.Query(`SELECT major::text FROM relnotes GROUP BY major ORDER BY major DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	majors := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		majors = append(majors, m)
	}
	return majors, rows.Err()
}

// Window query over one major's releases. lag is the previous (smaller)
// minor, lead the next one. minor_n stays numeric for ordering and exact
// matches; the text forms are what callers render.
const selectRelnotesWindow = `SELECT major::text AS major_t, minor::text AS minor_t, minor AS minor_n, tree, file, ` +
	`lag(minor::text) OVER w AS prev_minor, lead(minor::text) OVER w AS next_minor ` +
	`FROM relnotes WHERE major = $1::numeric WINDOW w AS (ORDER BY minor)`

const selectRelnotesFields = `SELECT major_t, minor_t, tree, file, prev_minor, next_minor FROM (` + selectRelnotesWindow + `) w`

func (x *sqlDocStoreDB) ReleaseNotesForMajor(major string) ([]ReleaseNote, error) {
	rows, err := x.db.Query(selectRelnotesFields+` ORDER BY minor_n DESC`, major)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	notes := []ReleaseNote{}
	for rows.Next() {
		note, err := scanReleaseNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

func (x *sqlDocStoreDB) GetReleaseNote(major, minor string) (*ReleaseNote, error) {
	rows, err := x.db.Query(selectRelnotesFields+` WHERE minor_n = $2::numeric`, major, minor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, NewError(ErrPageNotFound, fmt.Sprintf("release notes %v.%v", major, minor))
	}
	note, err := scanReleaseNote(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	page, err := x.GetDocPage(note.Tree, note.File)
	if err != nil {
		return nil, err
	}
	note.Content = page.Content
	return note, nil
}

func scanReleaseNote(rows *sql.Rows) (*ReleaseNote, error) {
	note := &ReleaseNote{}
	var prev, next sql.NullString
	if err := rows.Scan(&note.Major, &note.Minor, &note.Tree, &note.File, &prev, &next); err != nil {
		return nil, err
	}
	note.PrevMinor = prev.String
	note.NextMinor = next.String
	return note, nil
}

func (x *sqlDocStoreDB) Close() {
	x.db = nil
}
