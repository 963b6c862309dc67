package commhub

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BurntSushi/migration"
)

/*
Schema migrations.

The list of migrations may only ever be appended to. The BurntSushi/migration
package records the number of applied migrations in the migration_version
table, and runs the tail of the list that the database has not seen yet.
*/
func createMigrations() []migration.Migrator {
	var migrations []migration.Migrator

	text := []string{
		// 1. Accounts
		`CREATE TABLE account (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(30) NOT NULL,
			email VARCHAR(254) NOT NULL,
			firstname VARCHAR(100) NOT NULL,
			lastname VARCHAR(100) NOT NULL,
			password VARCHAR(256) NOT NULL,
			pwdtoken VARCHAR(70),
			internaluuid VARCHAR(36) NOT NULL,
			created TIMESTAMP NOT NULL DEFAULT now(),
			archived BOOLEAN NOT NULL DEFAULT false
		);
		CREATE UNIQUE INDEX idx_account_username ON account (LOWER(username));
		CREATE UNIQUE INDEX idx_account_email ON account (LOWER(email));`,

		// 2. Secondary emails
		`CREATE TABLE secondaryemail (
			id BIGSERIAL PRIMARY KEY,
			userid BIGINT NOT NULL REFERENCES account (id) ON DELETE CASCADE,
			email VARCHAR(254) NOT NULL,
			confirmed BOOLEAN NOT NULL DEFAULT false,
			token VARCHAR(100) NOT NULL DEFAULT ''
		);
		CREATE UNIQUE INDEX idx_secondaryemail_email ON secondaryemail (LOWER(email));`,

		// 3. Profiles
		`CREATE TABLE userprofile (
			userid BIGINT PRIMARY KEY REFERENCES account (id) ON DELETE CASCADE,
			sshkey TEXT NOT NULL DEFAULT '',
			blockoauth BOOLEAN NOT NULL DEFAULT false,
			lastmodified TIMESTAMP NOT NULL DEFAULT now()
		);`,

		// 4. Sessions
		`CREATE TABLE session (
			sessionkey VARCHAR(50) PRIMARY KEY,
			userid BIGINT NOT NULL,
			identity VARCHAR(254) NOT NULL,
			email VARCHAR(254) NOT NULL,
			username VARCHAR(30) NOT NULL,
			expires TIMESTAMP NOT NULL
		);
		CREATE INDEX idx_session_userid ON session (userid);
		CREATE INDEX idx_session_expires ON session (expires);`,

		// 5. Community auth organisations and sites
		`CREATE TABLE cauthorg (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			require_consent BOOLEAN NOT NULL DEFAULT false
		);
		CREATE TABLE cauthsite (
			id SERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			redirecturl VARCHAR(250) NOT NULL,
			cryptkey VARCHAR(100) NOT NULL,
			cooloff_hours INTEGER NOT NULL DEFAULT 0,
			orgid INTEGER NOT NULL REFERENCES cauthorg (id)
		);`,

		// 6. Per-organisation consent, and the per-site login log
		`CREATE TABLE cauthconsent (
			userid BIGINT NOT NULL REFERENCES account (id) ON DELETE CASCADE,
			orgid INTEGER NOT NULL REFERENCES cauthorg (id),
			granted TIMESTAMP NOT NULL DEFAULT now(),
			PRIMARY KEY (userid, orgid)
		);
		CREATE TABLE cauthlastlogin (
			userid BIGINT NOT NULL REFERENCES account (id) ON DELETE CASCADE,
			siteid INTEGER NOT NULL REFERENCES cauthsite (id),
			lastlogin TIMESTAMP NOT NULL DEFAULT now(),
			logincount INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (userid, siteid)
		);`,

		// 7. Documentation versions. 'tree' is the version number in tenths,
		// so 9.4 is 94, 10 is 100, and the development branch is 0.
		`CREATE TABLE docversion (
			tree INTEGER PRIMARY KEY,
			latestminor INTEGER NOT NULL DEFAULT 0,
			reldate DATE,
			firstreldate DATE,
			eoldate DATE,
			current BOOLEAN NOT NULL DEFAULT false,
			supported BOOLEAN NOT NULL DEFAULT false,
			testing INTEGER NOT NULL DEFAULT 0,
			docsloaded TIMESTAMP
		);`,

		// 8. Documentation pages, aliases, and permanent page redirects
		`CREATE TABLE docpage (
			id BIGSERIAL PRIMARY KEY,
			tree INTEGER NOT NULL REFERENCES docversion (tree),
			file VARCHAR(64) NOT NULL,
			title VARCHAR(256) NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			UNIQUE (tree, file)
		);
		CREATE TABLE docalias (
			id SERIAL PRIMARY KEY,
			file1 VARCHAR(64) NOT NULL UNIQUE,
			file2 VARCHAR(64) NOT NULL
		);
		CREATE TABLE docpageredirect (
			file VARCHAR(64) PRIMARY KEY,
			redirect_to VARCHAR(64) NOT NULL
		);`,

		// 9. Release notes, derived from the release-*.html pages. The version
		// number encoded in the filename is split into major and minor across
		// the three numbering eras. Duplicates across trees resolve to the
		// newest tree that carries the page.
		`CREATE VIEW relnotes AS
		SELECT DISTINCT ON (major, minor) major, minor, tree, file FROM (
			SELECT
				CASE
					WHEN split_part(ver, '-', 1)::int >= 10 THEN split_part(ver, '-', 1)::numeric
					WHEN split_part(ver, '-', 1)::int <= 1 THEN split_part(ver, '-', 1)::numeric
					ELSE (split_part(ver, '-', 1) || '.' || split_part(ver, '-', 2))::numeric
				END AS major,
				CASE
					WHEN split_part(ver, '-', 1)::int >= 10 THEN COALESCE(NULLIF(split_part(ver, '-', 2), ''), '0')::numeric
					WHEN split_part(ver, '-', 1)::int <= 1 THEN ('0.' || COALESCE(NULLIF(split_part(ver, '-', 2), ''), '0'))::numeric
					ELSE COALESCE(NULLIF(split_part(ver, '-', 3), ''), '0')::numeric
				END AS minor,
				tree, file
			FROM (
				SELECT substring(file FROM '^release-([0-9]+(-[0-9]+)*)\.html$') AS ver, tree, file
				FROM docpage
				WHERE file ~ '^release-[0-9]+(-[0-9]+)*\.html$' AND tree >= 93
			) AS parsed
			WHERE ver IS NOT NULL
		) AS split
		ORDER BY major, minor, tree DESC;`,
	}

	for _, src := range text {
		srcCapture := src
		migrations = append(migrations, func(tx migration.LimitedTx) error {
			_, err := tx.Exec(srcCapture)
			return err
		})
	}

	return migrations
}

// RunMigrations runs all pending migrations on the database.
func RunMigrations(conx *DBConnection) error {
	db, err := migration.Open(conx.Driver, conx.ConnectionString(), createMigrations())
	if err != nil {
		return err
	}
	db.Close()
	return nil
}

// SqlCreateDatabase creates the database itself (not the schema inside it).
func SqlCreateDatabase(conx *DBConnection) error {
	// Connect via the 'postgres' maintenance database
	copy := *conx
	copy.Database = "postgres"
	db, eConnect := copy.Connect()
	if eConnect != nil {
		return NewError(ErrConnect, eConnect.Error())
	}
	defer db.Close()
	if _, eExec := db.Exec("CREATE DATABASE \"" + sqlEscapeIdent(conx.Database) + "\""); eExec != nil {
		return eExec
	}
	return nil
}

func sqlEscapeIdent(ident string) string {
	return strings.Replace(ident, "\"", "", -1)
}

// SqlDeleteAllTables erases the entire schema. Used by the test suite.
func SqlDeleteAllTables(db *sql.DB) error {
	statements := []string{
		`DROP VIEW IF EXISTS relnotes`,
		`DROP TABLE IF EXISTS docpageredirect, docalias, docpage, docversion CASCADE`,
		`DROP TABLE IF EXISTS cauthlastlogin, cauthconsent, cauthsite, cauthorg CASCADE`,
		`DROP TABLE IF EXISTS session, userprofile, secondaryemail, account CASCADE`,
		`DROP TABLE IF EXISTS migration_version`,
	}
	for _, st := range statements {
		if _, err := db.Exec(st); err != nil {
			return fmt.Errorf("%v: %v", st, err)
		}
	}
	return nil
}
