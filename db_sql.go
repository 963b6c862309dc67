package commhub

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	// Register lib/pq with database/sql
	_ "github.com/lib/pq"
	"golang.org/x/crypto/scrypt"
)

/*
Hash encodings:

	BASE64 is defined by RFC 4648

	VERSION 1:
		N     scrypt 256
		r     scrypt 8
		p     scrypt 1
		BASE64(1 byte version, 32 byte salt, 32 byte scrypt)
*/

const (
	hashLengthV1 = 65
	scryptN_V1   = 256
)

func computePasswordHash(password string, salt []byte) ([]byte, error) {
	block := make([]byte, hashLengthV1)
	block[0] = 1
	copy(block[1:33], salt)
	hash, err := scrypt.Key([]byte(password), salt, scryptN_V1, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	copy(block[33:], hash)
	return block, nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	block, err := computePasswordHash(password, salt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(block), nil
}

func verifyPasswordHash(password, hash string) bool {
	block, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(block) != hashLengthV1 || block[0] != 1 {
		return false
	}
	candidate, err := computePasswordHash(password, block[1:33])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(block, candidate) == 1
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlUserStoreDB struct {
	db *sql.DB
}

func (x *sqlUserStoreDB) Authenticate(identity, password string) (UserId, error) {
	row := x.db.QueryRow(`SELECT id, password FROM account WHERE (LOWER(email) = $1 OR LOWER(username) = $1) AND archived = false`, identity)
	var userId UserId
	var hash string
	if err := row.Scan(&userId, &hash); err != nil {
		if err == sql.ErrNoRows {
			return NullUserId, ErrIdentityAuthNotFound
		}
		return NullUserId, err
	}
	if hash == oauthNoPasswordSentinel {
		return NullUserId, ErrOAuthAccountNoPassword
	}
	if !verifyPasswordHash(password, hash) {
		return NullUserId, ErrInvalidPassword
	}
	return userId, nil
}

func (x *sqlUserStoreDB) SetPassword(userId UserId, password string) error {
	if err := x.refuseOAuthOnly(userId); err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return x.execOneRow(`UPDATE account SET password = $1, pwdtoken = NULL WHERE id = $2 AND archived = false`, hash, userId)
}

func (x *sqlUserStoreDB) ResetPasswordStart(userId UserId, expires time.Time) (string, error) {
	if err := x.refuseOAuthOnly(userId); err != nil {
		return "", err
	}
	token := generatePasswordResetToken(expires)
	if err := x.execOneRow(`UPDATE account SET pwdtoken = $1 WHERE id = $2 AND archived = false`, token, userId); err != nil {
		return "", err
	}
	return token, nil
}

func (x *sqlUserStoreDB) ResetPasswordFinish(userId UserId, token string, password string) error {
	var truth sql.NullString
	if err := x.db.QueryRow(`SELECT pwdtoken FROM account WHERE id = $1 AND archived = false`, userId).Scan(&truth); err != nil {
		if err == sql.ErrNoRows {
			return ErrIdentityAuthNotFound
		}
		return err
	}
	if !truth.Valid {
		return ErrInvalidPasswordToken
	}
	if err := verifyPasswordResetToken(token, truth.String); err != nil {
		return err
	}
	return x.SetPassword(userId, password)
}

func (x *sqlUserStoreDB) refuseOAuthOnly(userId UserId) error {
	var hash string
	if err := x.db.QueryRow(`SELECT password FROM account WHERE id = $1`, userId).Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return ErrIdentityAuthNotFound
		}
		return err
	}
	if hash == oauthNoPasswordSentinel {
		return ErrOAuthAccountNoPassword
	}
	return nil
}

func (x *sqlUserStoreDB) CreateIdentity(user *AuthUser, password string) (UserId, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return NullUserId, err
	}
	return x.insertAccount(user, hash)
}

func (x *sqlUserStoreDB) CreateOAuthIdentity(user *AuthUser) (UserId, error) {
	return x.insertAccount(user, oauthNoPasswordSentinel)
}

func (x *sqlUserStoreDB) insertAccount(user *AuthUser, passwordField string) (UserId, error) {
	if exists, err := x.identityTaken(user.Username, user.Email); err != nil {
		return NullUserId, err
	} else if exists {
		return NullUserId, ErrIdentityExists
	}
	if user.InternalUUID == "" {
		user.InternalUUID = uuid.New().String()
	}
	var userId UserId
	err := x.db.QueryRow(
		`INSERT INTO account (username, email, firstname, lastname, password, internaluuid, created, archived) `+
			`VALUES ($1, $2, $3, $4, $5, $6, now(), false) RETURNING id`,
		user.Username, user.Email, user.Firstname, user.Lastname, passwordField, user.InternalUUID).Scan(&userId)
	if err != nil {
		return NullUserId, err
	}
	user.UserId = userId
	return userId, nil
}

func (x *sqlUserStoreDB) identityTaken(username, email string) (bool, error) {
	var n int
	err := x.db.QueryRow(`SELECT count(*) FROM account WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2)`, username, email).Scan(&n)
	return n != 0, err
}

func (x *sqlUserStoreDB) UpdateIdentity(user *AuthUser) error {
	return x.execOneRow(`UPDATE account SET username = $1, email = $2, firstname = $3, lastname = $4 WHERE id = $5 AND archived = false`,
		user.Username, user.Email, user.Firstname, user.Lastname, user.UserId)
}

func (x *sqlUserStoreDB) ArchiveIdentity(userId UserId) error {
	return x.execOneRow(`UPDATE account SET archived = true WHERE id = $1`, userId)
}

func (x *sqlUserStoreDB) GetUserFromIdentity(identity string) (*AuthUser, error) {
	return x.scanUser(x.db.QueryRow(selectUser+` WHERE (LOWER(email) = $1 OR LOWER(username) = $1) AND archived = false`, identity))
}

func (x *sqlUserStoreDB) GetUserFromUserId(userId UserId) (*AuthUser, error) {
	return x.scanUser(x.db.QueryRow(selectUser+` WHERE id = $1 AND archived = false`, userId))
}

const selectUser = `SELECT id, username, email, firstname, lastname, password, internaluuid, created, archived FROM account`

func (x *sqlUserStoreDB) scanUser(row *sql.Row) (*AuthUser, error) {
	user := &AuthUser{}
	var hash string
	err := row.Scan(&user.UserId, &user.Username, &user.Email, &user.Firstname, &user.Lastname, &hash, &user.InternalUUID, &user.Created, &user.Archived)
	if err == sql.ErrNoRows {
		return nil, ErrIdentityAuthNotFound
	} else if err != nil {
		return nil, err
	}
	user.OAuthOnly = hash == oauthNoPasswordSentinel
	return user, nil
}

func (x *sqlUserStoreDB) UsernameExists(username string) (bool, error) {
	var n int
	err := x.db.QueryRow(`SELECT count(*) FROM account WHERE LOWER(username) = LOWER($1)`, username).Scan(&n)
	return n != 0, err
}

func (x *sqlUserStoreDB) GetSecondaryEmails(userId UserId) ([]SecondaryEmail, error) {
	rows, err := x.db.Query(`SELECT id, userid, email, confirmed, token FROM secondaryemail WHERE userid = $1 ORDER BY email`, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	emails := []SecondaryEmail{}
	for rows.Next() {
		var se SecondaryEmail
		if err := rows.Scan(&se.Id, &se.UserId, &se.Email, &se.Confirmed, &se.Token); err != nil {
			return nil, err
		}
		emails = append(emails, se)
	}
	return emails, rows.Err()
}

func (x *sqlUserStoreDB) AddSecondaryEmail(userId UserId, email string, confirmed bool, token string) error {
	var n int
	if err := x.db.QueryRow(`SELECT count(*) FROM account WHERE LOWER(email) = $1`, email).Scan(&n); err != nil {
		return err
	}
	if n != 0 {
		return ErrEmailExists
	}
	_, err := x.db.Exec(`INSERT INTO secondaryemail (userid, email, confirmed, token) VALUES ($1, $2, $3, $4)`, userId, email, confirmed, token)
	if isUniqueViolation(err) {
		return ErrEmailExists
	}
	return err
}

func (x *sqlUserStoreDB) ConfirmSecondaryEmail(userId UserId, token string) error {
	return x.execOneRow(`UPDATE secondaryemail SET confirmed = true, token = '' WHERE userid = $1 AND token = $2 AND token <> ''`, userId, token)
}

func (x *sqlUserStoreDB) DeleteSecondaryEmail(userId UserId, email string) error {
	return x.execOneRow(`DELETE FROM secondaryemail WHERE userid = $1 AND LOWER(email) = $2`, userId, email)
}

func (x *sqlUserStoreDB) PromotePrimaryEmail(userId UserId, newPrimary string) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var oldPrimary string
	if err := tx.QueryRow(`SELECT email FROM account WHERE id = $1 AND archived = false FOR UPDATE`, userId).Scan(&oldPrimary); err != nil {
		if err == sql.ErrNoRows {
			return ErrIdentityAuthNotFound
		}
		return err
	}
	// The new primary must already be a confirmed secondary of this account
	res, err := tx.Exec(`DELETE FROM secondaryemail WHERE userid = $1 AND LOWER(email) = $2 AND confirmed = true`, userId, newPrimary)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEmailNotConfirmed
	}
	if _, err := tx.Exec(`INSERT INTO secondaryemail (userid, email, confirmed, token) VALUES ($1, $2, true, '')`, userId, oldPrimary); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE account SET email = $1 WHERE id = $2`, newPrimary, userId); err != nil {
		return err
	}
	return tx.Commit()
}

func (x *sqlUserStoreDB) GetProfile(userId UserId) (*UserProfile, error) {
	p := &UserProfile{UserId: userId}
	err := x.db.QueryRow(`SELECT sshkey, blockoauth, lastmodified FROM userprofile WHERE userid = $1`, userId).
		Scan(&p.SSHKey, &p.BlockOAuth, &p.LastModified)
	if err == sql.ErrNoRows {
		// Profiles are created lazily
		return p, nil
	} else if err != nil {
		return nil, err
	}
	return p, nil
}

func (x *sqlUserStoreDB) SetProfile(profile *UserProfile) error {
	_, err := x.db.Exec(
		`INSERT INTO userprofile (userid, sshkey, blockoauth, lastmodified) VALUES ($1, $2, $3, now()) `+
			`ON CONFLICT (userid) DO UPDATE SET sshkey = $2, blockoauth = $3, lastmodified = now()`,
		profile.UserId, profile.SSHKey, profile.BlockOAuth)
	return err
}

func (x *sqlUserStoreDB) SearchUsers(terms UserSearchTerms) ([]AuthUser, error) {
	where := []string{`archived = false`}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%v", len(args))
	}
	if terms.ExactUsername != "" {
		where = append(where, `username = `+arg(terms.ExactUsername))
	}
	if terms.Substring != "" {
		p := arg("%" + terms.Substring + "%")
		where = append(where, `(email ILIKE `+p+` OR firstname ILIKE `+p+` OR lastname ILIKE `+p+`)`)
	}
	if terms.Email != "" {
		p := arg("%" + terms.Email + "%")
		where = append(where, `email ILIKE `+p)
	}
	if terms.Name != "" {
		p := arg("%" + terms.Name + "%")
		where = append(where, `(firstname ILIKE `+p+` OR lastname ILIKE `+p+`)`)
	}
	rows, err := x.db.Query(selectUser+` WHERE `+strings.Join(where, ` AND `)+` ORDER BY username LIMIT 100`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []AuthUser{}
	for rows.Next() {
		user := AuthUser{}
		var hash string
		if err := rows.Scan(&user.UserId, &user.Username, &user.Email, &user.Firstname, &user.Lastname, &hash, &user.InternalUUID, &user.Created, &user.Archived); err != nil {
			return nil, err
		}
		user.OAuthOnly = hash == oauthNoPasswordSentinel
		users = append(users, user)
	}
	return users, rows.Err()
}

func (x *sqlUserStoreDB) SSHKeysModifiedSince(since time.Time) ([]SSHKeyRecord, error) {
	rows, err := x.db.Query(
		`SELECT a.username, p.sshkey FROM userprofile p INNER JOIN account a ON a.id = p.userid `+
			`WHERE a.archived = false AND p.sshkey <> '' AND p.lastmodified >= $1 ORDER BY a.username`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []SSHKeyRecord{}
	for rows.Next() {
		var rec SSHKeyRecord
		if err := rows.Scan(&rec.Username, &rec.SSHKey); err != nil {
			return nil, err
		}
		keys = append(keys, rec)
	}
	return keys, rows.Err()
}

func (x *sqlUserStoreDB) execOneRow(query string, args ...interface{}) error {
	res, err := x.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIdentityAuthNotFound
	}
	return nil
}

func (x *sqlUserStoreDB) Close() {
	// The *sql.DB is shared, and closed by Central
	x.db = nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unique constraint")
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlSessionDB struct {
	db *sql.DB
}

func (x *sqlSessionDB) Write(sessionkey string, token *Token) error {
	x.purgeExpiredSessions()
	_, err := x.db.Exec(`INSERT INTO session (sessionkey, userid, identity, email, username, expires) VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionkey, token.UserId, token.Identity, token.Email, token.Username, token.Expires.UTC())
	return err
}

func (x *sqlSessionDB) Read(sessionkey string) (*Token, error) {
	x.purgeExpiredSessions()
	row := x.db.QueryRow(`SELECT userid, identity, email, username, expires FROM session WHERE sessionkey = $1`, sessionkey)
	token := &Token{}
	if err := row.Scan(&token.UserId, &token.Identity, &token.Email, &token.Username, &token.Expires); err != nil {
		return nil, ErrInvalidSessionToken
	}
	return token, nil
}

func (x *sqlSessionDB) Delete(sessionkey string) error {
	_, err := x.db.Exec(`DELETE FROM session WHERE sessionkey = $1`, sessionkey)
	return err
}

func (x *sqlSessionDB) InvalidateSessionsForIdentity(userId UserId) error {
	_, err := x.db.Exec(`DELETE FROM session WHERE userid = $1`, userId)
	return err
}

func (x *sqlSessionDB) purgeExpiredSessions() {
	x.db.Exec(`DELETE FROM session WHERE expires < $1`, time.Now().UTC())
}

func (x *sqlSessionDB) Close() {
	x.db = nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlSiteDB struct {
	db *sql.DB
}

func (x *sqlSiteDB) GetSite(id int) (*Site, error) {
	row := x.db.QueryRow(
		`SELECT s.id, s.name, s.redirecturl, s.cryptkey, s.cooloff_hours, o.id, o.name, o.require_consent `+
			`FROM cauthsite s INNER JOIN cauthorg o ON o.id = s.orgid WHERE s.id = $1`, id)
	site := &Site{}
	var cryptkey string
	err := row.Scan(&site.Id, &site.Name, &site.RedirectURL, &cryptkey, &site.CooloffHours, &site.OrgId, &site.OrgName, &site.RequireConsent)
	if err == sql.ErrNoRows {
		return nil, ErrSiteNotFound
	} else if err != nil {
		return nil, err
	}
	site.CryptKey, err = base64.StdEncoding.DecodeString(cryptkey)
	if err != nil {
		return nil, fmt.Errorf("Site %v has an invalid crypt key: %v", id, err)
	}
	return site, nil
}

func (x *sqlSiteDB) PutSite(site *Site) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.Exec(
		`INSERT INTO cauthorg (id, name, require_consent) VALUES ($1, $2, $3) `+
			`ON CONFLICT (id) DO UPDATE SET name = $2, require_consent = $3`,
		site.OrgId, site.OrgName, site.RequireConsent)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO cauthsite (id, name, redirecturl, cryptkey, cooloff_hours, orgid) VALUES ($1, $2, $3, $4, $5, $6) `+
			`ON CONFLICT (id) DO UPDATE SET name = $2, redirecturl = $3, cryptkey = $4, cooloff_hours = $5, orgid = $6`,
		site.Id, site.Name, site.RedirectURL, base64.StdEncoding.EncodeToString(site.CryptKey), site.CooloffHours, site.OrgId)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (x *sqlSiteDB) HasConsent(userId UserId, orgId int) (bool, error) {
	var n int
	err := x.db.QueryRow(`SELECT count(*) FROM cauthconsent WHERE userid = $1 AND orgid = $2`, userId, orgId).Scan(&n)
	return n != 0, err
}

func (x *sqlSiteDB) GrantConsent(userId UserId, orgId int) error {
	_, err := x.db.Exec(`INSERT INTO cauthconsent (userid, orgid, granted) VALUES ($1, $2, now()) ON CONFLICT (userid, orgid) DO NOTHING`, userId, orgId)
	return err
}

func (x *sqlSiteDB) RecordLogin(userId UserId, siteId int) error {
	_, err := x.db.Exec(
		`INSERT INTO cauthlastlogin (userid, siteid, lastlogin, logincount) VALUES ($1, $2, CURRENT_TIMESTAMP, 1) `+
			`ON CONFLICT (userid, siteid) DO UPDATE SET lastlogin = CURRENT_TIMESTAMP, logincount = cauthlastlogin.logincount + 1`,
		userId, siteId)
	return err
}

func (x *sqlSiteDB) LastLogin(userId UserId, siteId int) (time.Time, error) {
	var t time.Time
	err := x.db.QueryRow(`SELECT lastlogin FROM cauthlastlogin WHERE userid = $1 AND siteid = $2`, userId, siteId).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, err
}

func (x *sqlSiteDB) Close() {
	x.db = nil
}
