package commhub

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/IMQS/log"
)

/*
Create a test Postgres database:
	create role unit_test_user login password 'unit_test_password';
	create database unit_test_commhub owner = unit_test_user;

Suggested test runs:

	-- Test using maps/arrays mocking the backend:
	go test -race github.com/commhub/commhub -test.cpu 2

	-- Test using postgres as the backend:
	go test -race github.com/commhub/commhub -test.cpu 2 -backend_postgres
*/

var backend_postgres = flag.Bool("backend_postgres", false, "Run tests against Postgres backend")

// These are hard-coded identities for unit test predictability
var joeEmail = "joe@email.test"
var jackEmail = "jack@email.test"
var samEmail = "Sam@email.test"

var joePwd = "1234abcd"
var jackPwd = "abcd1234"
var samPwd = "12341234"

// These hard-coded UserId values are predictable because we always drop & recreate the
// postgres backend when running tests, so we know that our IDs always start at 1
var joeUserId UserId = 1
var jackUserId UserId = 2
var samUserId UserId = 3
var notFoundUserId UserId = 999

var conx_postgres = DBConnection{
	Driver:   "postgres",
	Host:     "localhost",
	Port:     5432,
	Database: "unit_test_commhub",
	User:     "unit_test_user",
	Password: "unit_test_password",
	SSL:      false,
}

func isBackendPostgresTest() bool {
	return *backend_postgres
}

func getCentral(t *testing.T) *Central {
	var userStore UserStore
	var sessionDB SessionDB
	var siteDB SiteDB
	var docStore DocStore

	if isBackendPostgresTest() {
		dbName := conx_postgres.Host + ":" + conx_postgres.Database
		SqlCreateDatabase(&conx_postgres)
		db, errdb := conx_postgres.Connect()
		if errdb != nil {
			t.Fatalf("Unable to connect to database %v: %v", dbName, errdb)
		}
		if err := SqlDeleteAllTables(db); err != nil {
			t.Fatalf("Unable to wipe database %v: %v", dbName, err)
		}
		if err := RunMigrations(&conx_postgres); err != nil {
			t.Fatalf("Unable to run migrations: %v", err)
		}
		userStore = &sqlUserStoreDB{db: db}
		sessionDB = &sqlSessionDB{db: db}
		siteDB = &sqlSiteDB{db: db}
		docStore = &sqlDocStoreDB{db: db}
		central := NewCentral(log.Stdout, userStore, sessionDB, siteDB, docStore)
		central.DB = db
		return central
	}

	return NewCentralDummy(log.Stdout)
}

func setup(t *testing.T) *Central {
	central := getCentral(t)

	joeUser := AuthUser{
		Email:     joeEmail,
		Username:  "joeUsername",
		Firstname: "joeFirstname",
		Lastname:  "joeLastname",
	}
	if _, e := central.userStore.CreateIdentity(&joeUser, joePwd); e != nil {
		t.Errorf("CreateIdentity failed: %v", e)
	}
	jackUser := AuthUser{
		Email:     jackEmail,
		Username:  "jackUsername",
		Firstname: "jackFirstname",
		Lastname:  "jackLastname",
	}
	if _, e := central.userStore.CreateIdentity(&jackUser, jackPwd); e != nil {
		t.Errorf("CreateIdentity failed: %v", e)
	}
	// Sam has no first or last name, which some flows refuse
	samUser := AuthUser{
		Email:    samEmail,
		Username: "samUsername",
	}
	if _, e := central.userStore.CreateIdentity(&samUser, samPwd); e != nil {
		t.Errorf("CreateIdentity failed: %v", e)
	}

	return central
}

func isPrefix(prefix error, err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), prefix.Error())
}

func TestAuthLoginCaseSensitivity(t *testing.T) {
	c := setup(t)
	defer c.Close()
	for _, identity := range []string{joeEmail, strings.ToUpper(joeEmail), " " + joeEmail + " ", "JOEusername"} {
		key, token, err := c.Login(identity, joePwd)
		if err != nil {
			t.Fatalf("Login as %q failed: %v", identity, err)
		}
		if token.UserId != joeUserId {
			t.Errorf("Login as %q: wrong user %v", identity, token.UserId)
		}
		back, err := c.GetTokenFromSession(key)
		if err != nil || back.UserId != joeUserId {
			t.Errorf("Session readback as %q failed: %v", identity, err)
		}
	}
}

func TestAuthBadLogin(t *testing.T) {
	c := setup(t)
	defer c.Close()
	if _, _, err := c.Login(joeEmail, "wrong"); !isPrefix(ErrInvalidPassword, err) {
		t.Errorf("Expected ErrInvalidPassword, got %v", err)
	}
	if _, _, err := c.Login("nobody@email.test", joePwd); !isPrefix(ErrIdentityAuthNotFound, err) {
		t.Errorf("Expected ErrIdentityAuthNotFound, got %v", err)
	}
	if _, _, err := c.Login("  ", joePwd); !isPrefix(ErrIdentityEmpty, err) {
		t.Errorf("Expected ErrIdentityEmpty, got %v", err)
	}
	if _, err := c.GetTokenFromSession("no-such-session"); !isPrefix(ErrInvalidSessionToken, err) {
		t.Errorf("Expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestAuthSessionExpiry(t *testing.T) {
	c := setup(t)
	defer c.Close()
	c.NewSessionExpiresAfter = 50 * time.Millisecond
	key, _, err := c.Login(joeEmail, joePwd)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := c.GetTokenFromSession(key); err != nil {
		t.Fatalf("Fresh session should be valid: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := c.GetTokenFromSession(key); !isPrefix(ErrInvalidSessionToken, err) {
		t.Errorf("Expired session should be invalid, got %v", err)
	}
}

func TestAuthSessionDelete(t *testing.T) {
	c := setup(t)
	defer c.Close()
	key, _, err := c.Login(joeEmail, joePwd)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := c.Logout(key); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := c.GetTokenFromSession(key); !isPrefix(ErrInvalidSessionToken, err) {
		t.Errorf("Deleted session should be invalid, got %v", err)
	}
}

func TestAuthSessionInvalidation(t *testing.T) {
	c := setup(t)
	defer c.Close()
	joeKey, _, _ := c.Login(joeEmail, joePwd)
	jackKey, _, _ := c.Login(jackEmail, jackPwd)
	if err := c.InvalidateSessionsForIdentity(joeUserId); err != nil {
		t.Fatalf("InvalidateSessionsForIdentity failed: %v", err)
	}
	if _, err := c.GetTokenFromSession(joeKey); err == nil {
		t.Errorf("Joe's session should be gone")
	}
	if _, err := c.GetTokenFromSession(jackKey); err != nil {
		t.Errorf("Jack's session should survive: %v", err)
	}
}

func TestAuthSessionCacheEviction(t *testing.T) {
	c := setup(t)
	defer c.Close()
	c.SetSessionCacheSize(10)
	keys := []string{}
	for i := 0; i < 30; i++ {
		key, _, err := c.Login(joeEmail, joePwd)
		if err != nil {
			t.Fatalf("Login %v failed: %v", i, err)
		}
		keys = append(keys, key)
		// Sessions with distinct cache insertion times, so that pruning has
		// an age gradient to work with
		time.Sleep(time.Millisecond)
	}
	for i, key := range keys {
		if _, err := c.GetTokenFromSession(key); err != nil {
			t.Errorf("Session %v fell out of both cache and DB: %v", i, err)
		}
	}
}

func TestAuthSessionCacheOnly(t *testing.T) {
	if isBackendPostgresTest() {
		t.Skip("cache introspection test runs on the dummy backend only")
	}
	c := setup(t)
	defer c.Close()
	key, _, err := c.Login(joeEmail, joePwd)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	// With the DB switched off, the cached session must still resolve
	c.debugEnableSessionDB(false)
	if _, err := c.GetTokenFromSession(key); err != nil {
		t.Errorf("Cached session should resolve without the DB: %v", err)
	}
	if _, err := c.GetTokenFromSession("uncached-key"); !isPrefix(ErrInvalidSessionToken, err) {
		t.Errorf("Uncached session with DB off should be invalid, got %v", err)
	}
	c.debugEnableSessionDB(true)
}

func TestAuthResetPassword(t *testing.T) {
	c := setup(t)
	defer c.Close()

	token, err := c.userStore.ResetPasswordStart(joeUserId, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ResetPasswordStart failed: %v", err)
	}
	if err := c.ResetPasswordFinish(joeUserId, "bogus-token", "newPwd"); !isPrefix(ErrInvalidPasswordToken, err) {
		t.Errorf("Bogus token should fail, got %v", err)
	}
	if err := c.ResetPasswordFinish(joeUserId, token, "newPwd"); err != nil {
		t.Fatalf("ResetPasswordFinish failed: %v", err)
	}
	if _, _, err := c.Login(joeEmail, joePwd); err == nil {
		t.Errorf("Old password should no longer work")
	}
	if _, _, err := c.Login(joeEmail, "newPwd"); err != nil {
		t.Errorf("New password should work: %v", err)
	}
	// A consumed token may not be replayed
	if err := c.ResetPasswordFinish(joeUserId, token, "anotherPwd"); err == nil {
		t.Errorf("Consumed token should not be replayable")
	}

	// Expired token
	expired, err := c.userStore.ResetPasswordStart(jackUserId, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ResetPasswordStart failed: %v", err)
	}
	if err := c.ResetPasswordFinish(jackUserId, expired, "newPwd"); !isPrefix(ErrPasswordTokenExpired, err) {
		t.Errorf("Expired token should fail with ErrPasswordTokenExpired, got %v", err)
	}
}

func TestAuthChangePassword(t *testing.T) {
	c := setup(t)
	defer c.Close()
	key, _, _ := c.Login(joeEmail, joePwd)
	if err := c.ChangePassword(joeUserId, "wrongOld", "newPwd"); !isPrefix(ErrInvalidPassword, err) {
		t.Errorf("Wrong old password should fail, got %v", err)
	}
	if err := c.ChangePassword(joeUserId, joePwd, "newPwd"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := c.GetTokenFromSession(key); err == nil {
		t.Errorf("Password change should invalidate existing sessions")
	}
	if _, _, err := c.Login(joeEmail, "newPwd"); err != nil {
		t.Errorf("New password should work: %v", err)
	}
}

func TestAuthArchiveIdentity(t *testing.T) {
	c := setup(t)
	defer c.Close()
	if err := c.userStore.ArchiveIdentity(joeUserId); err != nil {
		t.Fatalf("ArchiveIdentity failed: %v", err)
	}
	if _, _, err := c.Login(joeEmail, joePwd); err == nil {
		t.Errorf("Archived identity should not authenticate")
	}
	if _, err := c.GetUserFromUserId(joeUserId); err == nil {
		t.Errorf("Archived identity should not resolve")
	}
}

func TestAuthDuplicateIdentity(t *testing.T) {
	c := setup(t)
	defer c.Close()
	dup := AuthUser{Email: strings.ToUpper(joeEmail), Username: "anotherName", Firstname: "a", Lastname: "b"}
	if _, err := c.userStore.CreateIdentity(&dup, "pwd12345"); !isPrefix(ErrIdentityExists, err) {
		t.Errorf("Duplicate email should fail with ErrIdentityExists, got %v", err)
	}
	dup2 := AuthUser{Email: "fresh@email.test", Username: "JOEUSERNAME", Firstname: "a", Lastname: "b"}
	if _, err := c.userStore.CreateIdentity(&dup2, "pwd12345"); !isPrefix(ErrIdentityExists, err) {
		t.Errorf("Duplicate username should fail with ErrIdentityExists, got %v", err)
	}
}

func TestAuthScryptHashFormat(t *testing.T) {
	hash, err := hashPassword("hello")
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if !verifyPasswordHash("hello", hash) {
		t.Errorf("Hash should verify")
	}
	if verifyPasswordHash("hellx", hash) {
		t.Errorf("Wrong password should not verify")
	}
	if verifyPasswordHash("hello", "") {
		t.Errorf("Empty hash should not verify")
	}
	hash2, _ := hashPassword("hello")
	if hash == hash2 {
		t.Errorf("Two hashes of the same password should differ by salt")
	}
}
