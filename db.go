package commhub

import (
	"strings"
	"sync"
	"time"
)

// Password hash stored for accounts that were created through an OAuth signin
// and have never set a local password. Such accounts may not log in with a
// password, may not change or reset their password, and may not change their
// primary email address, because the email is owned by the OAuth provider.
const oauthNoPasswordSentinel = "oauth_signin_account_no_password"

// AuthUser is a container for the user record of a community account.
type AuthUser struct {
	UserId    UserId
	Username  string
	Email     string
	Firstname string
	Lastname  string
	// Stable opaque identifier, exposed where the numeric id should not leak
	InternalUUID string
	Created      time.Time
	Archived     bool
	// True if the account was created via an OAuth provider and carries no local password
	OAuthOnly bool
}

func (u *AuthUser) getIdentity() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}

// SecondaryEmail is an additional email address attached to an account.
// Only confirmed secondary emails are handed off to community auth sites.
type SecondaryEmail struct {
	Id        int64
	UserId    UserId
	Email     string
	Confirmed bool
	Token     string
}

// UserProfile holds the freeform profile fields of an account.
type UserProfile struct {
	UserId       UserId
	SSHKey       string
	BlockOAuth   bool
	LastModified time.Time
}

// Site is a community auth site, together with the organisation that owns it.
type Site struct {
	Id             int
	Name           string
	RedirectURL    string
	CryptKey       []byte // 32 bytes, AES-256
	CooloffHours   int
	OrgId          int
	OrgName        string
	RequireConsent bool
}

/*
UserStore is the database that stores accounts, their credentials, secondary
emails, and profiles.

Identities are canonicalized (lowercased, trimmed) before hitting this
interface. The sanitizingUserStore wrapper takes care of that.
*/
type UserStore interface {
	// Authenticate verifies the identity + password pair, and returns the userid on success.
	// Returns ErrOAuthAccountNoPassword if the account has no local password.
	Authenticate(identity, password string) (UserId, error)
	// SetPassword replaces the account's password. Refused for OAuth-only accounts.
	SetPassword(userId UserId, password string) error
	// ResetPasswordStart generates a password reset token that remains valid until 'expires'.
	ResetPasswordStart(userId UserId, expires time.Time) (string, error)
	// ResetPasswordFinish consumes the token and sets the new password.
	ResetPasswordFinish(userId UserId, token string, password string) error
	// CreateIdentity creates a new account with a local password.
	CreateIdentity(user *AuthUser, password string) (UserId, error)
	// CreateOAuthIdentity creates a new account with no local password.
	CreateOAuthIdentity(user *AuthUser) (UserId, error)
	// UpdateIdentity rewrites username, email, firstname, lastname.
	UpdateIdentity(user *AuthUser) error
	// ArchiveIdentity soft-deletes the account, so that it no longer authenticates.
	ArchiveIdentity(userId UserId) error
	GetUserFromIdentity(identity string) (*AuthUser, error)
	GetUserFromUserId(userId UserId) (*AuthUser, error)
	// UsernameExists is used when suggesting usernames during signup.
	UsernameExists(username string) (bool, error)

	GetSecondaryEmails(userId UserId) ([]SecondaryEmail, error)
	AddSecondaryEmail(userId UserId, email string, confirmed bool, token string) error
	ConfirmSecondaryEmail(userId UserId, token string) error
	DeleteSecondaryEmail(userId UserId, email string) error
	// PromotePrimaryEmail swaps the account's primary email for one of its confirmed
	// secondary emails. The old primary becomes a confirmed secondary; any secondary
	// row holding the new primary is deleted.
	PromotePrimaryEmail(userId UserId, newPrimary string) error

	GetProfile(userId UserId) (*UserProfile, error)
	SetProfile(profile *UserProfile) error

	// SearchUsers finds active accounts matching the given terms.
	SearchUsers(terms UserSearchTerms) ([]AuthUser, error)
	// SSHKeysModifiedSince returns username + ssh key for every active profile with a
	// non-empty key whose profile was modified after 'since'.
	SSHKeysModifiedSince(since time.Time) ([]SSHKeyRecord, error)

	Close()
}

// SSHKeyRecord is one row of the bulk ssh key export.
type SSHKeyRecord struct {
	Username string
	SSHKey   string
}

// UserSearchTerms are the filters of a user search. ExactUsername matches the
// username exactly. The other fields are case-insensitive substring matches:
// Substring looks at the primary email and the name fields; Email looks at the
// primary email only; Name looks at the name fields only. Empty fields are
// ignored, and non-empty fields are combined with AND.
type UserSearchTerms struct {
	ExactUsername string
	Substring     string
	Email         string
	Name          string
}

// SessionDB stores login sessions.
type SessionDB interface {
	Write(sessionkey string, token *Token) error
	// Read returns ErrInvalidSessionToken if the key does not exist
	Read(sessionkey string) (*Token, error)
	Delete(sessionkey string) error
	// InvalidateSessionsForIdentity erases all sessions belonging to the user
	InvalidateSessionsForIdentity(userId UserId) error
	Close()
}

// SiteDB stores community auth sites, organisations, per-org consent, and
// the per-site login log.
type SiteDB interface {
	// GetSite returns ErrSiteNotFound if no site has this id
	GetSite(id int) (*Site, error)
	// PutSite upserts the site and the organisation it names
	PutSite(site *Site) error
	HasConsent(userId UserId, orgId int) (bool, error)
	// GrantConsent is idempotent
	GrantConsent(userId UserId, orgId int) error
	// RecordLogin upserts the (user, site) login row, bumping logincount and lastlogin
	RecordLogin(userId UserId, siteId int) error
	LastLogin(userId UserId, siteId int) (time.Time, error)
	Close()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// sanitizingUserStore makes sure that identities are canonicalized before they
// reach the backend store.
type sanitizingUserStore struct {
	backend UserStore
}

func (x *sanitizingUserStore) Authenticate(identity, password string) (UserId, error) {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return NullUserId, ErrIdentityEmpty
	}
	if password == "" {
		return NullUserId, ErrInvalidPassword
	}
	return x.backend.Authenticate(identity, password)
}

func (x *sanitizingUserStore) SetPassword(userId UserId, password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	return x.backend.SetPassword(userId, password)
}

func (x *sanitizingUserStore) ResetPasswordStart(userId UserId, expires time.Time) (string, error) {
	return x.backend.ResetPasswordStart(userId, expires)
}

func (x *sanitizingUserStore) ResetPasswordFinish(userId UserId, token string, password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	return x.backend.ResetPasswordFinish(userId, token, password)
}

func (x *sanitizingUserStore) CreateIdentity(user *AuthUser, password string) (UserId, error) {
	user.Email = CanonicalizeIdentity(user.Email)
	user.Username = strings.TrimSpace(user.Username)
	if user.Email == "" || user.Username == "" {
		return NullUserId, ErrIdentityEmpty
	}
	return x.backend.CreateIdentity(user, password)
}

func (x *sanitizingUserStore) CreateOAuthIdentity(user *AuthUser) (UserId, error) {
	user.Email = CanonicalizeIdentity(user.Email)
	user.Username = strings.TrimSpace(user.Username)
	if user.Email == "" || user.Username == "" {
		return NullUserId, ErrIdentityEmpty
	}
	return x.backend.CreateOAuthIdentity(user)
}

func (x *sanitizingUserStore) UpdateIdentity(user *AuthUser) error {
	user.Email = CanonicalizeIdentity(user.Email)
	user.Username = strings.TrimSpace(user.Username)
	if user.Email == "" || user.Username == "" {
		return ErrIdentityEmpty
	}
	return x.backend.UpdateIdentity(user)
}

func (x *sanitizingUserStore) ArchiveIdentity(userId UserId) error {
	return x.backend.ArchiveIdentity(userId)
}

func (x *sanitizingUserStore) GetUserFromIdentity(identity string) (*AuthUser, error) {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return nil, ErrIdentityEmpty
	}
	return x.backend.GetUserFromIdentity(identity)
}

func (x *sanitizingUserStore) GetUserFromUserId(userId UserId) (*AuthUser, error) {
	return x.backend.GetUserFromUserId(userId)
}

func (x *sanitizingUserStore) UsernameExists(username string) (bool, error) {
	return x.backend.UsernameExists(strings.TrimSpace(username))
}

func (x *sanitizingUserStore) GetSecondaryEmails(userId UserId) ([]SecondaryEmail, error) {
	return x.backend.GetSecondaryEmails(userId)
}

func (x *sanitizingUserStore) AddSecondaryEmail(userId UserId, email string, confirmed bool, token string) error {
	email = CanonicalizeIdentity(email)
	if email == "" {
		return ErrIdentityEmpty
	}
	return x.backend.AddSecondaryEmail(userId, email, confirmed, token)
}

func (x *sanitizingUserStore) ConfirmSecondaryEmail(userId UserId, token string) error {
	return x.backend.ConfirmSecondaryEmail(userId, token)
}

func (x *sanitizingUserStore) DeleteSecondaryEmail(userId UserId, email string) error {
	return x.backend.DeleteSecondaryEmail(userId, CanonicalizeIdentity(email))
}

func (x *sanitizingUserStore) PromotePrimaryEmail(userId UserId, newPrimary string) error {
	newPrimary = CanonicalizeIdentity(newPrimary)
	if newPrimary == "" {
		return ErrIdentityEmpty
	}
	return x.backend.PromotePrimaryEmail(userId, newPrimary)
}

func (x *sanitizingUserStore) GetProfile(userId UserId) (*UserProfile, error) {
	return x.backend.GetProfile(userId)
}

func (x *sanitizingUserStore) SetProfile(profile *UserProfile) error {
	return x.backend.SetProfile(profile)
}

func (x *sanitizingUserStore) SearchUsers(terms UserSearchTerms) ([]AuthUser, error) {
	return x.backend.SearchUsers(terms)
}

func (x *sanitizingUserStore) SSHKeysModifiedSince(since time.Time) ([]SSHKeyRecord, error) {
	return x.backend.SSHKeysModifiedSince(since)
}

func (x *sanitizingUserStore) Close() {
	x.backend.Close()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

/*
cachedSessionDB caches sessions in memory, to avoid a DB hit on every request
that carries a session cookie.

The cache is not a write-through cache for invalidations. InvalidateSessionsForIdentity
wipes the entire cache, which is the simple and correct thing to do given how rarely
that path runs.
*/
type cachedSessionDB struct {
	MaxCachedSessions  int
	cachedSessions     map[string]*cachedToken
	cachedSessionsLock sync.Mutex
	db                 SessionDB
	enableDB           bool
}

type cachedToken struct {
	sessionkey string
	date       time.Time
	token      *Token
}

func newCachedSessionDB(storage SessionDB) *cachedSessionDB {
	c := &cachedSessionDB{}
	c.MaxCachedSessions = 10000
	c.db = storage
	c.cachedSessions = make(map[string]*cachedToken)
	c.enableDB = true
	return c
}

// Assume that cachedSessionsLock is held
func (x *cachedSessionDB) prune() {
	if len(x.cachedSessions) > x.MaxCachedSessions {
		// Find the oldest half of the sessions, and evict them
		tokens := make([]*cachedToken, 0, len(x.cachedSessions))
		for _, p := range x.cachedSessions {
			tokens = append(tokens, p)
		}
		oldest := tokens[0].date
		newest := tokens[0].date
		for _, t := range tokens {
			if t.date.Before(oldest) {
				oldest = t.date
			}
			if t.date.After(newest) {
				newest = t.date
			}
		}
		cutoff := oldest.Add(newest.Sub(oldest) / 2)
		for _, t := range tokens {
			if t.date.Before(cutoff) {
				delete(x.cachedSessions, t.sessionkey)
			}
		}
		// Guard against a pathological case where all sessions share the same date
		if len(x.cachedSessions) > x.MaxCachedSessions {
			x.cachedSessions = make(map[string]*cachedToken)
		}
	}
}

// Assume that cachedSessionsLock is held
func (x *cachedSessionDB) insert(sessionkey string, token *Token) {
	x.cachedSessions[sessionkey] = &cachedToken{
		sessionkey: sessionkey,
		date:       time.Now(),
		token:      token,
	}
	x.prune()
}

func (x *cachedSessionDB) Write(sessionkey string, token *Token) error {
	if err := x.db.Write(sessionkey, token); err != nil {
		return err
	}
	x.cachedSessionsLock.Lock()
	x.insert(sessionkey, token)
	x.cachedSessionsLock.Unlock()
	return nil
}

func (x *cachedSessionDB) Read(sessionkey string) (*Token, error) {
	x.cachedSessionsLock.Lock()
	cached := x.cachedSessions[sessionkey]
	x.cachedSessionsLock.Unlock()
	if cached != nil {
		return cached.token, nil
	}
	if !x.enableDB {
		return nil, ErrInvalidSessionToken
	}
	token, err := x.db.Read(sessionkey)
	if err != nil {
		return nil, err
	}
	x.cachedSessionsLock.Lock()
	x.insert(sessionkey, token)
	x.cachedSessionsLock.Unlock()
	return token, nil
}

func (x *cachedSessionDB) Delete(sessionkey string) error {
	x.cachedSessionsLock.Lock()
	delete(x.cachedSessions, sessionkey)
	x.cachedSessionsLock.Unlock()
	return x.db.Delete(sessionkey)
}

func (x *cachedSessionDB) InvalidateSessionsForIdentity(userId UserId) error {
	x.cachedSessionsLock.Lock()
	x.cachedSessions = make(map[string]*cachedToken)
	x.cachedSessionsLock.Unlock()
	return x.db.InvalidateSessionsForIdentity(userId)
}

func (x *cachedSessionDB) Close() {
	x.cachedSessionsLock.Lock()
	x.cachedSessions = nil
	x.cachedSessionsLock.Unlock()
	if x.db != nil {
		x.db.Close()
		x.db = nil
	}
}
