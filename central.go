package commhub

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IMQS/log"
)

const (
	/* Number of characters from the set [a-zA-Z0-9] = 62. 62^30 = 6 x 10^53, which is 178 bits of entropy.
	Assume there will be 1 million valid tokens. That removes 20 bits of entropy, leaving 158 bits.
	Divide 158 by 2 and we have a security level of 79 bits. If an attacker can try 100000 tokens per
	second, then it would take 2 * 10^11 years to find a random good token.
	*/
	sessionTokenLength = 30

	defaultSessionExpirySeconds = 30 * 24 * 3600
)

var (
	// NOTE: These 'base' error strings may not be prefixes of each other,
	// otherwise it violates our NewError() concept, which ensures that
	// any commhub error starts with one of these *unique* prefixes
	ErrConnect                = errors.New("Connect failed")
	ErrIdentityAuthNotFound   = errors.New("Identity authorization not found")
	ErrIdentityEmpty          = errors.New("Identity may not be empty")
	ErrIdentityExists         = errors.New("Identity already exists")
	ErrInvalidPassword        = errors.New("Invalid password")
	ErrInvalidSessionToken    = errors.New("Invalid session token")
	ErrInvalidPasswordToken   = errors.New("Invalid password token")
	ErrPasswordTokenExpired   = errors.New("Password token has expired")
	ErrOAuthAccountNoPassword = errors.New("Account is connected to a third party login site and has no local password")
	ErrOAuthSessionIncomplete = errors.New("Invalid redirect received from the OAuth provider")
	ErrSiteNotFound           = errors.New("Community auth site not found")
	ErrEmailNotConfirmed      = errors.New("Email address has not been confirmed")
	ErrEmailExists            = errors.New("Email address already registered")
	ErrVersionNotFound        = errors.New("Version not found")
	ErrPageNotFound           = errors.New("Page not found")
)

// NewError is to be used whenever you return a commhub error. We rely upon the
// prefix of the error string to identify the broad category of the error.
func NewError(base error, detail string) error {
	return errors.New(base.Error() + ": " + detail)
}

// UserId is the 64-bit integer primary key of a community account.
type UserId int64

const NullUserId UserId = 0

/*
Token is the result of a successful authentication request. It contains
everything that we know about this authentication event, which includes
the identity that performed the request and when this token expires.
*/
type Token struct {
	Identity string
	UserId   UserId
	Email    string
	Username string
	Expires  time.Time
}

// CanonicalizeIdentity transforms an identity into its canonical form. What this
// means is that any two identities are considered equal if their canonical forms
// are equal. This is simply a lower-casing of the identity, so that
// "bob@enterprise.com" is equal to "Bob@enterprise.com".
// It also trims the whitespace around the identity.
func CanonicalizeIdentity(identity string) string {
	return strings.TrimSpace(strings.ToLower(identity))
}

// RandomString returns a random string of 'nchars' bytes, sampled uniformly from the given corpus of byte characters.
func RandomString(nchars int, corpus string) string {
	rbytes := make([]byte, nchars)
	rstring := make([]byte, nchars)
	rand.Read(rbytes)
	for i := 0; i < nchars; i++ {
		rstring[i] = corpus[rbytes[i]%byte(len(corpus))]
	}
	return string(rstring)
}

func generateSessionKey() string {
	return generateRandomKey(sessionTokenLength)
}

func generateRandomKey(length int) string {
	// It is important not to have any unusual characters in here, especially an equals sign. Old versions of Tomcat
	// will parse such a cookie incorrectly (imagine Cookie: magic=abracadabra=)
	return RandomString(length, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
}

func generatePasswordResetToken(expires time.Time) string {
	return fmt.Sprintf("%v.%v", expires.Unix(), generateSessionKey())
}

// Returns nil if the token is parseable, not expired, and matches truthToken
func verifyPasswordResetToken(candidateToken, truthToken string) error {
	// NOTE: If you ever alter the format of the token, ensure that an empty token
	// remains invalid. Right now, if truthToken is empty, then this function
	// will fail, because candidateToken must therefore also be empty, and because of that,
	// the split by "." will fail, and that is what will cause the token to be invalid.
	pieces := strings.Split(candidateToken, ".")
	if len(pieces) != 2 {
		return ErrInvalidPasswordToken
	}
	dateInt, err := strconv.ParseInt(pieces[0], 10, 64)
	if err != nil {
		return ErrInvalidPasswordToken
	}
	if time.Now().After(time.Unix(dateInt, 0)) {
		return ErrPasswordTokenExpired
	}
	if subtle.ConstantTimeCompare([]byte(candidateToken), []byte(truthToken)) != 1 {
		return ErrInvalidPasswordToken
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type CentralStats struct {
	InvalidSessionKeys uint64
	ExpiredSessionKeys uint64
	InvalidPasswords   uint64
	EmptyIdentities    uint64
	GoodLogin          uint64
	Logout             uint64
	GoodHandoff        uint64
	CooloffRefused     uint64
	ConsentRedirect    uint64
}

func isPowerOf2(x uint64) bool {
	return 0 == x&(x-1)
}

func (x *CentralStats) IncrementAndLog(name string, val *uint64, logger *log.Logger) {
	n := atomic.AddUint64(val, 1)
	if isPowerOf2(n) || (n&255) == 0 {
		logger.Infof("%v %v", n, name)
	}
}

func (x *CentralStats) IncrementInvalidSessionKey(logger *log.Logger) {
	x.IncrementAndLog("invalid session keys", &x.InvalidSessionKeys, logger)
}

func (x *CentralStats) IncrementExpiredSessionKey(logger *log.Logger) {
	x.IncrementAndLog("expired session keys", &x.ExpiredSessionKeys, logger)
}

func (x *CentralStats) IncrementInvalidPasswords(logger *log.Logger) {
	x.IncrementAndLog("invalid passwords", &x.InvalidPasswords, logger)
}

func (x *CentralStats) IncrementEmptyIdentities(logger *log.Logger) {
	x.IncrementAndLog("empty identities", &x.EmptyIdentities, logger)
}

func (x *CentralStats) IncrementGoodLogin(logger *log.Logger) {
	x.IncrementAndLog("good login", &x.GoodLogin, logger)
}

func (x *CentralStats) IncrementLogout(logger *log.Logger) {
	x.IncrementAndLog("logout", &x.Logout, logger)
}

func (x *CentralStats) IncrementGoodHandoff(logger *log.Logger) {
	x.IncrementAndLog("good community auth handoff", &x.GoodHandoff, logger)
}

func (x *CentralStats) IncrementCooloffRefused(logger *log.Logger) {
	x.IncrementAndLog("community auth cooloff refusals", &x.CooloffRefused, logger)
}

func (x *CentralStats) IncrementConsentRedirect(logger *log.Logger) {
	x.IncrementAndLog("community auth consent redirects", &x.ConsentRedirect, logger)
}

/*
Central is the single hub of the backend that you interact with.
All public methods of Central are callable from multiple threads.
*/
type Central struct {
	// Stats must be first so that we are guaranteed to get it 8-byte aligned. We atomically
	// increment counters inside CentralStats, and the atomic functions need 8-byte alignment
	// on their operands.
	Stats                  CentralStats
	Auditor                Auditor
	Log                    *log.Logger
	NewSessionExpiresAfter time.Duration
	Renderer               Renderer
	Mailer                 Mailer
	MailFrom               string
	DocsCommentsTo         string
	StaticCheckout         string
	DB                     *sql.DB

	userStore    UserStore
	sessionDB    SessionDB
	siteDB       SiteDB
	docStore     DocStore
	emailLock    sync.Mutex // serializes the primary/secondary email flip
	shuttingDown uint32
}

// NewCentral creates a Central object from the specified pieces.
func NewCentral(logfile string, userStore UserStore, sessionDB SessionDB, siteDB SiteDB, docStore DocStore) *Central {
	c := &Central{}
	c.userStore = &sanitizingUserStore{
		backend: userStore,
	}
	c.sessionDB = newCachedSessionDB(sessionDB)
	c.siteDB = siteDB
	c.docStore = docStore
	c.NewSessionExpiresAfter = time.Duration(defaultSessionExpirySeconds) * time.Second
	c.Renderer = &plainRenderer{}

	// We don't want logging to stdout when the service is running on a windows
	// machine. This decision was made to avoid having to bloat the service with
	// unnecessary config
	c.Log = log.New(resolveLogfile(logfile), runtime.GOOS != "windows")
	c.Auditor = &logAuditor{logger: c.Log}
	c.Mailer = &logMailer{logger: c.Log}

	c.Log.Infof("Commhub successfully started up\n")

	return c
}

// NewCentralFromConfig creates a new 'Central' object from a Config.
func NewCentralFromConfig(config *Config) (central *Central, err error) {
	var (
		db        *sql.DB
		userStore UserStore
		sessionDB SessionDB
		siteDB    SiteDB
		docStore  DocStore
	)

	startupLogger := log.New(resolveLogfile(config.Log.Filename), runtime.GOOS != "windows")

	defer func() {
		if ePanic := recover(); ePanic != nil {
			if userStore != nil {
				userStore.Close()
			}
			if sessionDB != nil {
				sessionDB.Close()
			}
			if siteDB != nil {
				siteDB.Close()
			}
			if docStore != nil {
				docStore.Close()
			}
			if db != nil {
				db.Close()
			}
			startupLogger.Errorf("Error initializing: %v\n", ePanic)
			err = ePanic.(error)
		}
	}()

	// All of our interfaces which use a Postgres database share the same database, and thus
	// the same schema. So here we connect to that common SQL database that is used by all
	// of them. The stores remain open to be implemented by different units, but it's silly
	// to open the same database four times when we're actually just using a single shared DB.
	db, err = config.DB.Connect()
	if err != nil {
		panic(fmt.Errorf("Error connecting to DB: %v", err))
	}

	userStore = &sqlUserStoreDB{db: db}
	sessionDB = &sqlSessionDB{db: db}
	siteDB = &sqlSiteDB{db: db}
	docStore = &sqlDocStoreDB{db: db}

	c := NewCentral(config.Log.Filename, userStore, sessionDB, siteDB, docStore)
	c.DB = db
	c.MailFrom = config.Mail.NoReplyFrom
	c.DocsCommentsTo = config.Mail.DocsCommentsTo
	c.StaticCheckout = config.Docs.StaticCheckout
	startupLogger.Infof("Sessions expire after %v", c.NewSessionExpiresAfter)

	return c, nil
}

func resolveLogfile(logfile string) string {
	if logfile != "" {
		return logfile
	}
	return log.Stdout
}

// SetSessionCacheSize sets the size of the in-memory session cache
func (x *Central) SetSessionCacheSize(maxSessions int) {
	x.sessionDB.(*cachedSessionDB).MaxCachedSessions = maxSessions
}

// GetTokenFromSession takes a session key that was generated with a call to Login(), and
// returns the token. A session key is typically a cookie.
func (x *Central) GetTokenFromSession(sessionkey string) (*Token, error) {
	if token, err := x.sessionDB.Read(sessionkey); err != nil {
		x.Stats.IncrementInvalidSessionKey(x.Log)
		return token, err
	} else {
		if time.Now().UnixNano() > token.Expires.UnixNano() {
			// DB has not yet expired token. It's OK for the DB to be a bit lazy in its cleanup.
			x.Stats.IncrementExpiredSessionKey(x.Log)
			return nil, ErrInvalidSessionToken
		} else {
			return token, err
		}
	}
}

// Login authenticates the identity + password, and if successful, creates a session.
func (x *Central) Login(identity, password string) (sessionkey string, token *Token, err error) {
	// Treat empty identity specially, since this is a very common condition, and
	// tends to flood the logs.
	identity = strings.TrimSpace(identity)
	if identity == "" {
		x.Stats.IncrementEmptyIdentities(x.Log)
		return "", nil, ErrIdentityEmpty
	}
	userId, eAuth := x.userStore.Authenticate(identity, password)
	if eAuth != nil {
		if errors.Is(eAuth, ErrInvalidPassword) {
			x.Stats.IncrementInvalidPasswords(x.Log)
		}
		x.Log.Errorf("Login Authentication failed (%v) (%v)", identity, eAuth)
		return "", nil, eAuth
	}

	user, eUser := x.userStore.GetUserFromUserId(userId)
	if eUser != nil {
		return "", nil, eUser
	}

	sessionkey, token, err = x.CreateSession(user)
	if err == nil {
		x.Stats.IncrementGoodLogin(x.Log)
		x.Log.Infof("Login successful (%v)", user.UserId)
	}
	return
}

// CreateSession creates a new login session, after you have authenticated the caller.
// Returns a session key, which can be used in future to retrieve the token.
// The internal session expiry is controlled with NewSessionExpiresAfter.
// The session key is typically sent to the client as a cookie.
func (x *Central) CreateSession(user *AuthUser) (sessionkey string, token *Token, err error) {
	token = &Token{
		Identity: user.getIdentity(),
		UserId:   user.UserId,
		Email:    user.Email,
		Username: user.Username,
		Expires:  time.Now().Add(x.NewSessionExpiresAfter),
	}
	sessionkey = generateSessionKey()
	if err = x.sessionDB.Write(sessionkey, token); err != nil {
		x.Log.Errorf("Writing session key failed (%v)", err)
		return sessionkey, token, err
	}
	return sessionkey, token, nil
}

// Logout erases the session key
func (x *Central) Logout(sessionkey string) error {
	x.Stats.IncrementLogout(x.Log)
	return x.sessionDB.Delete(sessionkey)
}

// InvalidateSessionsForIdentity invalidates all sessions for a particular identity
func (x *Central) InvalidateSessionsForIdentity(userId UserId) error {
	return x.sessionDB.InvalidateSessionsForIdentity(userId)
}

// GetUserFromIdentity gets an AuthUser object from either an email address or a username.
func (x *Central) GetUserFromIdentity(identity string) (AuthUser, error) {
	user, e := x.userStore.GetUserFromIdentity(identity)
	if e == nil {
		return *user, nil
	}
	x.Log.Errorf("GetUserFromIdentity failed (%v) (%v)", identity, e)
	return AuthUser{}, e
}

// GetUserFromUserId gets an AuthUser object from a userid.
func (x *Central) GetUserFromUserId(userId UserId) (AuthUser, error) {
	user, e := x.userStore.GetUserFromUserId(userId)
	if e == nil {
		return *user, nil
	}
	x.Log.Errorf("GetUserFromUserId failed (%v) (%v)", userId, e)
	return AuthUser{}, e
}

func (x *Central) IsShuttingDown() bool {
	return atomic.LoadUint32(&x.shuttingDown) != 0
}

func (x *Central) Close() {
	if x.Log != nil {
		x.Log.Infof("Commhub has started shutting down")
	}
	atomic.StoreUint32(&x.shuttingDown, 1)
	if x.userStore != nil {
		x.userStore.Close()
		x.userStore = nil
	}
	if x.sessionDB != nil {
		x.sessionDB.Close()
		x.sessionDB = nil
	}
	if x.siteDB != nil {
		x.siteDB.Close()
		x.siteDB = nil
	}
	if x.docStore != nil {
		x.docStore.Close()
		x.docStore = nil
	}
	if x.DB != nil {
		x.DB.Close()
	}
	if x.Log != nil {
		x.Log.Infof("Commhub has shut down")
		// Don't set Log to nil, because a background/cleanup goroutine can't be expected to
		// check for x.Log being nil every time before it emits a log message.
	}
}

func (x *Central) debugEnableSessionDB(enable bool) {
	// Used for testing the session cache
	x.sessionDB.(*cachedSessionDB).enableDB = enable
}
