package commhub

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

/*
dummyUserStore is a self-consistent in-memory UserStore, for tests and for
running without a database. Passwords are stored in plain text. Everything
here mirrors the semantics of the SQL store, just without the SQL.
*/
type dummyUserStore struct {
	usersLock sync.Mutex
	users     map[UserId]*dummyUser
	nextId    UserId
}

type dummyUser struct {
	user      AuthUser
	password  string
	pwdtoken  string
	secondary []SecondaryEmail
	profile   UserProfile
	nextSecId int64
}

func newDummyUserStore() *dummyUserStore {
	return &dummyUserStore{
		users:  make(map[UserId]*dummyUser),
		nextId: 1,
	}
}

func (x *dummyUserStore) Authenticate(identity, password string) (UserId, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.findByIdentity(identity)
	if du == nil {
		return NullUserId, ErrIdentityAuthNotFound
	}
	if du.password == oauthNoPasswordSentinel {
		return NullUserId, ErrOAuthAccountNoPassword
	}
	if du.password != password {
		return NullUserId, ErrInvalidPassword
	}
	return du.user.UserId, nil
}

func (x *dummyUserStore) SetPassword(userId UserId, password string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil || du.user.Archived {
		return ErrIdentityAuthNotFound
	}
	if du.password == oauthNoPasswordSentinel {
		return ErrOAuthAccountNoPassword
	}
	du.password = password
	du.pwdtoken = ""
	return nil
}

func (x *dummyUserStore) ResetPasswordStart(userId UserId, expires time.Time) (string, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil || du.user.Archived {
		return "", ErrIdentityAuthNotFound
	}
	if du.password == oauthNoPasswordSentinel {
		return "", ErrOAuthAccountNoPassword
	}
	du.pwdtoken = generatePasswordResetToken(expires)
	return du.pwdtoken, nil
}

func (x *dummyUserStore) ResetPasswordFinish(userId UserId, token string, password string) error {
	x.usersLock.Lock()
	du := x.users[userId]
	if du == nil || du.user.Archived {
		x.usersLock.Unlock()
		return ErrIdentityAuthNotFound
	}
	truth := du.pwdtoken
	x.usersLock.Unlock()
	if truth == "" {
		return ErrInvalidPasswordToken
	}
	if err := verifyPasswordResetToken(token, truth); err != nil {
		return err
	}
	return x.SetPassword(userId, password)
}

func (x *dummyUserStore) CreateIdentity(user *AuthUser, password string) (UserId, error) {
	return x.create(user, password)
}

func (x *dummyUserStore) CreateOAuthIdentity(user *AuthUser) (UserId, error) {
	return x.create(user, oauthNoPasswordSentinel)
}

func (x *dummyUserStore) create(user *AuthUser, password string) (UserId, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	for _, du := range x.users {
		if strings.EqualFold(du.user.Username, user.Username) || strings.EqualFold(du.user.Email, user.Email) {
			return NullUserId, ErrIdentityExists
		}
	}
	user.UserId = x.nextId
	if user.InternalUUID == "" {
		user.InternalUUID = uuid.New().String()
	}
	user.Created = time.Now()
	x.nextId++
	x.users[user.UserId] = &dummyUser{
		user:      *user,
		password:  password,
		nextSecId: 1,
	}
	return user.UserId, nil
}

func (x *dummyUserStore) UpdateIdentity(user *AuthUser) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[user.UserId]
	if du == nil || du.user.Archived {
		return ErrIdentityAuthNotFound
	}
	du.user.Username = user.Username
	du.user.Email = user.Email
	du.user.Firstname = user.Firstname
	du.user.Lastname = user.Lastname
	return nil
}

func (x *dummyUserStore) ArchiveIdentity(userId UserId) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return ErrIdentityAuthNotFound
	}
	du.user.Archived = true
	return nil
}

func (x *dummyUserStore) GetUserFromIdentity(identity string) (*AuthUser, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.findByIdentity(identity)
	if du == nil {
		return nil, ErrIdentityAuthNotFound
	}
	copy := du.user
	copy.OAuthOnly = du.password == oauthNoPasswordSentinel
	return &copy, nil
}

func (x *dummyUserStore) GetUserFromUserId(userId UserId) (*AuthUser, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil || du.user.Archived {
		return nil, ErrIdentityAuthNotFound
	}
	copy := du.user
	copy.OAuthOnly = du.password == oauthNoPasswordSentinel
	return &copy, nil
}

// Assumes usersLock is held
func (x *dummyUserStore) findByIdentity(identity string) *dummyUser {
	for _, du := range x.users {
		if du.user.Archived {
			continue
		}
		if strings.EqualFold(du.user.Email, identity) || strings.EqualFold(du.user.Username, identity) {
			return du
		}
	}
	return nil
}

func (x *dummyUserStore) UsernameExists(username string) (bool, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	for _, du := range x.users {
		if strings.EqualFold(du.user.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (x *dummyUserStore) GetSecondaryEmails(userId UserId) ([]SecondaryEmail, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return nil, ErrIdentityAuthNotFound
	}
	out := make([]SecondaryEmail, len(du.secondary))
	copy(out, du.secondary)
	return out, nil
}

func (x *dummyUserStore) AddSecondaryEmail(userId UserId, email string, confirmed bool, token string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return ErrIdentityAuthNotFound
	}
	for _, other := range x.users {
		if strings.EqualFold(other.user.Email, email) {
			return ErrEmailExists
		}
		for _, se := range other.secondary {
			if strings.EqualFold(se.Email, email) {
				return ErrEmailExists
			}
		}
	}
	du.secondary = append(du.secondary, SecondaryEmail{
		Id:        du.nextSecId,
		UserId:    userId,
		Email:     email,
		Confirmed: confirmed,
		Token:     token,
	})
	du.nextSecId++
	return nil
}

func (x *dummyUserStore) ConfirmSecondaryEmail(userId UserId, token string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return ErrIdentityAuthNotFound
	}
	for i := range du.secondary {
		if token != "" && du.secondary[i].Token == token {
			du.secondary[i].Confirmed = true
			du.secondary[i].Token = ""
			return nil
		}
	}
	return ErrIdentityAuthNotFound
}

func (x *dummyUserStore) DeleteSecondaryEmail(userId UserId, email string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return ErrIdentityAuthNotFound
	}
	for i := range du.secondary {
		if strings.EqualFold(du.secondary[i].Email, email) {
			du.secondary = append(du.secondary[:i], du.secondary[i+1:]...)
			return nil
		}
	}
	return ErrIdentityAuthNotFound
}

func (x *dummyUserStore) PromotePrimaryEmail(userId UserId, newPrimary string) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil || du.user.Archived {
		return ErrIdentityAuthNotFound
	}
	found := -1
	for i := range du.secondary {
		if strings.EqualFold(du.secondary[i].Email, newPrimary) && du.secondary[i].Confirmed {
			found = i
			break
		}
	}
	if found == -1 {
		return ErrEmailNotConfirmed
	}
	oldPrimary := du.user.Email
	du.secondary = append(du.secondary[:found], du.secondary[found+1:]...)
	du.secondary = append(du.secondary, SecondaryEmail{
		Id:        du.nextSecId,
		UserId:    userId,
		Email:     oldPrimary,
		Confirmed: true,
	})
	du.nextSecId++
	du.user.Email = newPrimary
	return nil
}

func (x *dummyUserStore) GetProfile(userId UserId) (*UserProfile, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[userId]
	if du == nil {
		return nil, ErrIdentityAuthNotFound
	}
	p := du.profile
	p.UserId = userId
	return &p, nil
}

func (x *dummyUserStore) SetProfile(profile *UserProfile) error {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	du := x.users[profile.UserId]
	if du == nil {
		return ErrIdentityAuthNotFound
	}
	du.profile = *profile
	du.profile.LastModified = time.Now()
	return nil
}

func (x *dummyUserStore) SearchUsers(terms UserSearchTerms) ([]AuthUser, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	contains := func(haystack, needle string) bool {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	matches := func(du *dummyUser) bool {
		if du.user.Archived {
			return false
		}
		if terms.ExactUsername != "" && du.user.Username != terms.ExactUsername {
			return false
		}
		if terms.Substring != "" {
			if !contains(du.user.Email, terms.Substring) && !contains(du.user.Firstname, terms.Substring) &&
				!contains(du.user.Lastname, terms.Substring) {
				return false
			}
		}
		if terms.Email != "" && !contains(du.user.Email, terms.Email) {
			return false
		}
		if terms.Name != "" && !contains(du.user.Firstname, terms.Name) && !contains(du.user.Lastname, terms.Name) {
			return false
		}
		return true
	}
	users := []AuthUser{}
	for _, du := range x.users {
		if matches(du) {
			copy := du.user
			copy.OAuthOnly = du.password == oauthNoPasswordSentinel
			users = append(users, copy)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (x *dummyUserStore) SSHKeysModifiedSince(since time.Time) ([]SSHKeyRecord, error) {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	keys := []SSHKeyRecord{}
	for _, du := range x.users {
		if du.user.Archived || du.profile.SSHKey == "" {
			continue
		}
		if du.profile.LastModified.Before(since) {
			continue
		}
		keys = append(keys, SSHKeyRecord{Username: du.user.Username, SSHKey: du.profile.SSHKey})
	}
	return keys, nil
}

func (x *dummyUserStore) Close() {
}

// debug helper
func (x *dummyUserStore) String() string {
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	return fmt.Sprintf("dummyUserStore(%v users)", len(x.users))
}
