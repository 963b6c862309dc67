package commhub

import (
	"sync"
	"time"
)

// dummySessionDB is an in-memory SessionDB.
type dummySessionDB struct {
	sessionsLock sync.Mutex
	sessions     map[string]*Token
}

func newDummySessionDB() *dummySessionDB {
	return &dummySessionDB{sessions: make(map[string]*Token)}
}

func (x *dummySessionDB) Write(sessionkey string, token *Token) error {
	x.sessionsLock.Lock()
	defer x.sessionsLock.Unlock()
	x.sessions[sessionkey] = token
	return nil
}

func (x *dummySessionDB) Read(sessionkey string) (*Token, error) {
	x.sessionsLock.Lock()
	defer x.sessionsLock.Unlock()
	token := x.sessions[sessionkey]
	if token == nil {
		return nil, ErrInvalidSessionToken
	}
	return token, nil
}

func (x *dummySessionDB) Delete(sessionkey string) error {
	x.sessionsLock.Lock()
	defer x.sessionsLock.Unlock()
	delete(x.sessions, sessionkey)
	return nil
}

func (x *dummySessionDB) InvalidateSessionsForIdentity(userId UserId) error {
	x.sessionsLock.Lock()
	defer x.sessionsLock.Unlock()
	for key, token := range x.sessions {
		if token.UserId == userId {
			delete(x.sessions, key)
		}
	}
	return nil
}

func (x *dummySessionDB) Close() {
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type consentKey struct {
	userId UserId
	orgId  int
}

type loginKey struct {
	userId UserId
	siteId int
}

type loginRecord struct {
	lastLogin  time.Time
	loginCount int
}

// dummySiteDB is an in-memory SiteDB. Tests seed it by assigning to Sites.
type dummySiteDB struct {
	lock    sync.Mutex
	Sites   map[int]*Site
	consent map[consentKey]time.Time
	logins  map[loginKey]*loginRecord
}

func newDummySiteDB() *dummySiteDB {
	return &dummySiteDB{
		Sites:   make(map[int]*Site),
		consent: make(map[consentKey]time.Time),
		logins:  make(map[loginKey]*loginRecord),
	}
}

func (x *dummySiteDB) GetSite(id int) (*Site, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	site := x.Sites[id]
	if site == nil {
		return nil, ErrSiteNotFound
	}
	copy := *site
	return &copy, nil
}

func (x *dummySiteDB) PutSite(site *Site) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	copy := *site
	x.Sites[site.Id] = &copy
	return nil
}

func (x *dummySiteDB) HasConsent(userId UserId, orgId int) (bool, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	_, granted := x.consent[consentKey{userId, orgId}]
	return granted, nil
}

func (x *dummySiteDB) GrantConsent(userId UserId, orgId int) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	key := consentKey{userId, orgId}
	if _, exists := x.consent[key]; !exists {
		x.consent[key] = time.Now()
	}
	return nil
}

func (x *dummySiteDB) RecordLogin(userId UserId, siteId int) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	key := loginKey{userId, siteId}
	rec := x.logins[key]
	if rec == nil {
		rec = &loginRecord{}
		x.logins[key] = rec
	}
	rec.lastLogin = time.Now()
	rec.loginCount++
	return nil
}

func (x *dummySiteDB) LastLogin(userId UserId, siteId int) (time.Time, error) {
	x.lock.Lock()
	defer x.lock.Unlock()
	rec := x.logins[loginKey{userId, siteId}]
	if rec == nil {
		return time.Time{}, nil
	}
	return rec.lastLogin, nil
}

func (x *dummySiteDB) loginCount(userId UserId, siteId int) int {
	x.lock.Lock()
	defer x.lock.Unlock()
	rec := x.logins[loginKey{userId, siteId}]
	if rec == nil {
		return 0
	}
	return rec.loginCount
}

func (x *dummySiteDB) Close() {
}
