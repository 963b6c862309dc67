package commhub

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testSiteKey = []byte("0123456789abcdef0123456789abcdef")

func seedSite(t *testing.T, c *Central, site *Site) {
	if site.CryptKey == nil {
		site.CryptKey = testSiteKey
	}
	if err := c.siteDB.PutSite(site); err != nil {
		t.Fatalf("PutSite failed: %v", err)
	}
}

// decryptHandoffRedirect pulls the i and d parameters off a handoff redirect
// URL and decrypts the record.
func decryptHandoffRedirect(t *testing.T, redirectURL string) url.Values {
	u, err := url.Parse(redirectURL)
	assert.NoError(t, err)
	plain, err := decryptPayload(testSiteKey, u.Query().Get("i"), u.Query().Get("d"))
	assert.NoError(t, err)
	record, err := url.ParseQuery(plain)
	assert.NoError(t, err)
	return record
}

func TestParseHandoffState(t *testing.T) {
	parse := func(raw string) (string, string) {
		q, _ := url.ParseQuery(raw)
		return ParseHandoffState(q)
	}
	data, param := parse("d=abcDEF123_.~%3D%24-")
	assert.Equal(t, "abcDEF123_.~=$-", data)
	assert.Equal(t, "d", param)

	// One character outside the allowed set drops the whole parameter
	data, param = parse("d=abc%20def")
	assert.Equal(t, "", data)
	assert.Equal(t, "", param)
	data, param = parse("d=abc%2Fdef")
	assert.Equal(t, "", data)

	// Old style state must be a site-absolute path
	data, param = parse("su=%2Fsome%2Fpage")
	assert.Equal(t, "/some/page", data)
	assert.Equal(t, "su", param)
	data, param = parse("su=http%3A%2F%2Fevil.test%2F")
	assert.Equal(t, "", data)

	// d wins over su when both are present
	data, param = parse("d=abc&su=%2Fpage")
	assert.Equal(t, "abc", data)
	assert.Equal(t, "d", param)
}

func TestLoginRecordFormat(t *testing.T) {
	user := &AuthUser{
		Username:  "joe u",
		Firstname: "Joe",
		Lastname:  "Soap & Co",
		Email:     "joe@email.test",
	}
	record := buildLoginRecord(user, []string{"a@b.test", "c@d.test"}, "/next page", "su")
	parts := strings.Split(record, "&")
	assert.Equal(t, 7, len(parts))
	// The timestamp leads, so the first encrypted block is never constant
	assert.True(t, strings.HasPrefix(parts[0], "t="))
	ts, err := strconv.ParseInt(parts[0][2:], 10, 64)
	assert.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), ts, 5)
	assert.Equal(t, "u=joe+u", parts[1])
	assert.Equal(t, "f=Joe", parts[2])
	assert.Equal(t, "l=Soap+%26+Co", parts[3])
	assert.Equal(t, "e=joe%40email.test", parts[4])
	assert.Equal(t, "se=a%40b.test%2Cc%40d.test", parts[5])
	assert.Equal(t, "su=%2Fnext+page", parts[6])

	// Without state the record ends at se
	record = buildLoginRecord(user, nil, "", "")
	assert.Equal(t, 6, len(strings.Split(record, "&")))
	assert.True(t, strings.HasSuffix(record, "&se="))
}

func TestHandoffSuccess(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 1, Name: "wiki", RedirectURL: "https://wiki.example.test/auth/", OrgId: 1, OrgName: "wiki org"})

	// Joe's confirmed secondary arrives sorted; the unconfirmed one never does
	assert.NoError(t, c.userStore.AddSecondaryEmail(joeUserId, "zz@email.test", true, ""))
	assert.NoError(t, c.userStore.AddSecondaryEmail(joeUserId, "aa@email.test", true, ""))
	assert.NoError(t, c.userStore.AddSecondaryEmail(joeUserId, "pending@email.test", false, "tok"))

	result, err := c.CommunityAuthHandoff(joeUserId, 1, "/wiki/Main", "su")
	assert.NoError(t, err)
	assert.Equal(t, HandoffOK, result.Outcome)
	assert.True(t, strings.HasPrefix(result.RedirectURL, "https://wiki.example.test/auth/?i="))

	record := decryptHandoffRedirect(t, result.RedirectURL)
	assert.Equal(t, "joeUsername", record.Get("u"))
	assert.Equal(t, "joeFirstname", record.Get("f"))
	assert.Equal(t, "joeLastname", record.Get("l"))
	assert.Equal(t, joeEmail, record.Get("e"))
	assert.Equal(t, "aa@email.test,zz@email.test", record.Get("se"))
	assert.Equal(t, "/wiki/Main", record.Get("su"))

	last, err := c.siteDB.LastLogin(joeUserId, 1)
	assert.NoError(t, err)
	assert.False(t, last.IsZero())

	// Two more handoffs keep upserting the same login row
	_, err = c.CommunityAuthHandoff(joeUserId, 1, "", "")
	assert.NoError(t, err)
	_, err = c.CommunityAuthHandoff(joeUserId, 1, "", "")
	assert.NoError(t, err)
	if dummy, ok := c.siteDB.(*dummySiteDB); ok {
		assert.Equal(t, 3, dummy.loginCount(joeUserId, 1))
	}
}

func TestHandoffMissingNames(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 1, Name: "wiki", RedirectURL: "https://wiki.example.test/auth/", OrgId: 1, OrgName: "wiki org"})

	result, err := c.CommunityAuthHandoff(samUserId, 1, "", "")
	assert.NoError(t, err)
	assert.Equal(t, HandoffMissingNames, result.Outcome)

	// No login row may be written for a refused handoff
	last, err := c.siteDB.LastLogin(samUserId, 1)
	assert.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestHandoffCooloff(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 2, Name: "lists", RedirectURL: "https://lists.example.test/a/", CooloffHours: 24, OrgId: 1, OrgName: "lists org"})

	// Joe's account was created moments ago by setup
	result, err := c.CommunityAuthHandoff(joeUserId, 2, "", "")
	assert.NoError(t, err)
	assert.Equal(t, HandoffCooloff, result.Outcome)
	last, _ := c.siteDB.LastLogin(joeUserId, 2)
	assert.True(t, last.IsZero())
}

func TestHandoffConsent(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 3, Name: "planet", RedirectURL: "https://planet.example.test/a/", OrgId: 7, OrgName: "planet org", RequireConsent: true})

	result, err := c.CommunityAuthHandoff(joeUserId, 3, "abc", "d")
	assert.NoError(t, err)
	assert.Equal(t, HandoffConsentRequired, result.Outcome)
	// The consent form carries the path back into the handoff, state included
	assert.Equal(t, "/auth/3/consent/?next="+url.QueryEscape("/auth/3/?d=abc"), result.RedirectURL)

	site, err := c.GrantConsent(joeUserId, 3)
	assert.NoError(t, err)
	assert.Equal(t, 7, site.OrgId)
	// Granting twice is fine
	_, err = c.GrantConsent(joeUserId, 3)
	assert.NoError(t, err)

	result, err = c.CommunityAuthHandoff(joeUserId, 3, "abc", "d")
	assert.NoError(t, err)
	assert.Equal(t, HandoffOK, result.Outcome)
	record := decryptHandoffRedirect(t, result.RedirectURL)
	assert.Equal(t, "abc", record.Get("d"))
}

func TestHandoffSiteNotFound(t *testing.T) {
	c := setup(t)
	defer c.Close()
	_, err := c.CommunityAuthHandoff(joeUserId, 99, "", "")
	assert.True(t, isPrefix(ErrSiteNotFound, err))
	_, err = c.CommunityAuthLogoutURL(99)
	assert.True(t, isPrefix(ErrSiteNotFound, err))
}

func TestCommunityAuthLogoutURL(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 1, Name: "wiki", RedirectURL: "https://wiki.example.test/auth/", OrgId: 1, OrgName: "wiki org"})
	loc, err := c.CommunityAuthLogoutURL(1)
	assert.NoError(t, err)
	assert.Equal(t, "https://wiki.example.test/auth/?s=logout", loc)
}

func decryptAPIBody(t *testing.T, body string) []byte {
	iv, ciphertext, found := strings.Cut(body, "&")
	assert.True(t, found)
	plain, err := decryptPayload(testSiteKey, iv, ciphertext)
	assert.NoError(t, err)
	return []byte(plain)
}

func TestCommunityAuthSearch(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 1, Name: "wiki", RedirectURL: "https://wiki.example.test/auth/", OrgId: 1, OrgName: "wiki org"})
	assert.NoError(t, c.userStore.AddSecondaryEmail(joeUserId, "work@corp.test", true, ""))

	run := func(terms UserSearchTerms) []communityUserRecord {
		body, err := c.CommunityAuthSearch(1, terms)
		assert.NoError(t, err)
		records := []communityUserRecord{}
		assert.NoError(t, json.Unmarshal(decryptAPIBody(t, body), &records))
		return records
	}

	records := run(UserSearchTerms{ExactUsername: "joeUsername"})
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "joeUsername", records[0].Username)
	assert.Equal(t, joeEmail, records[0].Email)
	assert.Equal(t, []string{"work@corp.test"}, records[0].SecondaryEmails)

	// The email term looks at the primary address only. Secondary emails
	// ride along in the output but are not searched
	records = run(UserSearchTerms{Email: "corp.test"})
	assert.Equal(t, 0, len(records))
	records = run(UserSearchTerms{Email: joeEmail})
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "joeUsername", records[0].Username)

	// The free-form term spans primary email and names, not usernames
	records = run(UserSearchTerms{Substring: "email.test"})
	assert.Equal(t, 3, len(records))
	records = run(UserSearchTerms{Substring: "joeUsername"})
	assert.Equal(t, 0, len(records))

	records = run(UserSearchTerms{ExactUsername: "nobody"})
	assert.Equal(t, 0, len(records))

	// An archived account never appears
	assert.NoError(t, c.userStore.ArchiveIdentity(jackUserId))
	records = run(UserSearchTerms{Substring: "email.test"})
	assert.Equal(t, 2, len(records))
}

func TestCommunityAuthKeys(t *testing.T) {
	c := setup(t)
	defer c.Close()
	seedSite(t, c, &Site{Id: 1, Name: "git", RedirectURL: "https://git.example.test/a/", OrgId: 1, OrgName: "git org"})

	assert.NoError(t, c.UpdateProfile(&UserProfile{UserId: joeUserId, SSHKey: "ssh-rsa AAA joe\r ssh-rsa BBB joe2"}))
	assert.NoError(t, c.UpdateProfile(&UserProfile{UserId: jackUserId, SSHKey: ""}))

	run := func(since time.Time) []communityKeyRecord {
		body, err := c.CommunityAuthKeys(1, since)
		assert.NoError(t, err)
		records := []communityKeyRecord{}
		assert.NoError(t, json.Unmarshal(decryptAPIBody(t, body), &records))
		return records
	}

	records := run(time.Time{})
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "joeUsername", records[0].Username)
	// Carriage returns are normalized away
	assert.Equal(t, "ssh-rsa AAA joe\n ssh-rsa BBB joe2", records[0].SSHKey)
	assert.False(t, strings.Contains(records[0].SSHKey, "\r"))

	// A cutoff in the future filters everything out
	records = run(time.Now().Add(time.Hour))
	assert.Equal(t, 0, len(records))
}

func TestHandoffURL(t *testing.T) {
	assert.Equal(t, "/auth/5/", HandoffURL(5, "", ""))
	assert.Equal(t, "/auth/5/?d=abc", HandoffURL(5, "abc", "d"))
	assert.Equal(t, "/auth/5/?su=%2Fpage", HandoffURL(5, "/page", "su"))
}
