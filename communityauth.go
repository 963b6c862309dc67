package commhub

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

/*
Community auth handoff.

A community site that wants to authenticate a visitor sends the visitor here.
Once the visitor holds a session, we hand them back to the site with an
encrypted record of who they are. The site and this server share a 32 byte
AES key; nothing else is exchanged out of band.

The site may pass along a small piece of state. New-style sites use the 'd'
parameter, restricted to a conservative character set; anything outside that
set causes the whole parameter to be dropped, so a site can never smuggle
arbitrary bytes through the handoff. Old-style sites use 'su', a redirect
path that must be site-absolute.
*/

type HandoffOutcome int

const (
	// The visitor holds no session and must log in first
	HandoffLoginRequired HandoffOutcome = iota
	// The handoff succeeded. RedirectURL carries the visitor back to the site.
	HandoffOK
	// The account has no first or last name, or no email. The site cannot
	// accept such a record, so this is a terminal error.
	HandoffMissingNames
	// The account is younger than the site's cooloff window
	HandoffCooloff
	// The organisation requires consent which this account has not granted
	HandoffConsentRequired
)

type HandoffResult struct {
	Outcome     HandoffOutcome
	RedirectURL string
	Site        *Site
}

const handoffDataChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_.~=$-"

// ParseHandoffState extracts the site's state from the incoming query.
// Returns the state value and the parameter it arrived in ("d" or "su"),
// or empty strings if no acceptable state was present.
func ParseHandoffState(query url.Values) (data string, param string) {
	if d := query.Get("d"); d != "" {
		for _, c := range d {
			if !strings.ContainsRune(handoffDataChars, c) {
				// One bad character drops the whole parameter
				return "", ""
			}
		}
		return d, "d"
	}
	if su := query.Get("su"); strings.HasPrefix(su, "/") {
		return su, "su"
	}
	return "", ""
}

// HandoffURL is the path a visitor must be sent back to after login, so that
// the handoff can resume with the site's state intact.
func HandoffURL(siteId int, data string, param string) string {
	u := fmt.Sprintf("/auth/%v/", siteId)
	if data != "" {
		u += "?" + param + "=" + url.QueryEscape(data)
	}
	return u
}

// CommunityAuthHandoff performs the handoff of a logged-in visitor to a site.
// The caller resolves the session itself; a visitor without one never reaches
// this function.
func (x *Central) CommunityAuthHandoff(userId UserId, siteId int, data string, param string) (*HandoffResult, error) {
	site, err := x.siteDB.GetSite(siteId)
	if err != nil {
		return nil, err
	}
	user, err := x.userStore.GetUserFromUserId(userId)
	if err != nil {
		return nil, err
	}

	if user.Firstname == "" || user.Lastname == "" || user.Email == "" {
		x.Log.Errorf("Community auth handoff refused for %v to site %v: profile incomplete", user.UserId, site.Id)
		return &HandoffResult{Outcome: HandoffMissingNames, Site: site}, nil
	}

	if site.CooloffHours > 0 {
		age := time.Now().Sub(user.Created)
		if age < time.Duration(site.CooloffHours)*time.Hour {
			// Deliberately not an error: brand new accounts hitting a cooloff
			// site is normal, and the visitor gets a policy page
			x.Log.Warnf("Community auth cooloff refusal for %v to site %v (account age %v, cooloff %vh)", user.UserId, site.Id, age, site.CooloffHours)
			x.Stats.IncrementCooloffRefused(x.Log)
			return &HandoffResult{Outcome: HandoffCooloff, Site: site}, nil
		}
	}

	if site.RequireConsent {
		granted, err := x.siteDB.HasConsent(userId, site.OrgId)
		if err != nil {
			return nil, err
		}
		if !granted {
			x.Stats.IncrementConsentRedirect(x.Log)
			next := HandoffURL(siteId, data, param)
			return &HandoffResult{
				Outcome:     HandoffConsentRequired,
				RedirectURL: fmt.Sprintf("/auth/%v/consent/?next=%v", siteId, url.QueryEscape(next)),
				Site:        site,
			}, nil
		}
	}

	if err := x.siteDB.RecordLogin(userId, siteId); err != nil {
		return nil, err
	}

	secondary, err := x.confirmedSecondaryEmails(userId)
	if err != nil {
		return nil, err
	}
	record := buildLoginRecord(user, secondary, data, param)
	iv, ciphertext, err := encryptPayload(site.CryptKey, record)
	if err != nil {
		return nil, err
	}

	x.Stats.IncrementGoodHandoff(x.Log)
	x.Log.Infof("Community auth handoff of %v to site %v", user.UserId, site.Id)
	return &HandoffResult{
		Outcome:     HandoffOK,
		RedirectURL: fmt.Sprintf("%v?i=%v&d=%v", site.RedirectURL, iv, ciphertext),
		Site:        site,
	}, nil
}

// GrantConsent records that the user consents to sharing their profile with
// the organisation that owns the site. Granting twice is not an error.
func (x *Central) GrantConsent(userId UserId, siteId int) (*Site, error) {
	site, err := x.siteDB.GetSite(siteId)
	if err != nil {
		return nil, err
	}
	if err := x.siteDB.GrantConsent(userId, site.OrgId); err != nil {
		return nil, err
	}
	return site, nil
}

// CommunityAuthLogoutURL is where a site sends a visitor who logged out there.
// No payload is exchanged; the site merely learns that the logout happened.
func (x *Central) CommunityAuthLogoutURL(siteId int) (string, error) {
	site, err := x.siteDB.GetSite(siteId)
	if err != nil {
		return "", err
	}
	return site.RedirectURL + "?s=logout", nil
}

func (x *Central) confirmedSecondaryEmails(userId UserId) ([]string, error) {
	all, err := x.userStore.GetSecondaryEmails(userId)
	if err != nil {
		return nil, err
	}
	confirmed := []string{}
	for _, se := range all {
		if se.Confirmed {
			confirmed = append(confirmed, se.Email)
		}
	}
	sort.Strings(confirmed)
	return confirmed, nil
}

// buildLoginRecord serializes the visitor record that gets encrypted and
// handed to the site. The timestamp leads so that the first cipher block
// never repeats across messages. The field order is fixed; sites parse this
// as an ordinary query string, but we never want the serialization of the
// same record to vary between requests.
func buildLoginRecord(user *AuthUser, secondaryEmails []string, data string, param string) string {
	fields := []struct {
		key   string
		value string
	}{
		{"u", user.Username},
		{"f", user.Firstname},
		{"l", user.Lastname},
		{"e", user.Email},
		{"se", strings.Join(secondaryEmails, ",")},
	}
	record := fmt.Sprintf("t=%v", time.Now().Unix())
	for _, f := range fields {
		record += "&" + f.key + "=" + url.QueryEscape(f.value)
	}
	if data != "" {
		record += "&" + param + "=" + url.QueryEscape(data)
	}
	return record
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Server-to-server API. Requests arrive in plaintext, but every response body
// is "<iv>&<ciphertext>" under the site's key, so only the site that asked
// can read the answer.

type communityUserRecord struct {
	Username        string   `json:"u"`
	Email           string   `json:"e"`
	Firstname       string   `json:"f"`
	Lastname        string   `json:"l"`
	SecondaryEmails []string `json:"se"`
}

type communityKeyRecord struct {
	Username string `json:"u"`
	SSHKey   string `json:"s"`
}

// CommunityAuthSearch runs a user search on behalf of a site, returning the
// encrypted response body.
func (x *Central) CommunityAuthSearch(siteId int, terms UserSearchTerms) (string, error) {
	site, err := x.siteDB.GetSite(siteId)
	if err != nil {
		return "", err
	}
	if terms.ExactUsername == "" && terms.Substring == "" && terms.Email == "" && terms.Name == "" {
		return "", NewError(ErrPageNotFound, "no search term given")
	}
	users, err := x.userStore.SearchUsers(terms)
	if err != nil {
		return "", err
	}
	records := []communityUserRecord{}
	for i := range users {
		secondary, err := x.confirmedSecondaryEmails(users[i].UserId)
		if err != nil {
			return "", err
		}
		records = append(records, communityUserRecord{
			Username:        users[i].Username,
			Email:           users[i].Email,
			Firstname:       users[i].Firstname,
			Lastname:        users[i].Lastname,
			SecondaryEmails: secondary,
		})
	}
	return x.encryptResponseBody(site, records)
}

// CommunityAuthKeys returns the encrypted bulk ssh key export for a site.
// Keys are normalized to unix line endings.
func (x *Central) CommunityAuthKeys(siteId int, since time.Time) (string, error) {
	site, err := x.siteDB.GetSite(siteId)
	if err != nil {
		return "", err
	}
	keys, err := x.userStore.SSHKeysModifiedSince(since)
	if err != nil {
		return "", err
	}
	records := []communityKeyRecord{}
	for _, k := range keys {
		records = append(records, communityKeyRecord{
			Username: k.Username,
			SSHKey:   strings.Replace(k.SSHKey, "\r", "\n", -1),
		})
	}
	return x.encryptResponseBody(site, records)
}

func (x *Central) encryptResponseBody(site *Site, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	iv, ciphertext, err := encryptPayload(site.CryptKey, string(raw))
	if err != nil {
		return "", err
	}
	return iv + "&" + ciphertext, nil
}
