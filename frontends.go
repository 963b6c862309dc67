package commhub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

/*
HTTP frontend.

Handlers stay thin: they parse the request, call into Central, and hand the
outcome to the Renderer. The Renderer is injected so that a deployment can
plug in its own templating; the default renders JSON, which is also what the
test suite asserts against.
*/

// Renderer produces the response body for every page-shaped response.
type Renderer interface {
	Render(w http.ResponseWriter, status int, page string, data interface{})
}

type plainRenderer struct{}

func (plainRenderer) Render(w http.ResponseWriter, status int, page string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"page": page,
		"data": data,
	})
}

type HttpFrontend struct {
	Central      *Central
	Router       *mux.Router
	cookieName   string
	cookieSecure bool
}

// NewHttpFrontend builds the router over the given Central.
func NewHttpFrontend(central *Central, config *ConfigHTTP) *HttpFrontend {
	f := &HttpFrontend{
		Central:      central,
		cookieName:   config.CookieName,
		cookieSecure: config.CookieSecure,
	}
	r := mux.NewRouter().StrictSlash(true)

	r.HandleFunc("/auth/search/{siteid:[0-9]+}/", f.httpCommunityAuthSearch).Methods("GET")
	r.HandleFunc("/auth/getkeys/{siteid:[0-9]+}/", f.httpCommunityAuthKeys).Methods("GET")
	r.HandleFunc("/auth/getkeys/{siteid:[0-9]+}/{since}/", f.httpCommunityAuthKeys).Methods("GET")
	r.HandleFunc("/auth/{siteid:[0-9]+}/", f.httpCommunityAuthHandoff).Methods("GET")
	r.HandleFunc("/auth/{siteid:[0-9]+}/logout/", f.httpCommunityAuthLogout).Methods("GET")
	r.HandleFunc("/auth/{siteid:[0-9]+}/consent/", f.httpCommunityAuthConsentForm).Methods("GET")
	r.HandleFunc("/auth/{siteid:[0-9]+}/consent/", f.httpCommunityAuthConsentGrant).Methods("POST")

	r.HandleFunc("/account/login/", f.httpLoginForm).Methods("GET")
	r.HandleFunc("/account/login/", f.httpLogin).Methods("POST")
	r.HandleFunc("/account/logout/", f.httpLogout).Methods("GET", "POST")
	r.HandleFunc("/account/signup/", f.httpSignup).Methods("POST")
	r.HandleFunc("/account/signup/oauth/", f.httpSignupOAuth).Methods("POST")
	r.HandleFunc("/account/signup/confirm/{userid:[0-9]+}/{token}/", f.httpResetPasswordFinish).Methods("POST")
	r.HandleFunc("/account/profile/", f.httpGetProfile).Methods("GET")
	r.HandleFunc("/account/profile/", f.httpUpdateProfile).Methods("POST")
	r.HandleFunc("/account/changepassword/", f.httpChangePassword).Methods("POST")
	r.HandleFunc("/account/reset/", f.httpResetPasswordStart).Methods("POST")
	r.HandleFunc("/account/reset/{userid:[0-9]+}/{token}/", f.httpResetPasswordFinish).Methods("POST")
	r.HandleFunc("/account/email/", f.httpListSecondaryEmails).Methods("GET")
	r.HandleFunc("/account/email/add/", f.httpAddSecondaryEmail).Methods("POST")
	r.HandleFunc("/account/email/confirm/{token}/", f.httpConfirmSecondaryEmail).Methods("GET")
	r.HandleFunc("/account/email/delete/", f.httpDeleteSecondaryEmail).Methods("POST")

	r.HandleFunc("/docs/", f.httpDocVersions).Methods("GET")
	r.HandleFunc("/docs/manuals/", f.httpDocsManualsRedirect).Methods("GET")
	r.HandleFunc("/docs/manuals/archive/", f.httpDocArchive).Methods("GET")
	r.HandleFunc("/docs/comment/", f.httpDocComment).Methods("POST")
	r.HandleFunc("/docs/release/", f.httpRelnotesIndex).Methods("GET")
	r.HandleFunc("/docs/release/{major}/", f.httpRelnotesMajor).Methods("GET")
	r.HandleFunc("/docs/release/{major}/{minor}/", f.httpRelnotesSingle).Methods("GET")
	r.HandleFunc("/docs/{version}/files/{filename:[^/]+\\.svg}", f.httpDocSVG).Methods("GET")
	r.HandleFunc("/docs/{version}/static/{path:.*}", f.httpDocLegacyRedirect).Methods("GET")
	r.HandleFunc("/docs/{version}/interactive/{path:.*}", f.httpDocLegacyRedirect).Methods("GET")
	r.HandleFunc("/docs/{version}/", f.httpDocPage).Methods("GET")
	r.HandleFunc("/docs/{version}/{filename}", f.httpDocPage).Methods("GET")

	r.HandleFunc("/ping", f.httpPing).Methods("GET")

	f.Router = r
	return f
}

// ListenAndServe runs the frontend until the listener fails.
func (f *HttpFrontend) ListenAndServe(config *ConfigHTTP) error {
	addr := fmt.Sprintf("%v:%v", config.Bind, config.Port)
	f.Central.Log.Infof("http frontend listening on %v", addr)
	server := &http.Server{
		Addr:        addr,
		Handler:     f.Router,
		ReadTimeout: 30 * time.Second,
	}
	return server.ListenAndServe()
}

func httpSendTxt(w http.ResponseWriter, responseCode int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(responseCode)
	fmt.Fprint(w, message)
}

// httpSendError maps our error prefixes onto HTTP status codes.
func httpSendError(w http.ResponseWriter, err error) {
	msg := err.Error()
	code := http.StatusInternalServerError
	for _, notFound := range []error{ErrSiteNotFound, ErrVersionNotFound, ErrPageNotFound} {
		if strings.HasPrefix(msg, notFound.Error()) {
			code = http.StatusNotFound
		}
	}
	for _, forbidden := range []error{ErrIdentityAuthNotFound, ErrInvalidPassword, ErrInvalidSessionToken, ErrInvalidPasswordToken, ErrPasswordTokenExpired, ErrOAuthAccountNoPassword} {
		if strings.HasPrefix(msg, forbidden.Error()) {
			code = http.StatusForbidden
		}
	}
	for _, conflict := range []error{ErrIdentityExists, ErrEmailExists} {
		if strings.HasPrefix(msg, conflict.Error()) {
			code = http.StatusConflict
		}
	}
	for _, badRequest := range []error{ErrIdentityEmpty, ErrEmailNotConfirmed, ErrOAuthSessionIncomplete} {
		if strings.HasPrefix(msg, badRequest.Error()) {
			code = http.StatusBadRequest
		}
	}
	httpSendTxt(w, code, msg)
}

// getToken returns the session token of the request, or nil if the request
// carries no valid session.
func (f *HttpFrontend) getToken(r *http.Request) *Token {
	cookie, err := r.Cookie(f.cookieName)
	if err != nil {
		return nil
	}
	token, err := f.Central.GetTokenFromSession(cookie.Value)
	if err != nil {
		return nil
	}
	return token
}

func (f *HttpFrontend) setSessionCookie(w http.ResponseWriter, sessionkey string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     f.cookieName,
		Value:    sessionkey,
		Path:     "/",
		Expires:  expires,
		Secure:   f.cookieSecure,
		HttpOnly: true,
	})
}

// requireLogin resolves the session or, failing that, sends the visitor to
// the login form with a path back to where they were going. Returns nil if
// the redirect was written.
func (f *HttpFrontend) requireLogin(w http.ResponseWriter, r *http.Request, next string) *Token {
	token := f.getToken(r)
	if token == nil {
		http.Redirect(w, r, "/account/login/?next="+url.QueryEscape(next), http.StatusFound)
		return nil
	}
	return token
}

// safeNext only accepts site-absolute redirect targets, so that a crafted
// link can never bounce a visitor off-site through us.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") {
		return next
	}
	return "/"
}

func siteIdFromRequest(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["siteid"])
	return id
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Community auth

func (f *HttpFrontend) httpCommunityAuthHandoff(w http.ResponseWriter, r *http.Request) {
	siteId := siteIdFromRequest(r)
	data, param := ParseHandoffState(r.URL.Query())
	token := f.requireLogin(w, r, HandoffURL(siteId, data, param))
	if token == nil {
		return
	}
	result, err := f.Central.CommunityAuthHandoff(token.UserId, siteId, data, param)
	if err != nil {
		httpSendError(w, err)
		return
	}
	switch result.Outcome {
	case HandoffOK, HandoffConsentRequired:
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	case HandoffMissingNames:
		f.Central.Renderer.Render(w, http.StatusOK, "auth/nameerror", map[string]interface{}{
			"site": result.Site.Name,
		})
	case HandoffCooloff:
		f.Central.Renderer.Render(w, http.StatusOK, "auth/cooloff", map[string]interface{}{
			"site":    result.Site.Name,
			"cooloff": result.Site.CooloffHours,
		})
	}
}

func (f *HttpFrontend) httpCommunityAuthLogout(w http.ResponseWriter, r *http.Request) {
	location, err := f.Central.CommunityAuthLogoutURL(siteIdFromRequest(r))
	if err != nil {
		httpSendError(w, err)
		return
	}
	if cookie, err := r.Cookie(f.cookieName); err == nil {
		f.Central.Logout(cookie.Value)
		f.setSessionCookie(w, "", time.Unix(0, 0))
	}
	http.Redirect(w, r, location, http.StatusFound)
}

func (f *HttpFrontend) httpCommunityAuthConsentForm(w http.ResponseWriter, r *http.Request) {
	siteId := siteIdFromRequest(r)
	next := safeNext(r.URL.Query().Get("next"))
	if token := f.requireLogin(w, r, fmt.Sprintf("/auth/%v/consent/?next=%v", siteId, url.QueryEscape(next))); token == nil {
		return
	}
	site, err := f.Central.siteDB.GetSite(siteId)
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "auth/consent", map[string]interface{}{
		"site": site.Name,
		"org":  site.OrgName,
		"next": next,
	})
}

func (f *HttpFrontend) httpCommunityAuthConsentGrant(w http.ResponseWriter, r *http.Request) {
	siteId := siteIdFromRequest(r)
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	if _, err := f.Central.GrantConsent(token.UserId, siteId); err != nil {
		httpSendError(w, err)
		return
	}
	http.Redirect(w, r, safeNext(r.FormValue("next")), http.StatusFound)
}

func (f *HttpFrontend) httpCommunityAuthSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	terms := UserSearchTerms{
		ExactUsername: query.Get("u"),
		Substring:     query.Get("s"),
		Email:         query.Get("e"),
		Name:          query.Get("n"),
	}
	body, err := f.Central.CommunityAuthSearch(siteIdFromRequest(r), terms)
	if err != nil {
		httpSendError(w, err)
		return
	}
	httpSendTxt(w, http.StatusOK, body)
}

func (f *HttpFrontend) httpCommunityAuthKeys(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := strings.Trim(mux.Vars(r)["since"], "/"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpSendTxt(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = time.Unix(seconds, 0)
	}
	body, err := f.Central.CommunityAuthKeys(siteIdFromRequest(r), since)
	if err != nil {
		httpSendError(w, err)
		return
	}
	httpSendTxt(w, http.StatusOK, body)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Accounts

func (f *HttpFrontend) httpLoginForm(w http.ResponseWriter, r *http.Request) {
	f.Central.Renderer.Render(w, http.StatusOK, "account/login", map[string]interface{}{
		"next": safeNext(r.URL.Query().Get("next")),
	})
}

func (f *HttpFrontend) httpLogin(w http.ResponseWriter, r *http.Request) {
	sessionkey, token, err := f.Central.Login(r.FormValue("identity"), r.FormValue("password"))
	if err != nil {
		if strings.HasPrefix(err.Error(), ErrInvalidPassword.Error()) || strings.HasPrefix(err.Error(), ErrIdentityAuthNotFound.Error()) {
			// Show the form again, keeping the destination the visitor
			// was headed to.
			f.Central.Renderer.Render(w, http.StatusForbidden, "account/login", map[string]interface{}{
				"next":  safeNext(r.FormValue("next")),
				"error": "incorrect username or password",
			})
			return
		}
		httpSendError(w, err)
		return
	}
	f.setSessionCookie(w, sessionkey, token.Expires)
	http.Redirect(w, r, safeNext(r.FormValue("next")), http.StatusFound)
}

func (f *HttpFrontend) httpLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(f.cookieName); err == nil {
		f.Central.Logout(cookie.Value)
	}
	f.setSessionCookie(w, "", time.Unix(0, 0))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (f *HttpFrontend) httpSignup(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	if username == "" {
		suggested, err := f.Central.SuggestUsername(r.FormValue("firstname"), r.FormValue("lastname"))
		if err != nil {
			httpSendError(w, err)
			return
		}
		username = suggested
	}
	userId, err := f.Central.Signup(username, r.FormValue("email"), r.FormValue("firstname"), r.FormValue("lastname"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "account/signupcomplete", map[string]interface{}{
		"userid":   userId,
		"username": username,
	})
}

// httpSignupOAuth completes an externally authenticated signup. The provider
// integration in front of us posts the verified profile fields here.
func (f *HttpFrontend) httpSignupOAuth(w http.ResponseWriter, r *http.Request) {
	user, err := f.Central.SignupOAuth(r.FormValue("email"), r.FormValue("firstname"), r.FormValue("lastname"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	sessionkey, token, err := f.Central.CreateSession(user)
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.setSessionCookie(w, sessionkey, token.Expires)
	http.Redirect(w, r, safeNext(r.FormValue("next")), http.StatusFound)
}

func (f *HttpFrontend) httpGetProfile(w http.ResponseWriter, r *http.Request) {
	token := f.requireLogin(w, r, "/account/profile/")
	if token == nil {
		return
	}
	user, err := f.Central.GetUserFromUserId(token.UserId)
	if err != nil {
		httpSendError(w, err)
		return
	}
	profile, err := f.Central.GetProfile(token.UserId)
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "account/profile", map[string]interface{}{
		"username":  user.Username,
		"email":     user.Email,
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
		"sshkey":    profile.SSHKey,
	})
}

func (f *HttpFrontend) httpUpdateProfile(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	err := f.Central.UpdateAccount(token.UserId, r.FormValue("firstname"), r.FormValue("lastname"), r.FormValue("email"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	if sshkey, present := r.Form["sshkey"]; present {
		profile, err := f.Central.GetProfile(token.UserId)
		if err != nil {
			httpSendError(w, err)
			return
		}
		profile.SSHKey = strings.Join(sshkey, "\n")
		if err := f.Central.UpdateProfile(profile); err != nil {
			httpSendError(w, err)
			return
		}
	}
	http.Redirect(w, r, "/account/profile/", http.StatusFound)
}

func (f *HttpFrontend) httpChangePassword(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	err := f.Central.ChangePassword(token.UserId, r.FormValue("oldpassword"), r.FormValue("newpassword"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	// The change killed this session together with all the others
	f.setSessionCookie(w, "", time.Unix(0, 0))
	httpSendTxt(w, http.StatusOK, "")
}

func (f *HttpFrontend) httpResetPasswordStart(w http.ResponseWriter, r *http.Request) {
	if err := f.Central.ResetPasswordStart(r.FormValue("email")); err != nil {
		httpSendError(w, err)
		return
	}
	// Same response whether or not the address exists
	f.Central.Renderer.Render(w, http.StatusOK, "account/resetsent", nil)
}

func (f *HttpFrontend) httpResetPasswordFinish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userId, _ := strconv.ParseInt(vars["userid"], 10, 64)
	err := f.Central.ResetPasswordFinish(UserId(userId), vars["token"], r.FormValue("password"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	httpSendTxt(w, http.StatusOK, "")
}

func (f *HttpFrontend) httpListSecondaryEmails(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	emails, err := f.Central.GetSecondaryEmails(token.UserId)
	if err != nil {
		httpSendError(w, err)
		return
	}
	out := []map[string]interface{}{}
	for _, se := range emails {
		out = append(out, map[string]interface{}{"email": se.Email, "confirmed": se.Confirmed})
	}
	f.Central.Renderer.Render(w, http.StatusOK, "account/emails", out)
}

func (f *HttpFrontend) httpAddSecondaryEmail(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	if err := f.Central.AddSecondaryEmail(token.UserId, r.FormValue("email")); err != nil {
		httpSendError(w, err)
		return
	}
	httpSendTxt(w, http.StatusOK, "")
}

func (f *HttpFrontend) httpConfirmSecondaryEmail(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	if err := f.Central.ConfirmSecondaryEmail(token.UserId, mux.Vars(r)["token"]); err != nil {
		httpSendError(w, err)
		return
	}
	http.Redirect(w, r, "/account/email/", http.StatusFound)
}

func (f *HttpFrontend) httpDeleteSecondaryEmail(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	if err := f.Central.DeleteSecondaryEmail(token.UserId, r.FormValue("email")); err != nil {
		httpSendError(w, err)
		return
	}
	http.Redirect(w, r, "/account/email/", http.StatusFound)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Documentation

func (f *HttpFrontend) httpDocVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := f.Central.ListVersions()
	if err != nil {
		httpSendError(w, err)
		return
	}
	out := []map[string]interface{}{}
	for i := range versions {
		v := &versions[i]
		if !v.Supported && v.Testing == 0 {
			continue
		}
		out = append(out, map[string]interface{}{
			"tree":      v.Tree.String(),
			"version":   v.NumVersion(),
			"current":   v.Current,
			"supported": v.Supported,
			"pdf_a4":    v.PDFFileSize(f.Central.StaticCheckout, "A4"),
			"pdf_us":    v.PDFFileSize(f.Central.StaticCheckout, "US"),
		})
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/versions", out)
}

// httpDocArchive lists the branches that have reached end of life. The root
// page of an old manual moved around over the years, so each entry carries
// the filename its tree was published under.
func (f *HttpFrontend) httpDocArchive(w http.ResponseWriter, r *http.Request) {
	versions, err := f.Central.ListVersions()
	if err != nil {
		httpSendError(w, err)
		return
	}
	out := []map[string]interface{}{}
	for i := range versions {
		v := &versions[i]
		if v.Supported || v.Testing > 0 || v.Tree.IsDevel() {
			continue
		}
		out = append(out, map[string]interface{}{
			"tree":    v.Tree.String(),
			"version": v.NumVersion(),
			"root":    v.Tree.rootFilename(),
			"pdf_a4":  v.PDFFileSize(f.Central.StaticCheckout, "A4"),
			"pdf_us":  v.PDFFileSize(f.Central.StaticCheckout, "US"),
		})
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/archive", out)
}

func (f *HttpFrontend) httpDocComment(w http.ResponseWriter, r *http.Request) {
	token := f.getToken(r)
	if token == nil {
		httpSendTxt(w, http.StatusForbidden, ErrInvalidSessionToken.Error())
		return
	}
	user, err := f.Central.GetUserFromUserId(token.UserId)
	if err != nil {
		httpSendError(w, err)
		return
	}
	err = f.Central.SubmitDocComment(&user, r.FormValue("version"), r.FormValue("page"), r.FormValue("shortdesc"), r.FormValue("details"))
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/commentsent", nil)
}

func (f *HttpFrontend) httpDocsManualsRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
}

// The static/ and interactive/ path components date back to when the docs
// existed in two renderings. Old links still come in.
func (f *HttpFrontend) httpDocLegacyRedirect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	http.Redirect(w, r, fmt.Sprintf("/docs/%v/%v", vars["version"], vars["path"]), http.StatusMovedPermanently)
}

func (f *HttpFrontend) httpDocSVG(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	page, err := f.Central.DocSVG(vars["version"], "files/"+vars["filename"])
	if err != nil {
		httpSendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	fmt.Fprint(w, page.Content)
}

func (f *HttpFrontend) httpDocPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := f.Central.ResolveDocPage(vars["version"], vars["filename"])
	if err != nil {
		httpSendError(w, err)
		return
	}
	if result.Outcome == DocPageMoved {
		http.Redirect(w, r, result.Location, http.StatusMovedPermanently)
		return
	}
	if len(result.XKeys) != 0 {
		w.Header().Set("xkey", strings.Join(result.XKeys, " "))
	}
	if result.Outcome == DocPageMissing {
		f.Central.Renderer.Render(w, http.StatusNotFound, "docs/404", map[string]interface{}{
			"version": result.DisplayVersion,
		})
		return
	}
	sidebar := []map[string]interface{}{}
	for _, pv := range result.Sidebar {
		sidebar = append(sidebar, map[string]interface{}{
			"version":   pv.Tree.String(),
			"file":      pv.File,
			"supported": pv.Supported,
			"current":   pv.Current,
		})
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/page", map[string]interface{}{
		"version":   result.DisplayVersion,
		"canonical": result.CanonicalVersion,
		"title":     result.Page.Title,
		"content":   result.Page.Content,
		"sidebar":   sidebar,
	})
}

func (f *HttpFrontend) httpRelnotesIndex(w http.ResponseWriter, r *http.Request) {
	majors, err := f.Central.ReleaseNoteMajors()
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/relnotes", majors)
}

func (f *HttpFrontend) httpRelnotesMajor(w http.ResponseWriter, r *http.Request) {
	major, _ := NormalizeReleaseVersion(mux.Vars(r)["major"], "")
	notes, err := f.Central.ReleaseNotesForMajor(major)
	if err != nil {
		httpSendError(w, err)
		return
	}
	if len(notes) == 0 {
		httpSendTxt(w, http.StatusNotFound, ErrPageNotFound.Error())
		return
	}
	out := []map[string]interface{}{}
	for _, note := range notes {
		out = append(out, map[string]interface{}{
			"version": releaseVersionString(note.Major, note.Minor),
			"minor":   note.Minor,
		})
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/relnotesmajor", map[string]interface{}{
		"major":    major,
		"releases": out,
	})
}

func (f *HttpFrontend) httpRelnotesSingle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	major, minor := NormalizeReleaseVersion(vars["major"], vars["minor"])
	note, err := f.Central.GetReleaseNote(major, minor)
	if err != nil {
		httpSendError(w, err)
		return
	}
	f.Central.Renderer.Render(w, http.StatusOK, "docs/relnote", map[string]interface{}{
		"version": releaseVersionString(note.Major, note.Minor),
		"content": note.Content,
		"prev":    note.PrevMinor,
		"next":    note.NextMinor,
	})
}

func (f *HttpFrontend) httpPing(w http.ResponseWriter, r *http.Request) {
	httpSendTxt(w, http.StatusOK, fmt.Sprintf(`{"Timestamp": %v}`, time.Now().Unix()))
}
