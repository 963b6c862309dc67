package commhub

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	usernameMaxLength      = 30
	passwordResetValidity  = 3 * 24 * time.Hour
	randomPasswordLength   = 20
	randomPasswordCorpus   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	secondaryEmailSubject  = "Confirm your additional email address"
	passwordResetSubject   = "Password reset request"
	signupConfirmSubject   = "Complete your account registration"
	oauthResetMailTemplate = "This account signs in through a third party provider, and has no password here.\n" +
		"To change the way you sign in, visit your provider."
)

// SuggestUsername builds a username from the person's name. It tries the
// natural combinations first, then starts appending digits. Every candidate
// is lowercased and truncated to the username length limit.
func (x *Central) SuggestUsername(firstname, lastname string) (string, error) {
	first := usernameFragment(firstname)
	last := usernameFragment(lastname)
	if first == "" || last == "" {
		return "", ErrIdentityEmpty
	}
	candidates := []string{
		truncateUsername(first + last[:1]),
		truncateUsername(first[:1] + last),
	}
	for n := 0; n < 100; n++ {
		candidates = append(candidates, truncateUsername(fmt.Sprintf("%v%v%v", first, last[:1], n)))
	}
	for _, c := range candidates {
		exists, err := x.userStore.UsernameExists(c)
		if err != nil {
			return "", err
		}
		if !exists {
			return c, nil
		}
	}
	return "", NewError(ErrIdentityExists, "no free username could be derived from the name")
}

func usernameFragment(s string) string {
	clean := []rune{}
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			clean = append(clean, c)
		}
	}
	return string(clean)
}

func truncateUsername(s string) string {
	if len(s) > usernameMaxLength {
		return s[:usernameMaxLength]
	}
	return s
}

// Signup creates a new account with a random password, and mails the address
// a token with which the password can be set. The account is unusable until
// that happens.
func (x *Central) Signup(username, email, firstname, lastname string) (UserId, error) {
	user := &AuthUser{
		Username:  username,
		Email:     email,
		Firstname: firstname,
		Lastname:  lastname,
	}
	userId, err := x.userStore.CreateIdentity(user, RandomString(randomPasswordLength, randomPasswordCorpus))
	if err != nil {
		return NullUserId, err
	}
	token, err := x.userStore.ResetPasswordStart(userId, time.Now().Add(passwordResetValidity))
	if err != nil {
		return NullUserId, err
	}
	body := fmt.Sprintf("Welcome %v.\nVisit /account/signup/confirm/%v/%v/ to choose a password and activate your account.", firstname, userId, token)
	if err := x.Mailer.Send(x.MailFrom, user.Email, signupConfirmSubject, body); err != nil {
		x.Log.Errorf("Signup mail to %v failed (%v)", user.Email, err)
		return NullUserId, err
	}
	x.Log.Infof("Account %v created for %v", userId, user.Email)
	return userId, nil
}

// SignupOAuth creates an account from the profile that an OAuth provider gave
// us. The provider must supply email, first name, and last name; if any of
// them is missing there is nothing sensible we can do, so the signin fails
// outright.
func (x *Central) SignupOAuth(email, firstname, lastname string) (*AuthUser, error) {
	if email == "" || firstname == "" || lastname == "" {
		return nil, NewError(ErrOAuthSessionIncomplete, fmt.Sprintf("email=%q first=%q last=%q", email, firstname, lastname))
	}
	username, err := x.SuggestUsername(firstname, lastname)
	if err != nil {
		return nil, err
	}
	user := &AuthUser{
		Username:  username,
		Email:     email,
		Firstname: firstname,
		Lastname:  lastname,
		OAuthOnly: true,
	}
	if _, err := x.userStore.CreateOAuthIdentity(user); err != nil {
		return nil, err
	}
	x.Log.Infof("OAuth account %v created for %v", user.UserId, user.Email)
	return user, nil
}

// UpdateAccount rewrites the name fields and, if the primary email changed,
// performs the primary email flip: the new primary must be one of the
// account's confirmed secondary emails, the old primary becomes a confirmed
// secondary, and the secondary row of the new primary disappears.
func (x *Central) UpdateAccount(userId UserId, firstname, lastname, primaryEmail string) error {
	x.emailLock.Lock()
	defer x.emailLock.Unlock()

	before, err := x.userStore.GetUserFromUserId(userId)
	if err != nil {
		return err
	}
	primaryEmail = CanonicalizeIdentity(primaryEmail)
	if primaryEmail != "" && primaryEmail != before.Email {
		if before.OAuthOnly {
			// The provider owns the address this account signs in with
			return NewError(ErrOAuthAccountNoPassword, "primary email is managed by the signin provider")
		}
		if err := x.userStore.PromotePrimaryEmail(userId, primaryEmail); err != nil {
			return err
		}
	}
	after := *before
	after.Firstname = firstname
	after.Lastname = lastname
	if primaryEmail != "" {
		after.Email = primaryEmail
	}
	if err := x.userStore.UpdateIdentity(&after); err != nil {
		return err
	}
	x.auditChange(before.Username, "account update", before, &after)
	return nil
}

// UpdateProfile replaces the account's profile fields.
func (x *Central) UpdateProfile(profile *UserProfile) error {
	before, err := x.userStore.GetProfile(profile.UserId)
	if err != nil {
		return err
	}
	if err := x.userStore.SetProfile(profile); err != nil {
		return err
	}
	x.auditChange(fmt.Sprintf("%v", profile.UserId), "profile update", before, profile)
	return nil
}

// GetProfile returns the account's profile, which may be an empty one.
func (x *Central) GetProfile(userId UserId) (*UserProfile, error) {
	return x.userStore.GetProfile(userId)
}

// ChangePassword verifies the old password and replaces it, then kills every
// session of the account.
func (x *Central) ChangePassword(userId UserId, oldPassword, newPassword string) error {
	user, err := x.userStore.GetUserFromUserId(userId)
	if err != nil {
		return err
	}
	if _, err := x.userStore.Authenticate(user.getIdentity(), oldPassword); err != nil {
		return err
	}
	if err := x.userStore.SetPassword(userId, newPassword); err != nil {
		return err
	}
	x.Log.Infof("Password changed for %v", userId)
	return x.sessionDB.InvalidateSessionsForIdentity(userId)
}

// ResetPasswordStart mails a reset token to the given address. To avoid
// confirming which addresses hold accounts, an unknown address is not an
// error; we simply log it and mail nothing.
func (x *Central) ResetPasswordStart(email string) error {
	user, err := x.userStore.GetUserFromIdentity(email)
	if err != nil {
		x.Log.Infof("Password reset for unknown address (%v)", email)
		return nil
	}
	token, err := x.userStore.ResetPasswordStart(user.UserId, time.Now().Add(passwordResetValidity))
	if err != nil {
		if strings.HasPrefix(err.Error(), ErrOAuthAccountNoPassword.Error()) {
			// Tell the owner where their password actually lives
			return x.Mailer.Send(x.MailFrom, user.Email, passwordResetSubject, oauthResetMailTemplate)
		}
		return err
	}
	body := fmt.Sprintf("Visit /account/reset/%v/%v/ to choose a new password.", user.UserId, token)
	if err := x.Mailer.Send(x.MailFrom, user.Email, passwordResetSubject, body); err != nil {
		x.Log.Errorf("Password reset mail to %v failed (%v)", user.Email, err)
		return err
	}
	x.Log.Infof("Password reset started for %v", user.UserId)
	return nil
}

// ResetPasswordFinish consumes a reset token, sets the new password, and
// kills every session of the account.
func (x *Central) ResetPasswordFinish(userId UserId, token, newPassword string) error {
	if err := x.userStore.ResetPasswordFinish(userId, token, newPassword); err != nil {
		x.Log.Errorf("Password reset failed for %v (%v)", userId, err)
		return err
	}
	x.Log.Infof("Password reset completed for %v", userId)
	return x.sessionDB.InvalidateSessionsForIdentity(userId)
}

// GetSecondaryEmails returns all secondary emails of the account, confirmed
// or not.
func (x *Central) GetSecondaryEmails(userId UserId) ([]SecondaryEmail, error) {
	return x.userStore.GetSecondaryEmails(userId)
}

// AddSecondaryEmail attaches an unconfirmed secondary email and mails a
// confirmation token to it.
func (x *Central) AddSecondaryEmail(userId UserId, email string) error {
	x.emailLock.Lock()
	defer x.emailLock.Unlock()
	token := uuid.New().String()
	if err := x.userStore.AddSecondaryEmail(userId, email, false, token); err != nil {
		return err
	}
	body := fmt.Sprintf("Visit /account/email/confirm/%v/ to confirm this address.", token)
	return x.Mailer.Send(x.MailFrom, email, secondaryEmailSubject, body)
}

// ConfirmSecondaryEmail consumes the confirmation token of a pending
// secondary email.
func (x *Central) ConfirmSecondaryEmail(userId UserId, token string) error {
	return x.userStore.ConfirmSecondaryEmail(userId, token)
}

// DeleteSecondaryEmail detaches a secondary email from the account.
func (x *Central) DeleteSecondaryEmail(userId UserId, email string) error {
	x.emailLock.Lock()
	defer x.emailLock.Unlock()
	return x.userStore.DeleteSecondaryEmail(userId, email)
}
