/*
Package commhub is the web backend for a community website: account management,
a community authentication (single sign-on) broker for partner sites, and the
documentation browsing/versioning subsystem.

Commhub brings together the following pluggable components:

	User Store		Accounts, secondary email addresses, profiles, passwords.
	Session Database	This stores login tokens. In other words, this is where the cookies go.
	Site Database		Registered partner sites, consent records, per-site login counters.
	Doc Store		Documentation pages, version trees, release notes.

Each component has a Postgres implementation and an in-memory one used by the tests.

Concepts

A community auth handoff is a browser redirect dance: a partner site sends the
user here with an opaque payload, we authenticate them against our own account
database, and send them back with an encrypted record of who they are. Every
payload that leaves this system towards a partner is encrypted with that
partner's pre-shared AES key, under a fresh random IV.

A Token is the result of a successful authentication. It stores the identity of
a user, an expiry date, and the user id. A token will usually be retrieved by a
session key carried in a cookie.

The session database does not need to be particularly performant, since commhub
maintains an in-process cache of session tokens.

Template rendering and outgoing email are capabilities of the surrounding
deployment, injected through the Renderer and Mailer interfaces.
*/
package commhub
