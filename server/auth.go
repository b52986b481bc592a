package server

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates credentials and supplies the session's file system.
//
// On success the session adopts the returned FileSystem and becomes
// authenticated for the rest of its life. Return ErrAuthFailed (or any
// error) to refuse the login; the client gets a 530.
type Authenticator interface {
	Authenticate(c *Conn, user, pass string) (FileSystem, error)
}

// AuthenticatorFunc adapts a function to an Authenticator.
type AuthenticatorFunc func(c *Conn, user, pass string) (FileSystem, error)

// Authenticate calls f(c, user, pass).
func (f AuthenticatorFunc) Authenticate(c *Conn, user, pass string) (FileSystem, error) {
	return f(c, user, pass)
}

// PasswordChecker is implemented by authenticators that can log some users in
// with USER alone. When NeedsPassword returns false, USER completes the login
// with an empty password.
type PasswordChecker interface {
	NeedsPassword(c *Conn, user string) bool
}

// Account is a user known to a StaticAuthenticator.
type Account struct {
	Name         string
	PasswordHash string // bcrypt hash, see HashPassword
	Root         string // directory served as "/"
	ReadOnly     bool
}

// StaticAuthenticator checks users against a fixed list of accounts with
// bcrypt password hashes, optionally allowing anonymous logins.
//
//	hash, _ := server.HashPassword("secret")
//	auth := server.NewStaticAuthenticator([]server.Account{
//	    {Name: "bob", PasswordHash: hash, Root: "/srv/ftp/bob"},
//	})
type StaticAuthenticator struct {
	accounts map[string]Account

	anonymousRoot  string
	anonymousWrite bool
}

// StaticOption configures a StaticAuthenticator.
type StaticOption func(*StaticAuthenticator)

// WithAnonymous allows "anonymous" and "ftp" logins rooted at root.
// Anonymous sessions are read-only unless writable is set.
func WithAnonymous(root string, writable bool) StaticOption {
	return func(a *StaticAuthenticator) {
		a.anonymousRoot = root
		a.anonymousWrite = writable
	}
}

// NewStaticAuthenticator returns an authenticator for accounts. Names are
// case-sensitive.
func NewStaticAuthenticator(accounts []Account, opts ...StaticOption) *StaticAuthenticator {
	a := &StaticAuthenticator{accounts: make(map[string]Account, len(accounts))}
	for _, acct := range accounts {
		a.accounts[acct.Name] = acct
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func isAnonymous(user string) bool {
	return strings.EqualFold(user, "anonymous") || strings.EqualFold(user, "ftp")
}

// NeedsPassword is true for every user: anonymous users are asked for an
// e-mail address by convention.
func (a *StaticAuthenticator) NeedsPassword(_ *Conn, _ string) bool {
	return true
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(_ *Conn, user, pass string) (FileSystem, error) {
	if acct, ok := a.accounts[user]; ok {
		if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(pass)); err != nil {
			return nil, ErrAuthFailed
		}
		return openRoot(acct.Root, acct.ReadOnly)
	}

	if a.anonymousRoot != "" && isAnonymous(user) {
		return openRoot(a.anonymousRoot, !a.anonymousWrite)
	}

	// Spend the same time as a real comparison for unknown users.
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(pass))
	return nil, ErrAuthFailed
}

// openRoot keeps a failed open from returning a typed nil FileSystem.
func openRoot(root string, readOnly bool) (FileSystem, error) {
	fs, err := NewNativeFileSystem(root, readOnly)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// dummyHash is compared against for unknown users.
var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("unknown-user"), bcrypt.DefaultCost)
	return hash
})

// HashPassword returns the bcrypt hash of password for use in Account.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
