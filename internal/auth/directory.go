package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/mapbox/hecate-go/internal/errs"
)

// User mirrors the User entity exposed to request handlers.
type User struct {
	ID       int64
	Username string
	Email    string
	Access   Access
}

// TokenRecord mirrors the Token entity as stored in users_tokens.
type TokenRecord struct {
	Name   string
	UID    int64
	Token  string
	Expiry time.Time
	Scope  TokenScope
}

// Directory is the read-only identity lookup used by request middleware
// to resolve bearer tokens and usernames into an Identity. Create/
// update/delete for users and tokens stay in the administrative layer —
// Directory only ever reads.
type Directory struct {
	DB *sql.DB
}

func NewDirectory(db *sql.DB) *Directory { return &Directory{DB: db} }

// LookupToken resolves an opaque bearer token to its record, rejecting
// expired tokens as NotAuthenticated.
func (d *Directory) LookupToken(ctx context.Context, token string) (*TokenRecord, error) {
	var t TokenRecord
	err := d.DB.QueryRowContext(ctx, `
		SELECT name, uid, token, expiry, scope FROM users_tokens WHERE token = $1`, token).
		Scan(&t.Name, &t.UID, &t.Token, &t.Expiry, &t.Scope)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotAuthenticated, "Invalid token")
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	if time.Now().After(t.Expiry) {
		return nil, errs.New(errs.NotAuthenticated, "Token expired")
	}
	return &t, nil
}

// LookupUser resolves a uid to its user record.
func (d *Directory) LookupUser(ctx context.Context, uid int64) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, username, email, access FROM users WHERE id = $1`, uid).
		Scan(&u.ID, &u.Username, &u.Email, &u.Access)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "User not found")
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	return &u, nil
}

// LookupUsername resolves a username to its user record, used by Basic
// auth where credential verification is delegated to the user store and
// this lookup only attaches the resulting identity.
func (d *Directory) LookupUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, username, email, access FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.Access)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotAuthenticated, "Invalid credentials")
	}
	if err != nil {
		return nil, errs.Database(err)
	}
	return &u, nil
}

// Identity resolves a bearer token straight to a request Identity,
// combining LookupToken and LookupUser as middleware needs them.
func (d *Directory) Identity(ctx context.Context, token string) (Identity, error) {
	t, err := d.LookupToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	u, err := d.LookupUser(ctx, t.UID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Authenticated: true,
		UID:           u.ID,
		Access:        u.Access,
		TokenScope:    t.Scope,
	}, nil
}
