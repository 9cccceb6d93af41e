package auth

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestLookupTokenRejectsExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "uid", "token", "expiry", "scope"}).
		AddRow("laptop", int64(7), "tok123", time.Now().Add(-time.Hour), "full")
	mock.ExpectQuery(`SELECT name, uid, token, expiry, scope FROM users_tokens`).
		WithArgs("tok123").WillReturnRows(rows)

	d := NewDirectory(db)
	_, err = d.LookupToken(context.Background(), "tok123")
	require.Error(t, err)
}

func TestIdentityResolvesTokenAndUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tokenRows := sqlmock.NewRows([]string{"name", "uid", "token", "expiry", "scope"}).
		AddRow("laptop", int64(7), "tok123", time.Now().Add(time.Hour), "full")
	mock.ExpectQuery(`SELECT name, uid, token, expiry, scope FROM users_tokens`).
		WithArgs("tok123").WillReturnRows(tokenRows)

	userRows := sqlmock.NewRows([]string{"id", "username", "email", "access"}).
		AddRow(int64(7), "ana", "ana@example.com", "admin")
	mock.ExpectQuery(`SELECT id, username, email, access FROM users`).
		WithArgs(int64(7)).WillReturnRows(userRows)

	d := NewDirectory(db)
	id, err := d.Identity(context.Background(), "tok123")
	require.NoError(t, err)
	require.True(t, id.Authenticated)
	require.Equal(t, int64(7), id.UID)
	require.Equal(t, AccessAdmin, id.Access)
	require.Equal(t, TokenFull, id.TokenScope)
}
