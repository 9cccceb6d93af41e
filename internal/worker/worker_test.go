package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverSignsAndPostsToSubscribedHooks(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = b
		received <- r
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT url, secret FROM webhooks`).
		WithArgs("delta").
		WillReturnRows(sqlmock.NewRows([]string{"url", "secret"}).AddRow(srv.URL, "shh"))

	d := New(db)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	d.Enqueue(Delta(42))

	var req *http.Request
	select {
	case req = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
	cancel()
	d.Wait()

	require.NoError(t, mock.ExpectationsWereMet())

	q, err := url.ParseQuery(req.URL.RawQuery)
	require.NoError(t, err)
	sig := q.Get("signature")
	require.NotEmpty(t, sig)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), sig)

	var p payload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "delta", p.Type)
	assert.EqualValues(t, 42, p.ID)
}

func TestDeliverSkipsWhenNoSubscribers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT url, secret FROM webhooks`).
		WithArgs("meta").
		WillReturnRows(sqlmock.NewRows([]string{"url", "secret"}))

	d := New(db)
	d.deliver(context.Background(), Meta())

	require.NoError(t, mock.ExpectationsWereMet())
}
