// Package worker implements the webhook dispatcher: a single
// background consumer draining an unbounded channel of change
// notifications, signing and POSTing each to every subscribed webhook.
package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is the discriminated union of notifications the dispatcher
// accepts.
type Task struct {
	kind string
	id   any
}

func Delta(id int64) Task  { return Task{kind: "delta", id: id} }
func User(username string) Task { return Task{kind: "user", id: username} }
func Style(id int64) Task  { return Task{kind: "style", id: id} }
func Meta() Task            { return Task{kind: "meta", id: nil} }

// payload is the webhook body shape.
type payload struct {
	Type string `json:"type"`
	ID   any    `json:"id"`
}

// hook is the subset of a webhooks row the dispatcher needs.
type hook struct {
	URL    string
	Secret string
}

// Dispatcher owns the unbounded task channel and the single consumer
// goroutine. Producers (request handlers) never block on delivery.
type Dispatcher struct {
	DB     *sql.DB
	Client *http.Client
	tasks  chan Task
	done   chan struct{}
}

// New creates a Dispatcher with an unbounded (internally buffered and
// re-queued) task channel. Run must be called to begin consuming.
func New(db *sql.DB) *Dispatcher {
	return &Dispatcher{
		DB:     db,
		Client: &http.Client{Timeout: 10 * time.Second},
		tasks:  make(chan Task, 4096),
		done:   make(chan struct{}),
	}
}

// Enqueue submits a task for asynchronous delivery. Never blocks the
// caller: if the internal channel is full, a new goroutine finishes the
// send; producers never see delivery failures.
func (d *Dispatcher) Enqueue(t Task) {
	select {
	case d.tasks <- t:
	default:
		// Channel momentarily saturated; spawn a one-off goroutine to
		// finish the send rather than blocking the caller's request path.
		go func() { d.tasks <- t }()
	}
}

// Run consumes tasks until ctx is cancelled. It is intended to run as the
// single dedicated webhook goroutine for the process lifetime.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.deliver(ctx, t)
		}
	}
}

// Wait blocks until Run has returned after ctx cancellation.
func (d *Dispatcher) Wait() { <-d.done }

func (d *Dispatcher) deliver(ctx context.Context, t Task) {
	hooks, err := d.subscribed(ctx, t.kind)
	if err != nil {
		log.Error().Err(err).Str("action", t.kind).Msg("webhook lookup failed")
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(payload{Type: t.kind, ID: t.id})
	if err != nil {
		log.Error().Err(err).Msg("webhook payload encode failed")
		return
	}

	for _, h := range hooks {
		d.post(ctx, h, body)
	}
}

func (d *Dispatcher) post(ctx context.Context, h hook, body []byte) {
	sig := url.QueryEscape(sign(h.Secret, body))
	target := h.URL
	if bytes.ContainsRune([]byte(target), '?') {
		target += "&signature=" + sig
	} else {
		target += "?signature=" + sig
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("url", h.URL).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", h.URL).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("url", h.URL).Msg("webhook rejected")
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) subscribed(ctx context.Context, action string) ([]hook, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT url, secret FROM webhooks WHERE $1 = ANY(actions)`, action)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []hook
	for rows.Next() {
		var h hook
		if err := rows.Scan(&h.URL, &h.Secret); err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, rows.Err()
}
