package api

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/mapbox/hecate-go/internal/auth"
	"github.com/mapbox/hecate-go/internal/errs"
)

// webhook is the Webhook entity as exposed over the API.
type webhook struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
	URL     string   `json:"url"`
	Secret  string   `json:"secret,omitempty"`
}

var validActions = map[string]bool{"delta": true, "user": true, "meta": true, "style": true}

func validateActions(actions []string) error {
	if len(actions) == 0 {
		return errs.New(errs.BadRequest, "actions must be non-empty")
	}
	for _, a := range actions {
		if !validActions[a] {
			return errs.New(errs.BadRequest, "Invalid action "+a)
		}
	}
	return nil
}

// randomSecret generates a cryptographically random secret of the given
// length "secret (30-char random if absent)".
func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(buf)
	if len(s) > n {
		s = s[:n]
	}
	return s, nil
}

// ListWebhooks implements `GET /api/webhooks`.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "webhooks::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.Store.Read().QueryContext(r.Context(), `SELECT id, name, actions, url FROM webhooks ORDER BY id`)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	defer rows.Close()

	var hooks []webhook
	for rows.Next() {
		var hk webhook
		var actions pq.StringArray
		if err := rows.Scan(&hk.ID, &hk.Name, &actions, &hk.URL); err != nil {
			writeError(w, errs.Database(err))
			return
		}
		hk.Actions = []string(actions)
		hooks = append(hooks, hk)
	}
	writeJSON(w, http.StatusOK, hooks)
}

// GetWebhook implements `GET /api/webhooks/{id}`.
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "webhooks::read", auth.RWRead); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid webhook id"))
		return
	}
	var hk webhook
	var actions pq.StringArray
	err = h.Store.Read().QueryRowContext(r.Context(), `SELECT id, name, actions, url FROM webhooks WHERE id = $1`, id).
		Scan(&hk.ID, &hk.Name, &actions, &hk.URL)
	if err == sql.ErrNoRows {
		writeError(w, errs.New(errs.NotFound, "Webhook not found"))
		return
	}
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	hk.Actions = []string(actions)
	writeJSON(w, http.StatusOK, hk)
}

// CreateWebhook implements `POST /api/webhooks`.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "webhooks::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	var body webhook
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" || body.URL == "" {
		writeError(w, errs.New(errs.BadRequest, "name and url are required"))
		return
	}
	if err := validateActions(body.Actions); err != nil {
		writeError(w, err)
		return
	}
	if body.Secret == "" {
		secret, err := randomSecret(30)
		if err != nil {
			writeError(w, errs.Wrap(errs.Internal, "Failed to generate secret", err))
			return
		}
		body.Secret = secret
	}

	err := h.Store.Write.QueryRowContext(r.Context(), `
		INSERT INTO webhooks (name, actions, url, secret) VALUES ($1, $2, $3, $4) RETURNING id`,
		body.Name, pq.StringArray(body.Actions), body.URL, body.Secret).Scan(&body.ID)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// UpdateWebhook implements `PUT /api/webhooks/{id}`.
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "webhooks::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid webhook id"))
		return
	}
	var body webhook
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := validateActions(body.Actions); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Store.Write.ExecContext(r.Context(), `
		UPDATE webhooks SET name = $1, actions = $2, url = $3 WHERE id = $4`,
		body.Name, pq.StringArray(body.Actions), body.URL, id)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, errs.New(errs.NotFound, "Webhook not found"))
		return
	}
	body.ID = id
	writeJSON(w, http.StatusOK, body)
}

// DeleteWebhook implements `DELETE /api/webhooks/{id}`.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.requireScope(r, "webhooks::write", auth.RWFull); err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errs.New(errs.BadRequest, "Invalid webhook id"))
		return
	}
	res, err := h.Store.Write.ExecContext(r.Context(), `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		writeError(w, errs.Database(err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, errs.New(errs.NotFound, "Webhook not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
