package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/transport"
	"github.com/jmcleod/ironkey/transport/rest"
)

// maxBodyBytes bounds request bodies; a master-password change carries the
// whole vault.
const maxBodyBytes = 32 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func rateLimitKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// GetKdfParams handles GET /auth/kdf?username=.
func (a *API) GetKdfParams(w http.ResponseWriter, r *http.Request) {
	params, err := a.backend.KdfParams(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req rest.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tokens, err := a.backend.Register(r.Context(), transport.RegisterRequest{
		Username:  req.Username,
		Email:     req.Email,
		AuthHash:  req.AuthHash,
		KdfParams: req.KdfParams,
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditRegister, r, rateLimitKey(req.Username))
	writeJSON(w, http.StatusCreated, tokens)
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req rest.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := rateLimitKey(req.Username)
	if blocked, retryAfter := a.rateLimiter.check(key); blocked {
		a.audit.log(AuditLoginRateLimited, r, key)
		writeRateLimited(w, retryAfter)
		return
	}

	tokens, err := a.backend.Login(r.Context(), req.Username, req.AuthHash)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			a.rateLimiter.recordFailure(key)
			a.audit.log(AuditLoginFailure, r, key)
		}
		a.mapError(w, r, err)
		return
	}
	a.rateLimiter.recordSuccess(key)
	a.audit.log(AuditLoginSuccess, r, key)
	writeJSON(w, http.StatusOK, tokens)
}

// UpdateMasterPassword handles PUT /auth/master-password.
func (a *API) UpdateMasterPassword(w http.ResponseWriter, r *http.Request) {
	var req rest.MasterPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	username := usernameFromContext(r.Context())
	tokens, err := a.backend.UpdateMasterPassword(r.Context(), username, transport.MasterPasswordChange{
		OldAuthHash:  req.OldAuthHash,
		NewAuthHash:  req.NewAuthHash,
		NewKdfParams: req.NewKdfParams,
		Entries:      req.Entries,
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditMasterPasswordChanged, r, username, slog.Int("entries", len(req.Entries)))
	writeJSON(w, http.StatusOK, tokens)
}

// ListEntries handles GET /entries.
func (a *API) ListEntries(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())
	recs, err := a.backend.Entries(r.Context(), username)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditEntriesListed, r, username, slog.Int("entries", len(recs)))
	if recs == nil {
		recs = []entry.Record{}
	}
	writeJSON(w, http.StatusOK, rest.EntriesResponse{Entries: recs})
}

// GetEntry handles GET /entries/{entryID}.
func (a *API) GetEntry(w http.ResponseWriter, r *http.Request) {
	rec, err := a.backend.Entry(r.Context(), usernameFromContext(r.Context()), chi.URLParam(r, "entryID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateEntry handles POST /entries.
func (a *API) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var rec entry.Record
	if !decodeJSON(w, r, &rec) {
		return
	}
	username := usernameFromContext(r.Context())
	created, err := a.backend.CreateEntry(r.Context(), username, rec)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditEntryCreated, r, username, slog.String("entry_id", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

// UpdateEntry handles PUT /entries/{entryID}.
func (a *API) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var rec entry.Record
	if !decodeJSON(w, r, &rec) {
		return
	}
	if id := chi.URLParam(r, "entryID"); rec.ID != id {
		writeError(w, http.StatusBadRequest, "entry id does not match path")
		return
	}
	username := usernameFromContext(r.Context())
	updated, err := a.backend.UpdateEntry(r.Context(), username, rec)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditEntryUpdated, r, username, slog.String("entry_id", updated.ID))
	writeJSON(w, http.StatusOK, updated)
}

// DeleteEntry handles DELETE /entries/{entryID}.
func (a *API) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	username, id := usernameFromContext(r.Context()), chi.URLParam(r, "entryID")
	if err := a.backend.DeleteEntry(r.Context(), username, id); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditEntryDeleted, r, username, slog.String("entry_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// LastModified handles GET /vault/last-modified.
func (a *API) LastModified(w http.ResponseWriter, r *http.Request) {
	ts, err := a.backend.LastModified(r.Context(), usernameFromContext(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rest.LastModifiedResponse{LastModified: ts})
}
