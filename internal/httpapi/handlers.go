// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// Response messages.
const (
	msgResetRequested = "if an account exists for that email, a password reset link has been sent"
	msgResetDone      = "password has been reset, please log in with your new password"
)

// authResponse is the body returned by register and login.
type authResponse struct {
	auth.UserSummary
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"minLength=1,maxLength=254"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	res, err := a.svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	a.setSessionCookie(w, res)
	writeJSON(w, http.StatusCreated, authResponse{UserSummary: res.User, Token: res.Token, ExpiresAt: res.ExpiresAt})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	res, err := a.svc.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	a.setSessionCookie(w, res)
	writeJSON(w, http.StatusOK, authResponse{UserSummary: res.User, Token: res.Token, ExpiresAt: res.ExpiresAt})
}

func (a *API) setSessionCookie(w http.ResponseWriter, res *auth.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in forgotPasswordRequest
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), in.Email); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetRequested})
}

// resetPassword serves both the scoped and the unscoped reset route.
func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in auth.ConfirmResetInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	in.UserID = chi.URLParam(r, "userId")
	if err := a.svc.ConfirmPasswordReset(r.Context(), in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetDone})
}

func (a *API) validateResetToken(w http.ResponseWriter, r *http.Request) {
	err := a.svc.ValidateResetToken(r.Context(), chi.URLParam(r, "userId"), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	profile, err := a.svc.GetProfile(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	var in auth.UpdateProfileInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	profile, err := a.svc.UpdateProfile(r.Context(), user.ID, in)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, a.logger, oops.Code(string(auth.KindUserNotFound)).
			With("user_id", chi.URLParam(r, "userId")).
			Errorf("user not found"))
		return
	}
	profile, err := a.svc.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
