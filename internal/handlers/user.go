package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth/gothic"
	"github.com/petermazzocco/particle-monitor/internal/auth"
)

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	FullName string `json:"full_name"`
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.Login(h.sessions, w, r, user.ID); err != nil {
		log.Println("Failed to save session:", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.Login(h.sessions, w, r, user.ID); err != nil {
		log.Println("Failed to save session:", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Logout(h.sessions, w, r)
	if err != nil {
		log.Println("Failed to clear session:", err)
		writeError(w, err)
		return
	}
	if userID != "" {
		if err := h.auth.SignOut(r.Context(), userID); err != nil {
			writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// BeginOAuth starts the provider's consent flow.
func (h *Handler) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	r = gothic.GetContextWithProvider(r, chi.URLParam(r, "provider"))
	gothic.BeginAuthHandler(w, r)
}

// OAuthCallback finishes the provider flow and signs the user in, creating
// the account on first visit.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	r = gothic.GetContextWithProvider(r, chi.URLParam(r, "provider"))
	gothUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		log.Println("Failed to complete OAuth:", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse{State: StateError, Error: "sign-in was not completed"})
		return
	}

	user, err := h.auth.FindOrCreateOAuthUser(r.Context(), gothUser.Email, gothUser.Name)
	if err != nil {
		log.Println("Failed to create user:", err)
		writeError(w, err)
		return
	}
	if err := auth.Login(h.sessions, w, r, user.ID); err != nil {
		log.Println("Failed to save session:", err)
		writeError(w, err)
		return
	}
	http.Redirect(w, r, h.signInRedirect, http.StatusTemporaryRedirect)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	user, err := h.auth.CurrentUser(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	var req updateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.auth.UpdateUser(r.Context(), session.UserID, req.FullName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
