package devserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Every response body is wrapped the same way: {"data": ...} on success,
// {"error": "..."} otherwise.
func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type Handler struct {
	Store  *Store
	Hub    *Hub
	Logger *zap.Logger
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.Store.CreateUser(req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusConflict, "email already exists")
		return
	}
	writeData(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies the password and issues a bearer token. This is the
// verified counterpart of the directory-lookup login path.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.Store.VerifyPassword(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.Store.IssueToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	loginsTotal.Inc()
	writeData(w, http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

// Me resolves the bearer token to its identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	user, err := h.Store.GetUserByToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeData(w, http.StatusOK, user)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// ExternalLogin stubs the provider hand-off: it issues a token for the
// demo identity and redirects back with ?token=, which is exactly the shape
// the client's URL bootstrap consumes. demoEmail selects who the provider
// "authenticates" as.
func (h *Handler) ExternalLogin(demoEmail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURI := r.URL.Query().Get("redirect_uri")
		if redirectURI == "" {
			writeError(w, http.StatusBadRequest, "redirect_uri is required")
			return
		}

		user, _, err := h.Store.GetUserByEmail(demoEmail)
		if err != nil {
			writeError(w, http.StatusNotFound, "demo identity not provisioned")
			return
		}

		token, err := h.Store.IssueToken(user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		u, err := url.Parse(redirectURI)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad redirect_uri")
			return
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()

		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	fragment := r.URL.Query().Get("email")
	if fragment == "" {
		writeData(w, http.StatusOK, []interface{}{})
		return
	}

	users, err := h.Store.SearchUsers(fragment)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	searchesTotal.Inc()
	writeData(w, http.StatusOK, users)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	peerID := r.URL.Query().Get("peerId")
	if userID == "" || peerID == "" {
		writeError(w, http.StatusBadRequest, "userId and peerId are required")
		return
	}

	messages, err := h.Store.GetThreadMessages(userID, peerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, messages)
}
