package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ndmitriev/storefront-system/internal/middleware"
	"github.com/ndmitriev/storefront-system/internal/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя и устанавливает
// cookie авторизации.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, user.ID); err != nil {
		h.logger.Error("set auth cookie", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, user.ID); err != nil {
		h.logger.Error("set auth cookie", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

type profileUpdateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfile обновляет профиль текущего пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user.ID, service.ProfileUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(users))
}

// GetUser возвращает пользователя по идентификатору.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

type userUpdateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  *bool  `json:"isAdmin"`
}

// UpdateUser обновляет пользователя от имени администратора.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.UpdateUserByID(r.Context(), id, service.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// DeleteUser удаляет пользователя. Администратора удалить нельзя.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword отправляет письмо со ссылкой сброса пароля. Ответ не
// содержит токена: единственный способ сбросить пароль — ссылка из письма.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "reset link sent"})
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword устанавливает новый пароль по токену сброса из письма.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	email, fingerprint, ok := middleware.GetResetClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized, no reset token")
		return
	}

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.ResetPassword(r.Context(), email, fingerprint, req.Password); err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
