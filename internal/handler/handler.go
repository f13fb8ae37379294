// Package handler содержит HTTP-обработчики API интернет-магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndmitriev/storefront-system/internal/middleware"
	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/repository"
	"github.com/ndmitriev/storefront-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, email, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, userID int64, upd service.ProfileUpdate) (*model.User, error)
	UpdateUserByID(ctx context.Context, id int64, upd service.UserUpdate) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, fingerprint, password string) error

	CreateCategory(ctx context.Context, name string) (*model.Category, error)
	UpdateCategory(ctx context.Context, id int64, name string) (*model.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)

	CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	SearchProducts(ctx context.Context, keyword string, limit, offset int) ([]model.Product, int, error)
	ListProducts(ctx context.Context, limit int) ([]model.Product, error)
	TopProducts(ctx context.Context, limit int) ([]model.Product, error)
	NewProducts(ctx context.Context, limit int) ([]model.Product, error)
	FilterProducts(ctx context.Context, categoryIDs []int64, minPriceCents, maxPriceCents int64) ([]model.Product, error)
	AddReview(ctx context.Context, user *model.User, productID int64, rating int, comment string) (*model.Review, error)

	CreateOrder(ctx context.Context, user *model.User, items []service.CartItem, addr model.ShippingAddress, method model.PaymentMethod) (*model.Order, error)
	GetOrderForUser(ctx context.Context, orderID int64, user *model.User) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	PayOrder(ctx context.Context, orderID int64, result model.PaymentResult) (*model.Order, error)
	PayOrderPOD(ctx context.Context, orderID int64, result model.PaymentResult) (*model.Order, error)
	DeliverOrder(ctx context.Context, orderID int64) (*model.Order, error)
	CountOrders(ctx context.Context) (int64, error)
	TotalSales(ctx context.Context) (int64, error)
	TotalSalesByDate(ctx context.Context) ([]repository.DailySales, error)

	ListNotifications(ctx context.Context) ([]model.Notification, error)
}

// Handler реализует HTTP-обработчики API интернет-магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	hub            http.Handler
	uploadDir      string
	paypalClientID string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, hub http.Handler, uploadDir, paypalClientID string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		hub:            hub,
		uploadDir:      uploadDir,
		paypalClientID: paypalClientID,
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// emptyIfNil заменяет nil-срез пустым: списочные ответы API сериализуются
// как [], а не null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// serviceError переводит ошибки бизнес-логики в HTTP-статусы: 400 — некорректный
// ввод, 401 — нет аутентификации, 403 — нет прав, 404 — сущность не найдена,
// 409 — конфликт состояния, 502 — отказ внешней системы.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, repository.ErrUserIsAdmin):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrAccessDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrCategoryNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrNotificationNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrCategoryExists),
		errors.Is(err, repository.ErrAlreadyReviewed),
		errors.Is(err, repository.ErrOrderAlreadyPaid):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrGatewayFailure),
		errors.Is(err, service.ErrMailUnavailable):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
