// Package service реализует бизнес-логику интернет-магазина.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/payment"
	"github.com/ndmitriev/storefront-system/internal/pricing"
	"github.com/ndmitriev/storefront-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmptyCart возвращается при оформлении заказа с пустой корзиной.
	ErrEmptyCart = errors.New("no order items")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccessDenied возвращается при попытке доступа к чужому заказу.
	ErrAccessDenied = errors.New("access denied")
	// ErrGatewayFailure возвращается, если платёжный шлюз не подтвердил оплату.
	ErrGatewayFailure = errors.New("payment gateway failure")
	// ErrMailUnavailable возвращается, если почтовый транспорт не настроен.
	ErrMailUnavailable = errors.New("mail transport is not configured")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, username, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error
	DeleteUser(ctx context.Context, id int64) error

	CreateCategory(ctx context.Context, name string) (*model.Category, error)
	UpdateCategory(ctx context.Context, id int64, name string) (*model.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)

	CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	SearchProducts(ctx context.Context, keyword string, limit, offset int) ([]model.Product, int, error)
	ListProducts(ctx context.Context, limit int) ([]model.Product, error)
	TopProducts(ctx context.Context, limit int) ([]model.Product, error)
	NewProducts(ctx context.Context, limit int) ([]model.Product, error)
	FilterProducts(ctx context.Context, categoryIDs []int64, minPriceCents, maxPriceCents int64) ([]model.Product, error)
	AddReview(ctx context.Context, review *model.Review) error

	CreateOrder(ctx context.Context, o *model.Order, n *model.Notification) error
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	MarkOrderPaid(ctx context.Context, id int64, result model.PaymentResult) (*model.Order, error)
	MarkOrderDelivered(ctx context.Context, id int64) (*model.Order, error)
	CountOrders(ctx context.Context) (int64, error)
	TotalSales(ctx context.Context) (int64, error)
	TotalSalesByDate(ctx context.Context) ([]repository.DailySales, error)

	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error)
	DeleteNotification(ctx context.Context, id int64) error
}

// Gateway описывает проверку платежей во внешнем платёжном шлюзе.
type Gateway interface {
	VerifyOrder(ctx context.Context, gatewayOrderID string) (*payment.Capture, error)
}

// MailSender описывает синхронную отправку писем сброса пароля.
type MailSender interface {
	SendPasswordReset(ctx context.Context, to, token string) error
}

// ResetTokens выпускает токены сброса пароля для ссылок в письмах.
type ResetTokens interface {
	ResetToken(email, fingerprint string) (string, error)
}

// Service содержит бизнес-логику интернет-магазина.
type Service struct {
	repo    Repository
	gateway Gateway
	mail    MailSender
	tokens  ResetTokens
}

// NewService создаёт новый сервис. gateway и mail могут быть nil,
// соответствующие возможности при этом отключаются.
func NewService(repo Repository, gateway Gateway, mail MailSender, tokens ResetTokens) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		mail:    mail,
		tokens:  tokens,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, username, email, password string) (*model.User, error) {
	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: please fill all the inputs", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, username, email, hash)
	if err != nil {
		return nil, err
	}

	return s.repo.GetUserByID(ctx, id)
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// ProfileUpdate содержит изменяемые поля профиля. Пустые поля не изменяются.
type ProfileUpdate struct {
	Username string
	Email    string
	Password string
}

// UpdateProfile обновляет профиль текущего пользователя.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.Username != "" {
		u.Username = upd.Username
	}
	if upd.Email != "" {
		u.Email = upd.Email
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	if upd.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(upd.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// UserUpdate содержит поля, изменяемые администратором.
type UserUpdate struct {
	Username string
	Email    string
	IsAdmin  *bool
}

// UpdateUserByID обновляет пользователя от имени администратора.
func (s *Service) UpdateUserByID(ctx context.Context, id int64, upd UserUpdate) (*model.User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Username != "" {
		u.Username = upd.Username
	}
	if upd.Email != "" {
		u.Email = upd.Email
	}
	if upd.IsAdmin != nil {
		u.IsAdmin = *upd.IsAdmin
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// DeleteUser удаляет пользователя. Администратора удалить нельзя.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

// ForgotPassword отправляет пользователю письмо со ссылкой сброса пароля.
// Токен подписывается с отпечатком текущего хэша пароля и действует до
// первой смены пароля. Запросившему токен не возвращается.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if s.mail == nil || s.tokens == nil {
		return ErrMailUnavailable
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := s.tokens.ResetToken(email, passwordFingerprint(u.PasswordHash))
	if err != nil {
		return fmt.Errorf("sign reset token: %w", err)
	}

	if err := s.mail.SendPasswordReset(ctx, email, token); err != nil {
		return fmt.Errorf("%w: %s", ErrMailUnavailable, err)
	}

	return nil
}

// ResetPassword устанавливает новый пароль по токену из письма. Отпечаток
// сверяется с текущим хэшем: уже использованный или устаревший токен
// отклоняется.
func (s *Service) ResetPassword(ctx context.Context, email, fingerprint, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	if fingerprint != passwordFingerprint(u.PasswordHash) {
		return fmt.Errorf("%w: reset token is stale", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.repo.UpdateUserPassword(ctx, u.ID, hash)
}

func passwordFingerprint(passwordHash []byte) string {
	sum := sha256.Sum256(passwordHash)
	return hex.EncodeToString(sum[:])
}

// CartItem описывает позицию корзины при оформлении заказа. Цена клиента
// не принимается: авторитетная цена берётся из каталога.
type CartItem struct {
	ProductID int64
	Qty       int
}

// CreateOrder оформляет заказ: проверяет корзину, фиксирует цены из каталога,
// рассчитывает суммы и атомарно сохраняет заказ вместе с уведомлением
// и событием outbox.
func (s *Service) CreateOrder(ctx context.Context, user *model.User, items []CartItem, addr model.ShippingAddress, method model.PaymentMethod) (*model.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	if !addr.Complete() {
		return nil, fmt.Errorf("%w: shipping address is incomplete", ErrInvalidInput)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, method)
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			return nil, fmt.Errorf("%w: qty must be positive", ErrInvalidInput)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*model.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	orderItems := make([]model.OrderItem, 0, len(items))
	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", repository.ErrProductNotFound, item.ProductID)
		}
		orderItems = append(orderItems, model.OrderItem{
			ProductID:  p.ID,
			Name:       p.Name,
			Qty:        item.Qty,
			PriceCents: p.PriceCents,
			Image:      p.Image,
		})
	}

	prices := pricing.Calculate(orderItems)

	order := &model.Order{
		UserID:             user.ID,
		Username:           user.Username,
		UserEmail:          user.Email,
		OrderItems:         orderItems,
		ShippingAddress:    addr,
		PaymentMethod:      method,
		ItemsPriceCents:    prices.ItemsCents,
		ShippingPriceCents: prices.ShippingCents,
		TaxPriceCents:      prices.TaxCents,
		TotalPriceCents:    prices.TotalCents,
	}

	notification := &model.Notification{
		Username: user.Username,
		Type:     model.NotificationTypeOrder,
	}

	if err := s.repo.CreateOrder(ctx, order, notification); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderForUser возвращает заказ, если он принадлежит пользователю
// или пользователь — администратор.
func (s *Service) GetOrderForUser(ctx context.Context, orderID int64, user *model.User) (*model.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.UserID != user.ID && !user.IsAdmin {
		return nil, ErrAccessDenied
	}

	return o, nil
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListOrders(ctx)
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// PayOrder подтверждает оплату заказа по данным платёжного шлюза.
// Если клиент шлюза настроен, платёж перед переходом проверяется в шлюзе
// и в заказ записываются подтверждённые шлюзом данные. Подтверждение без
// идентификатора платежа при настроенном шлюзе отклоняется.
func (s *Service) PayOrder(ctx context.Context, orderID int64, result model.PaymentResult) (*model.Order, error) {
	if s.gateway != nil {
		if result.ID == "" {
			return nil, fmt.Errorf("%w: payment id is required", ErrInvalidInput)
		}

		capture, err := s.gateway.VerifyOrder(ctx, result.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrGatewayFailure, err)
		}
		result = model.PaymentResult{
			ID:           capture.ID,
			Status:       capture.Status,
			UpdateTime:   capture.UpdateTime,
			EmailAddress: capture.PayerEmail,
		}
	}

	return s.repo.MarkOrderPaid(ctx, orderID, result)
}

// PayOrderPOD подтверждает получение оплаты наличными. Вызывается
// администратором, шлюз не участвует.
func (s *Service) PayOrderPOD(ctx context.Context, orderID int64, result model.PaymentResult) (*model.Order, error) {
	if result.Status == "" {
		result.Status = "COMPLETED"
	}
	if result.UpdateTime == "" {
		result.UpdateTime = time.Now().UTC().Format(time.RFC3339)
	}

	return s.repo.MarkOrderPaid(ctx, orderID, result)
}

// DeliverOrder подтверждает доставку заказа.
func (s *Service) DeliverOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.repo.MarkOrderDelivered(ctx, orderID)
}

// CountOrders возвращает общее число заказов.
func (s *Service) CountOrders(ctx context.Context) (int64, error) {
	return s.repo.CountOrders(ctx)
}

// TotalSales возвращает сумму всех заказов.
func (s *Service) TotalSales(ctx context.Context) (int64, error) {
	return s.repo.TotalSales(ctx)
}

// TotalSalesByDate возвращает суммы оплаченных заказов по датам.
func (s *Service) TotalSalesByDate(ctx context.Context) ([]repository.DailySales, error) {
	return s.repo.TotalSalesByDate(ctx)
}

// CreateCategory создаёт категорию.
func (s *Service) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 32 {
		return nil, fmt.Errorf("%w: category name is required and must not exceed 32 characters", ErrInvalidInput)
	}
	return s.repo.CreateCategory(ctx, name)
}

// UpdateCategory переименовывает категорию.
func (s *Service) UpdateCategory(ctx context.Context, id int64, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 32 {
		return nil, fmt.Errorf("%w: category name is required and must not exceed 32 characters", ErrInvalidInput)
	}
	return s.repo.UpdateCategory(ctx, id, name)
}

// DeleteCategory удаляет категорию.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	return s.repo.DeleteCategory(ctx, id)
}

// ListCategories возвращает все категории.
func (s *Service) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.repo.ListCategories(ctx)
}

// GetCategoryByID возвращает категорию по идентификатору.
func (s *Service) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	return s.repo.GetCategoryByID(ctx, id)
}

// CreateProduct создаёт товар каталога.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct обновляет товар каталога.
func (s *Service) UpdateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	return s.repo.GetProductByID(ctx, p.ID)
}

func validateProduct(p *model.Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case p.PriceCents < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case p.CountInStock < 0:
		return fmt.Errorf("%w: count in stock must not be negative", ErrInvalidInput)
	case p.CategoryID == 0:
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	return nil
}

// DeleteProduct удаляет товар.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.repo.DeleteProduct(ctx, id)
}

// GetProductByID возвращает товар с отзывами.
func (s *Service) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

// SearchProducts возвращает страницу товаров по ключевому слову.
func (s *Service) SearchProducts(ctx context.Context, keyword string, limit, offset int) ([]model.Product, int, error) {
	return s.repo.SearchProducts(ctx, keyword, limit, offset)
}

// ListProducts возвращает последние добавленные товары.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, limit)
}

// TopProducts возвращает товары с наивысшим рейтингом.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return s.repo.TopProducts(ctx, limit)
}

// NewProducts возвращает новинки каталога.
func (s *Service) NewProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return s.repo.NewProducts(ctx, limit)
}

// FilterProducts возвращает товары по категориям и диапазону цен.
func (s *Service) FilterProducts(ctx context.Context, categoryIDs []int64, minPriceCents, maxPriceCents int64) ([]model.Product, error) {
	return s.repo.FilterProducts(ctx, categoryIDs, minPriceCents, maxPriceCents)
}

// AddReview добавляет отзыв о товаре от имени пользователя.
func (s *Service) AddReview(ctx context.Context, user *model.User, productID int64, rating int, comment string) (*model.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}

	review := &model.Review{
		ProductID: productID,
		UserID:    user.ID,
		Name:      user.Username,
		Rating:    rating,
		Comment:   comment,
	}

	if err := s.repo.AddReview(ctx, review); err != nil {
		return nil, err
	}

	return review, nil
}

// ListNotifications возвращает уведомления, новые первыми.
func (s *Service) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx)
}

// MarkNotificationRead помечает уведомление прочитанным.
func (s *Service) MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error) {
	return s.repo.MarkNotificationRead(ctx, id)
}

// DeleteNotification удаляет уведомление.
func (s *Service) DeleteNotification(ctx context.Context, id int64) error {
	return s.repo.DeleteNotification(ctx, id)
}
