package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/payment"
	"github.com/ndmitriev/storefront-system/internal/repository"
)

type stubRepo struct {
	users       map[int64]*model.User
	userByEmail *model.User
	emailErr    error

	createUserID  int64
	createUserErr error

	products []model.Product

	createdOrder        *model.Order
	createdNotification *model.Notification
	createOrderErr      error

	paidOrder   *model.Order
	paidErr     error
	paidResult  model.PaymentResult
	paidOrderID int64

	updatedUser     *model.User
	updatedPassword []byte
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, username, email string, passwordHash []byte) (int64, error) {
	if s.createUserErr != nil {
		return 0, s.createUserErr
	}
	s.updatedPassword = passwordHash
	return s.createUserID, nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if s.emailErr != nil {
		return nil, s.emailErr
	}
	return s.userByEmail, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]model.User, error) { return nil, nil }

func (s *stubRepo) UpdateUser(ctx context.Context, u *model.User) error {
	s.updatedUser = u
	return nil
}

func (s *stubRepo) UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error {
	s.updatedPassword = passwordHash
	return nil
}

func (s *stubRepo) DeleteUser(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	return &model.Category{ID: 1, Name: name}, nil
}

func (s *stubRepo) UpdateCategory(ctx context.Context, id int64, name string) (*model.Category, error) {
	return &model.Category{ID: id, Name: name}, nil
}

func (s *stubRepo) DeleteCategory(ctx context.Context, id int64) error { return nil }
func (s *stubRepo) ListCategories(ctx context.Context) ([]model.Category, error) { return nil, nil }

func (s *stubRepo) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	return nil, repository.ErrCategoryNotFound
}

func (s *stubRepo) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	return p, nil
}

func (s *stubRepo) UpdateProduct(ctx context.Context, p *model.Product) error { return nil }
func (s *stubRepo) DeleteProduct(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, repository.ErrProductNotFound
}

func (s *stubRepo) GetProductsByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	return s.products, nil
}

func (s *stubRepo) SearchProducts(ctx context.Context, keyword string, limit, offset int) ([]model.Product, int, error) {
	return nil, 0, nil
}

func (s *stubRepo) ListProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) TopProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) NewProducts(ctx context.Context, limit int) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) FilterProducts(ctx context.Context, categoryIDs []int64, minPriceCents, maxPriceCents int64) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) AddReview(ctx context.Context, review *model.Review) error { return nil }

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order, n *model.Notification) error {
	if s.createOrderErr != nil {
		return s.createOrderErr
	}
	o.ID = 77
	s.createdOrder = o
	s.createdNotification = n
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	if s.paidOrder != nil && s.paidOrder.ID == id {
		return s.paidOrder, nil
	}
	if s.createdOrder != nil && s.createdOrder.ID == id {
		return s.createdOrder, nil
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) ListOrders(ctx context.Context) ([]model.Order, error) { return nil, nil }

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) MarkOrderPaid(ctx context.Context, id int64, result model.PaymentResult) (*model.Order, error) {
	if s.paidErr != nil {
		return nil, s.paidErr
	}
	s.paidOrderID = id
	s.paidResult = result
	return s.paidOrder, nil
}

func (s *stubRepo) MarkOrderDelivered(ctx context.Context, id int64) (*model.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) CountOrders(ctx context.Context) (int64, error) { return 0, nil }
func (s *stubRepo) TotalSales(ctx context.Context) (int64, error) { return 0, nil }

func (s *stubRepo) TotalSalesByDate(ctx context.Context) ([]repository.DailySales, error) {
	return nil, nil
}

func (s *stubRepo) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	return nil, nil
}

func (s *stubRepo) MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error) {
	return nil, repository.ErrNotificationNotFound
}

func (s *stubRepo) DeleteNotification(ctx context.Context, id int64) error { return nil }

type stubTokens struct {
	email       string
	fingerprint string
}

func (s *stubTokens) ResetToken(email, fingerprint string) (string, error) {
	s.email = email
	s.fingerprint = fingerprint
	return "signed-reset-token", nil
}

type stubMail struct {
	to    string
	token string
}

func (s *stubMail) SendPasswordReset(ctx context.Context, to, token string) error {
	s.to = to
	s.token = token
	return nil
}

type stubGateway struct {
	capture *payment.Capture
	err     error

	verifiedID string
}

func (g *stubGateway) VerifyOrder(ctx context.Context, gatewayOrderID string) (*payment.Capture, error) {
	g.verifiedID = gatewayOrderID
	if g.err != nil {
		return nil, g.err
	}
	return g.capture, nil
}

func TestRegisterUser_HashesPassword(t *testing.T) {
	repo := &stubRepo{
		createUserID: 5,
		users: map[int64]*model.User{
			5: {ID: 5, Username: "ann", Email: "ann@example.com"},
		},
	}
	svc := NewService(repo, nil, nil, nil)

	u, err := svc.RegisterUser(context.Background(), "ann", "ann@example.com", "secret")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if u.ID != 5 {
		t.Fatalf("user id = %d, want 5", u.ID)
	}
	if string(repo.updatedPassword) == "secret" {
		t.Fatalf("password stored in plain text")
	}
	if err := bcrypt.CompareHashAndPassword(repo.updatedPassword, []byte("secret")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestRegisterUser_EmptyFields(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil)

	_, err := svc.RegisterUser(context.Background(), "", "a@b.c", "pass")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	tests := []struct {
		name     string
		repo     *stubRepo
		password string
		wantErr  error
	}{
		{
			name:     "success",
			repo:     &stubRepo{userByEmail: &model.User{ID: 1, PasswordHash: hash}},
			password: "secret",
		},
		{
			name:     "wrong password",
			repo:     &stubRepo{userByEmail: &model.User{ID: 1, PasswordHash: hash}},
			password: "wrong",
			wantErr:  ErrInvalidCredentials,
		},
		{
			name:     "unknown email",
			repo:     &stubRepo{emailErr: repository.ErrUserNotFound},
			password: "secret",
			wantErr:  ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.repo, nil, nil, nil)

			_, err := svc.AuthenticateUser(context.Background(), "a@b.c", tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateOrder_DerivesPricesFromCatalog(t *testing.T) {
	repo := &stubRepo{
		products: []model.Product{
			{ID: 1, Name: "keyboard", PriceCents: 5000, Image: "/uploads/k.png"},
			{ID: 2, Name: "mouse", PriceCents: 2000},
		},
	}
	svc := NewService(repo, nil, nil, nil)

	user := &model.User{ID: 9, Username: "bob", Email: "bob@example.com"}
	addr := model.ShippingAddress{Address: "1 Main st", City: "Riga", PostalCode: "1010", Country: "LV"}

	order, err := svc.CreateOrder(context.Background(), user, []CartItem{
		{ProductID: 1, Qty: 2},
		{ProductID: 2, Qty: 1},
	}, addr, model.PaymentMethodPayPal)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	// 2×50.00 + 20.00 = 120.00: доставка бесплатная, налог 18.00
	if order.ItemsPriceCents != 12000 {
		t.Fatalf("items price = %d, want 12000", order.ItemsPriceCents)
	}
	if order.ShippingPriceCents != 0 {
		t.Fatalf("shipping price = %d, want 0", order.ShippingPriceCents)
	}
	if order.TaxPriceCents != 1800 {
		t.Fatalf("tax price = %d, want 1800", order.TaxPriceCents)
	}
	if order.TotalPriceCents != 13800 {
		t.Fatalf("total price = %d, want 13800", order.TotalPriceCents)
	}

	if len(order.OrderItems) != 2 || order.OrderItems[0].PriceCents != 5000 {
		t.Fatalf("unexpected order items: %+v", order.OrderItems)
	}
	if repo.createdNotification == nil || repo.createdNotification.Username != "bob" {
		t.Fatalf("unexpected notification: %+v", repo.createdNotification)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	addr := model.ShippingAddress{Address: "1 Main st", City: "Riga", PostalCode: "1010", Country: "LV"}
	user := &model.User{ID: 1, Username: "bob"}

	tests := []struct {
		name    string
		items   []CartItem
		addr    model.ShippingAddress
		method  model.PaymentMethod
		wantErr error
	}{
		{
			name:    "empty cart",
			items:   nil,
			addr:    addr,
			method:  model.PaymentMethodPayPal,
			wantErr: ErrEmptyCart,
		},
		{
			name:    "incomplete address",
			items:   []CartItem{{ProductID: 1, Qty: 1}},
			addr:    model.ShippingAddress{City: "Riga"},
			method:  model.PaymentMethodPayPal,
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown payment method",
			items:   []CartItem{{ProductID: 1, Qty: 1}},
			addr:    addr,
			method:  "bitcoin",
			wantErr: ErrInvalidInput,
		},
		{
			name:    "non-positive qty",
			items:   []CartItem{{ProductID: 1, Qty: 0}},
			addr:    addr,
			method:  model.PaymentMethodPayPal,
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing product",
			items:   []CartItem{{ProductID: 404, Qty: 1}},
			addr:    addr,
			method:  model.PaymentMethodPayPal,
			wantErr: repository.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&stubRepo{}, nil, nil, nil)

			_, err := svc.CreateOrder(context.Background(), user, tt.items, tt.addr, tt.method)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayOrder_VerifiesThroughGateway(t *testing.T) {
	now := time.Now()
	repo := &stubRepo{
		paidOrder: &model.Order{ID: 3, IsPaid: true, PaidAt: &now},
	}
	gateway := &stubGateway{
		capture: &payment.Capture{
			ID:         "PAYID-1",
			Status:     "COMPLETED",
			UpdateTime: "2026-01-02T10:00:00Z",
			PayerEmail: "payer@example.com",
		},
	}
	svc := NewService(repo, gateway, nil, nil)

	order, err := svc.PayOrder(context.Background(), 3, model.PaymentResult{ID: "PAYID-1"})
	if err != nil {
		t.Fatalf("PayOrder error: %v", err)
	}
	if !order.IsPaid {
		t.Fatalf("order is not paid: %+v", order)
	}
	if gateway.verifiedID != "PAYID-1" {
		t.Fatalf("verified id = %q, want PAYID-1", gateway.verifiedID)
	}
	if repo.paidResult.EmailAddress != "payer@example.com" || repo.paidResult.Status != "COMPLETED" {
		t.Fatalf("unexpected payment result: %+v", repo.paidResult)
	}
}

func TestPayOrder_GatewayFailure(t *testing.T) {
	repo := &stubRepo{}
	gateway := &stubGateway{err: errors.New("order is not completed")}
	svc := NewService(repo, gateway, nil, nil)

	_, err := svc.PayOrder(context.Background(), 3, model.PaymentResult{ID: "PAYID-1"})
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("err = %v, want ErrGatewayFailure", err)
	}
	if repo.paidOrderID != 0 {
		t.Fatalf("order was marked paid despite gateway failure")
	}
}

func TestPayOrder_MissingPaymentID(t *testing.T) {
	repo := &stubRepo{}
	gateway := &stubGateway{}
	svc := NewService(repo, gateway, nil, nil)

	_, err := svc.PayOrder(context.Background(), 3, model.PaymentResult{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if gateway.verifiedID != "" {
		t.Fatalf("gateway was called with an empty payment id")
	}
	if repo.paidOrderID != 0 {
		t.Fatalf("order was marked paid without gateway verification")
	}
}

func TestPayOrder_AlreadyPaid(t *testing.T) {
	repo := &stubRepo{paidErr: repository.ErrOrderAlreadyPaid}
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.PayOrder(context.Background(), 3, model.PaymentResult{})
	if !errors.Is(err, repository.ErrOrderAlreadyPaid) {
		t.Fatalf("err = %v, want ErrOrderAlreadyPaid", err)
	}
}

func TestGetOrderForUser_AccessControl(t *testing.T) {
	repo := &stubRepo{
		createdOrder: &model.Order{ID: 77, UserID: 1},
	}
	svc := NewService(repo, nil, nil, nil)

	tests := []struct {
		name    string
		user    *model.User
		wantErr error
	}{
		{name: "owner", user: &model.User{ID: 1}},
		{name: "admin", user: &model.User{ID: 2, IsAdmin: true}},
		{name: "stranger", user: &model.User{ID: 2}, wantErr: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetOrderForUser(context.Background(), 77, tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateCategory_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil)

	if _, err := svc.CreateCategory(context.Background(), "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: err = %v, want ErrInvalidInput", err)
	}

	long := "this category name is far too long to fit"
	if _, err := svc.CreateCategory(context.Background(), long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("long name: err = %v, want ErrInvalidInput", err)
	}

	c, err := svc.CreateCategory(context.Background(), "  Laptops  ")
	if err != nil {
		t.Fatalf("CreateCategory error: %v", err)
	}
	if c.Name != "Laptops" {
		t.Fatalf("name = %q, want trimmed %q", c.Name, "Laptops")
	}
}

func TestAddReview_RatingBounds(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil)
	user := &model.User{ID: 1, Username: "bob"}

	for _, rating := range []int{0, 6, -1} {
		if _, err := svc.AddReview(context.Background(), user, 1, rating, "bad"); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("rating %d: err = %v, want ErrInvalidInput", rating, err)
		}
	}

	review, err := svc.AddReview(context.Background(), user, 1, 5, "great")
	if err != nil {
		t.Fatalf("AddReview error: %v", err)
	}
	if review.Name != "bob" || review.Rating != 5 {
		t.Fatalf("unexpected review: %+v", review)
	}
}

func TestForgotPassword_NoMailer(t *testing.T) {
	svc := NewService(&stubRepo{userByEmail: &model.User{ID: 1}}, nil, nil, nil)

	err := svc.ForgotPassword(context.Background(), "a@b.c")
	if !errors.Is(err, ErrMailUnavailable) {
		t.Fatalf("err = %v, want ErrMailUnavailable", err)
	}
}

func TestForgotPassword_MailsTokenBoundToPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	repo := &stubRepo{userByEmail: &model.User{ID: 1, Email: "ann@example.com", PasswordHash: hash}}
	tokens := &stubTokens{}
	mail := &stubMail{}
	svc := NewService(repo, nil, mail, tokens)

	if err := svc.ForgotPassword(context.Background(), "ann@example.com"); err != nil {
		t.Fatalf("ForgotPassword error: %v", err)
	}

	if tokens.email != "ann@example.com" {
		t.Fatalf("token email = %q, want ann@example.com", tokens.email)
	}
	if tokens.fingerprint != passwordFingerprint(hash) {
		t.Fatalf("token fingerprint is not bound to the current password hash")
	}
	if mail.to != "ann@example.com" || mail.token != "signed-reset-token" {
		t.Fatalf("unexpected mail: to=%q token=%q", mail.to, mail.token)
	}
}

func TestResetPassword_UpdatesPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("old"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	repo := &stubRepo{userByEmail: &model.User{ID: 1, PasswordHash: hash}}
	svc := NewService(repo, nil, nil, nil)

	err = svc.ResetPassword(context.Background(), "a@b.c", passwordFingerprint(hash), "newpass")
	if err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword(repo.updatedPassword, []byte("newpass")); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}
}

func TestResetPassword_StaleTokenRejected(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("old"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	repo := &stubRepo{userByEmail: &model.User{ID: 1, PasswordHash: hash}}
	svc := NewService(repo, nil, nil, nil)

	err = svc.ResetPassword(context.Background(), "a@b.c", "stale-fingerprint", "newpass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if repo.updatedPassword != nil {
		t.Fatalf("password was updated despite a stale token")
	}
}
