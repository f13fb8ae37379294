// Package model содержит доменные сущности интернет-магазина.
package model

import (
	"encoding/json"
	"time"
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64     `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Category представляет категорию товаров каталога.
type Category struct {
	ID   int64  `json:"_id"`
	Name string `json:"name"`
}

// Product представляет товар каталога.
type Product struct {
	ID           int64     `json:"_id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	Brand        string    `json:"brand"`
	Description  string    `json:"description"`
	PriceCents   int64     `json:"-"`
	CountInStock int       `json:"countInStock"`
	CategoryID   int64     `json:"category"`
	Rating       float64   `json:"rating"`
	NumReviews   int       `json:"numReviews"`
	Reviews      []Review  `json:"reviews,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MarshalJSON добавляет цену товара в денежном формате с двумя знаками.
func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	return json.Marshal(struct {
		alias
		Price float64 `json:"price"`
	}{
		alias: alias(p),
		Price: CentsToAmount(p.PriceCents),
	})
}

// Review представляет отзыв пользователя о товаре.
type Review struct {
	ID        int64     `json:"_id"`
	ProductID int64     `json:"-"`
	UserID    int64     `json:"user"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentMethodPayPal — оплата через платёжный шлюз.
	PaymentMethodPayPal PaymentMethod = "PayPal"
	// PaymentMethodPOD — оплата при получении, подтверждается администратором.
	PaymentMethodPOD PaymentMethod = "POD"
)

// Valid сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodPayPal || m == PaymentMethodPOD
}

// ShippingAddress содержит адрес доставки заказа.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Complete сообщает, заполнены ли все обязательные поля адреса.
func (a ShippingAddress) Complete() bool {
	return a.Address != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// OrderItem представляет позицию заказа. Цена фиксируется из каталога
// в момент оформления и далее не пересчитывается.
type OrderItem struct {
	ID         int64  `json:"-"`
	OrderID    int64  `json:"-"`
	ProductID  int64  `json:"product"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"-"`
	Image      string `json:"image"`
}

// MarshalJSON добавляет цену позиции в денежном формате.
func (i OrderItem) MarshalJSON() ([]byte, error) {
	type alias OrderItem
	return json.Marshal(struct {
		alias
		Price float64 `json:"price"`
	}{
		alias: alias(i),
		Price: CentsToAmount(i.PriceCents),
	})
}

// PaymentResult содержит данные платёжного шлюза о проведённой оплате.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// Order представляет заказ пользователя.
type Order struct {
	ID                 int64           `json:"_id"`
	UserID             int64           `json:"user"`
	Username           string          `json:"username,omitempty"`
	UserEmail          string          `json:"-"`
	OrderItems         []OrderItem     `json:"orderItems"`
	ShippingAddress    ShippingAddress `json:"shippingAddress"`
	PaymentMethod      PaymentMethod   `json:"paymentMethod"`
	ItemsPriceCents    int64           `json:"-"`
	ShippingPriceCents int64           `json:"-"`
	TaxPriceCents      int64           `json:"-"`
	TotalPriceCents    int64           `json:"-"`
	IsPaid             bool            `json:"isPaid"`
	PaidAt             *time.Time      `json:"paidAt,omitempty"`
	PaymentResult      *PaymentResult  `json:"paymentResult,omitempty"`
	IsDelivered        bool            `json:"isDelivered"`
	DeliveredAt        *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// MarshalJSON добавляет суммы заказа в денежном формате с двумя знаками.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		ItemsPrice    float64 `json:"itemsPrice"`
		ShippingPrice float64 `json:"shippingPrice"`
		TaxPrice      float64 `json:"taxPrice"`
		TotalPrice    float64 `json:"totalPrice"`
	}{
		alias:         alias(o),
		ItemsPrice:    CentsToAmount(o.ItemsPriceCents),
		ShippingPrice: CentsToAmount(o.ShippingPriceCents),
		TaxPrice:      CentsToAmount(o.TaxPriceCents),
		TotalPrice:    CentsToAmount(o.TotalPriceCents),
	})
}

// NotificationTypeOrder — тип уведомления о новом заказе.
const NotificationTypeOrder = "order"

// Notification представляет уведомление о событии заказа.
type Notification struct {
	ID        int64     `json:"_id"`
	Username  string    `json:"username"`
	OrderID   int64     `json:"orderId"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// CentsToAmount переводит сумму из копеек в денежные единицы.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// Топики событий outbox.
const (
	TopicOrderCreated = "order.created"
	TopicOrderPaid    = "order.paid"
)

// OutboxEvent представляет событие, записанное вместе с порождающей его
// транзакцией и доставляемое получателям асинхронно.
type OutboxEvent struct {
	ID          int64
	Topic       string
	Payload     []byte
	RetryCount  int
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// OrderPaidEvent содержит данные для письма об успешной оплате заказа.
type OrderPaidEvent struct {
	OrderID    int64     `json:"orderId"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	TotalCents int64     `json:"totalCents"`
	PaidAt     time.Time `json:"paidAt"`
}
