package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ndmitriev/storefront-system/internal/middleware"
	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/service"
)

type orderItemRequest struct {
	Product int64 `json:"product"`
	Qty     int   `json:"qty"`
}

type createOrderRequest struct {
	OrderItems      []orderItemRequest    `json:"orderItems"`
	ShippingAddress model.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   model.PaymentMethod   `json:"paymentMethod"`
}

// CreateOrder оформляет заказ текущего пользователя. Цены клиента
// игнорируются и фиксируются из каталога.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]service.CartItem, 0, len(req.OrderItems))
	for _, item := range req.OrderItems {
		items = append(items, service.CartItem{ProductID: item.Product, Qty: item.Qty})
	}

	order, err := h.service.CreateOrder(r.Context(), user, items, req.ShippingAddress, req.PaymentMethod)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

// ListOrders возвращает все заказы.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(orders))
}

// GetMyOrders возвращает заказы текущего пользователя.
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), user.ID)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(orders))
}

// GetOrder возвращает заказ, доступный владельцу или администратору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.service.GetOrderForUser(r.Context(), id, user)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

type payOrderRequest struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
	Payer        struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

func (req payOrderRequest) toResult() model.PaymentResult {
	email := req.EmailAddress
	if email == "" {
		email = req.Payer.EmailAddress
	}
	return model.PaymentResult{
		ID:           req.ID,
		Status:       req.Status,
		UpdateTime:   req.UpdateTime,
		EmailAddress: email,
	}
}

// PayOrder подтверждает оплату заказа по данным платёжного шлюза.
// Повторная оплата отклоняется с конфликтом.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req payOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.PayOrder(r.Context(), id, req.toResult())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// PayOrderPOD подтверждает получение оплаты наличными при доставке.
func (h *Handler) PayOrderPOD(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.service.PayOrderPOD(r.Context(), id, model.PaymentResult{})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// DeliverOrder подтверждает доставку заказа.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.service.DeliverOrder(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// TotalOrders возвращает общее число заказов.
func (h *Handler) TotalOrders(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountOrders(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"totalOrders": count})
}

// TotalSales возвращает сумму всех заказов.
func (h *Handler) TotalSales(w http.ResponseWriter, r *http.Request) {
	cents, err := h.service.TotalSales(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]float64{"totalSales": model.CentsToAmount(cents)})
}

type dailySalesResponse struct {
	Date       string  `json:"_id"`
	TotalSales float64 `json:"totalSales"`
}

// TotalSalesByDate возвращает суммы оплаченных заказов по датам.
func (h *Handler) TotalSalesByDate(w http.ResponseWriter, r *http.Request) {
	sales, err := h.service.TotalSalesByDate(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := make([]dailySalesResponse, 0, len(sales))
	for _, s := range sales {
		resp = append(resp, dailySalesResponse{
			Date:       s.Date,
			TotalSales: model.CentsToAmount(s.TotalCents),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// ListNotifications возвращает уведомления, новые первыми.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.service.ListNotifications(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(notifications))
}

// GetPayPalConfig возвращает публичный идентификатор клиента платёжного шлюза.
func (h *Handler) GetPayPalConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"clientId": h.paypalClientID})
}
