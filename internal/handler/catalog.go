package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/ndmitriev/storefront-system/internal/middleware"
	"github.com/ndmitriev/storefront-system/internal/model"
)

// Размеры выборок каталога.
const (
	searchPageSize   = 6
	allProductsLimit = 12
	topProductsLimit = 4
	newProductsLimit = 5
)

type categoryRequest struct {
	Name string `json:"name"`
}

// CreateCategory создаёт категорию товаров.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category, err := h.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, category)
}

// UpdateCategory переименовывает категорию.
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category, err := h.service.UpdateCategory(r.Context(), id, req.Name)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, category)
}

// DeleteCategory удаляет категорию.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "category deleted"})
}

// ListCategories возвращает все категории.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(categories))
}

// GetCategory возвращает категорию по идентификатору.
func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	category, err := h.service.GetCategoryByID(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, category)
}

type productRequest struct {
	Name         string  `json:"name"`
	Image        string  `json:"image"`
	Brand        string  `json:"brand"`
	Description  string  `json:"description"`
	Price        float64 `json:"price"`
	CountInStock int     `json:"countInStock"`
	Category     int64   `json:"category"`
}

func (req productRequest) toModel() *model.Product {
	return &model.Product{
		Name:         req.Name,
		Image:        req.Image,
		Brand:        req.Brand,
		Description:  req.Description,
		PriceCents:   amountToCents(req.Price),
		CountInStock: req.CountInStock,
		CategoryID:   req.Category,
	}
}

func amountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := h.service.CreateProduct(r.Context(), req.toModel())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

// UpdateProduct обновляет товар каталога.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := req.toModel()
	p.ID = id

	product, err := h.service.UpdateProduct(r.Context(), p)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

// DeleteProduct удаляет товар.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// GetProduct возвращает товар с отзывами.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.service.GetProductByID(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	product.Reviews = emptyIfNil(product.Reviews)
	respondJSON(w, http.StatusOK, product)
}

type productPage struct {
	Products []model.Product `json:"products"`
	Page     int             `json:"page"`
	Pages    int             `json:"pages"`
}

// SearchProducts возвращает страницу товаров по ключевому слову.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")

	page, err := strconv.Atoi(r.URL.Query().Get("pageNumber"))
	if err != nil || page < 1 {
		page = 1
	}

	products, total, err := h.service.SearchProducts(r.Context(), keyword, searchPageSize, (page-1)*searchPageSize)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	pages := (total + searchPageSize - 1) / searchPageSize

	respondJSON(w, http.StatusOK, productPage{
		Products: emptyIfNil(products),
		Page:     page,
		Pages:    pages,
	})
}

// ListAllProducts возвращает последние добавленные товары.
func (h *Handler) ListAllProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), allProductsLimit)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(products))
}

// TopProducts возвращает товары с наивысшим рейтингом.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.TopProducts(r.Context(), topProductsLimit)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(products))
}

// NewProducts возвращает новинки каталога.
func (h *Handler) NewProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.NewProducts(r.Context(), newProductsLimit)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(products))
}

type filterRequest struct {
	Categories []int64 `json:"categories"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
}

// FilterProducts возвращает товары по категориям и диапазону цен.
func (h *Handler) FilterProducts(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var minCents, maxCents int64
	if req.MinPrice > 0 {
		minCents = amountToCents(req.MinPrice)
	}
	if req.MaxPrice > 0 {
		maxCents = amountToCents(req.MaxPrice)
	}

	products, err := h.service.FilterProducts(r.Context(), req.Categories, minCents, maxCents)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emptyIfNil(products))
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// AddReview добавляет отзыв о товаре от имени текущего пользователя.
func (h *Handler) AddReview(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authorized")
		return
	}

	id, err := idParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	review, err := h.service.AddReview(r.Context(), user, id, req.Rating, req.Comment)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, review)
}
