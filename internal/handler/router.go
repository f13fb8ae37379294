package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/ndmitriev/storefront-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware интернет-магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Post("/auth", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/forgot-password", h.ForgotPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.ResetMiddleware)
			r.Post("/reset-password", h.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.AdminOnly)

				r.Get("/", h.ListUsers)
				r.Get("/{id}", h.GetUser)
				r.Put("/{id}", h.UpdateUser)
				r.Delete("/{id}", h.DeleteUser)
			})
		})
	})

	r.Route("/api/category", func(r chi.Router) {
		r.Get("/categories", h.ListCategories)
		r.Get("/{id}", h.GetCategory)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware, h.authMiddleware.AdminOnly)

			r.Post("/", h.CreateCategory)
			r.Put("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.SearchProducts)
		r.Get("/allproducts", h.ListAllProducts)
		r.Get("/top", h.TopProducts)
		r.Get("/new", h.NewProducts)
		r.Post("/filtered-products", h.FilterProducts)
		r.Get("/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/{id}/reviews", h.AddReview)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.AdminOnly)

				r.Post("/", h.CreateProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
			})
		})
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Get("/total-orders", h.TotalOrders)
		r.Get("/total-sales", h.TotalSales)
		r.Get("/total-sales-by-date", h.TotalSalesByDate)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/", h.CreateOrder)
			r.Get("/mine", h.GetMyOrders)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}/pay", h.PayOrder)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.AdminOnly)

				r.Get("/", h.ListOrders)
				r.Put("/{id}/pod-pay", h.PayOrderPOD)
				r.Put("/{id}/deliver", h.DeliverOrder)
			})
		})
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware, h.authMiddleware.AdminOnly)

		r.Get("/", h.ListNotifications)
		r.Get("/ws", h.hub.ServeHTTP)
	})

	r.Get("/api/config/paypal", h.GetPayPalConfig)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware, h.authMiddleware.AdminOnly)
		r.Post("/api/upload", h.UploadImage)
	})

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.uploadDir))))
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
