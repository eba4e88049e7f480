// Package handler exposes the checkout, order, coupon, loyalty and payment
// services over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/domain/loyalty"
	"github.com/xenking/qkart/internal/domain/order"
	"github.com/xenking/qkart/internal/domain/payment"
)

// CheckoutService places orders.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// OrderService reads orders and moves them through their lifecycle.
type OrderService interface {
	GetForUser(ctx context.Context, userID, id string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id string, to order.Status, upd order.StatusUpdate) (*order.Order, error)
}

// CouponService administers coupons.
type CouponService interface {
	Create(ctx context.Context, p coupon.CreateParams) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, p coupon.CreateParams) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	GetByID(ctx context.Context, id string) (*coupon.Coupon, error)
	ListAll(ctx context.Context) ([]coupon.Coupon, error)
	ListActive(ctx context.Context) ([]coupon.Coupon, error)
	Deactivate(ctx context.Context, code string) (*coupon.Coupon, error)
}

// LoyaltyService manages customer points.
type LoyaltyService interface {
	Summary(ctx context.Context, userID string) (*loyalty.Summary, error)
	Transactions(ctx context.Context, userID string, limit int) ([]loyalty.Transaction, error)
	SetBirthday(ctx context.Context, userID string, birthday time.Time) (*loyalty.Account, error)
	ClaimBirthdayBonus(ctx context.Context, userID string) (*loyalty.Transaction, error)
	RedeemPoints(ctx context.Context, userID string, points int64, orderID string) (*loyalty.Transaction, error)
}

// PaymentService opens payment intents and applies gateway events.
type PaymentService interface {
	CreateIntent(ctx context.Context, req payment.CreateIntentRequest) (*payment.Payment, error)
	Status(ctx context.Context, userID, intentID string) (*payment.Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Services bundles the domain services served by Handler.
type Services struct {
	Checkout  CheckoutService
	Orders    OrderService
	Coupons   CouponService
	Validator coupon.Validator
	Loyalty   LoyaltyService
	Payments  PaymentService
}

// Handler serves the /api routes.
type Handler struct {
	svc  Services
	auth *Authenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(svc Services, auth *Authenticator) *Handler {
	return &Handler{svc: svc, auth: auth}
}

// Routes builds the router. Middlewares run inside the router, after the
// route is matched.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)

	r.Route("/api", func(r chi.Router) {
		r.Post("/payments/webhook", h.paymentWebhook)
		r.Get("/coupons/active", h.listActiveCoupons)
		r.Get("/coupons/{code}", h.getCoupon)
		r.Get("/loyalty/calculate-discount", h.calculateDiscount)
		r.Get("/loyalty/points-needed", h.pointsNeeded)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.RequireUser)

			r.Post("/checkout", h.checkout)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)

			r.Post("/coupons/validate", h.validateCoupon)
			r.Post("/coupons/apply", h.validateCoupon)

			r.Get("/loyalty/account", h.loyaltyAccount)
			r.Get("/loyalty/transactions", h.loyaltyTransactions)
			r.Post("/loyalty/birthday", h.setBirthday)
			r.Post("/loyalty/birthday-bonus", h.claimBirthdayBonus)
			r.Post("/loyalty/redeem", h.redeemPoints)

			r.Post("/payments/intents", h.createPaymentIntent)
			r.Get("/payments/{intentId}", h.paymentStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.auth.RequireAdmin)

			r.Patch("/orders/{id}/status", h.updateOrderStatus)
			r.Get("/coupons", h.listCoupons)
			r.Post("/coupons", h.createCoupon)
			r.Post("/coupons/{code}/deactivate", h.deactivateCoupon)
			r.Get("/coupons/id/{id}", h.getCouponByID)
			r.Put("/coupons/id/{id}", h.updateCoupon)
			r.Delete("/coupons/id/{id}", h.deleteCoupon)
		})
	})
	return r
}
