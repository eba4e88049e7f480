package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/apperr"
	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/order"
	"github.com/xenking/qkart/internal/domain/payment"
)

// statusOf maps an error to its HTTP status by kind.
func statusOf(err error) int {
	if errors.Is(err, errMalformed) {
		return http.StatusBadRequest
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the message safe to show to clients.
func publicMessage(err error) string {
	var (
		qtyErr     *order.InvalidQuantityError
		productErr *checkout.ProductNotFoundError
		gwErr      *payment.GatewayError
		ae         *apperr.Error
	)
	switch {
	case errors.As(err, &qtyErr):
		return fmt.Sprintf("Quantity must be greater than 0 for product %s", qtyErr.ProductID)
	case errors.As(err, &productErr):
		return fmt.Sprintf("Product %s not found", productErr.ProductID)
	case errors.As(err, &gwErr):
		return fmt.Sprintf("%s (correlation id %s)", payment.ErrGateway.Message, gwErr.CorrelationID)
	case errors.As(err, &ae):
		return ae.Message
	default:
		return http.StatusText(http.StatusInternalServerError)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	switch {
	case status == http.StatusBadRequest:
		writeProblem(w, status, "malformed_request", err.Error())
	case status >= http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		msg := http.StatusText(status)
		if status == http.StatusBadGateway {
			msg = publicMessage(err)
		}
		writeProblem(w, status, apperr.ReasonOf(err), msg)
	default:
		writeProblem(w, status, apperr.ReasonOf(err), publicMessage(err))
	}
}

func writeProblem(w http.ResponseWriter, status int, reason, message string) {
	if reason == "" {
		reason = "internal"
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("code")
			e.Int(status)
			str(e, "reason", reason)
			str(e, "message", message)
		})
	})
}
