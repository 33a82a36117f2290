package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	"github.com/capsule-ai/capsule-backend/internal/payments"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutStarter opens a provider payment for a credit package.
type CheckoutStarter interface {
	Methods() []enums.PaymentMethod
	Start(ctx context.Context, userID uuid.UUID, packageID string, method enums.PaymentMethod) (*payments.CheckoutSession, error)
}

// PaymentHistory lists a user's payment rows.
type PaymentHistory interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
}

type checkoutRequest struct {
	PackageID     string `json:"package_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type packageView struct {
	payments.Package
	PricePerCredit decimal.Decimal `json:"price_per_credit"`
}

type paymentView struct {
	ID            int64               `json:"payment_id"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Credits       int                 `json:"credits_purchased"`
	Method        enums.PaymentMethod `json:"payment_method"`
	TransactionID *string             `json:"transaction_id,omitempty"`
	Status        enums.PaymentStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

// PaymentPackages lists the purchasable credit packages and enabled providers.
func PaymentPackages(checkout CheckoutStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalogue := payments.Packages()
		views := make([]packageView, 0, len(catalogue))
		for _, pkg := range catalogue {
			views = append(views, packageView{Package: pkg, PricePerCredit: pkg.PricePerCredit()})
		}
		methods := []enums.PaymentMethod{}
		if checkout != nil {
			methods = checkout.Methods()
		}
		responses.WriteSuccess(w, map[string]any{
			"packages":        views,
			"payment_methods": methods,
		})
	}
}

// PaymentCheckout records a pending payment and returns the provider session.
func PaymentCheckout(checkout CheckoutStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checkout == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "payments unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
			return
		}

		session, err := checkout.Start(r.Context(), userID, body.PackageID, method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// PaymentList returns the caller's most recent payments.
func PaymentList(history PaymentHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "payments unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := history.ListByUser(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments"))
			return
		}
		views := make([]paymentView, 0, len(rows))
		for _, p := range rows {
			views = append(views, paymentView{
				ID:            p.ID,
				Amount:        p.Amount,
				Currency:      p.Currency,
				Credits:       p.CreditsPurchased,
				Method:        p.PaymentMethod,
				TransactionID: p.TransactionID,
				Status:        p.Status,
				CreatedAt:     p.CreatedAt,
			})
		}
		responses.WriteSuccess(w, views)
	}
}
