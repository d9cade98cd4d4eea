package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/carcrashlawyerai/backend/internal/store"
)

// StripeHandler processes payment-processor webhooks. A checkout-completed
// event marks the matching signup's payment confirmed; every verified event
// is acknowledged with 200 whether or not a record matched.
type StripeHandler struct {
	signupStore   *store.SignupStore
	webhookSecret string
	logger        *slog.Logger
}

func NewStripeHandler(ss *store.SignupStore, webhookSecret string, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		signupStore:   ss,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	default:
		h.logger.Debug("ignoring stripe event", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeHandler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		h.logger.Warn("webhook: checkout session missing email")
		return
	}

	signup, err := h.signupStore.GetByEmail(email)
	if err != nil {
		h.logger.Error("webhook: get signup by email", "error", err)
		return
	}
	if signup == nil {
		// Acknowledge receipt anyway; no record is created for an unknown
		// customer.
		h.logger.Warn("webhook: checkout completed for unknown email", "email", email)
		return
	}

	transactionID := sess.ID
	if sess.PaymentIntent != nil {
		transactionID = sess.PaymentIntent.ID
	}

	if err := h.signupStore.ConfirmPayment(signup.ID, transactionID); err != nil {
		h.logger.Error("webhook: confirm payment", "doc_id", signup.ID, "error", err)
		return
	}

	h.logger.Info("payment confirmed", "doc_id", signup.ID, "email", email)
}
