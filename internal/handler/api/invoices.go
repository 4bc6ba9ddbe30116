// Package api exposes the invoice lifecycle over JSON HTTP endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/handler"
	"github.com/fieldstack/fieldstack/internal/money"
	"github.com/fieldstack/fieldstack/internal/router"
)

// InvoiceHandler serves the invoice endpoints.
type InvoiceHandler struct {
	invoices domain.InvoiceService
	logger   *slog.Logger
}

// NewInvoiceHandler creates a new InvoiceHandler instance.
func NewInvoiceHandler(invoices domain.InvoiceService, logger *slog.Logger) *InvoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceHandler{invoices: invoices, logger: logger}
}

// Register mounts the invoice routes.
func (h *InvoiceHandler) Register(r *router.Router) {
	r.Post("/invoices", h.Create)
	r.Get("/invoices", h.List)
	r.Get("/invoices/{id}", h.Get)
	r.Post("/invoices/{id}/schedule", h.Schedule)
	r.Post("/invoices/{id}/send", h.Send)
	r.Post("/invoices/{id}/cancel", h.Cancel)
	r.Post("/invoices/{id}/refund", h.Refund)
	r.Post("/invoices/{id}/payments", h.RecordPayment)
	r.Post("/invoices/{id}/payment-link", h.CreatePaymentLink)
	r.Post("/invoices/{id}/reconcile", h.Reconcile)
}

type lineItemRequest struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price_cents"`
}

type createInvoiceRequest struct {
	ClientID           uuid.UUID         `json:"client_id"`
	AdditionalPayerIDs []uuid.UUID       `json:"additional_payer_ids"`
	ProjectID          *uuid.UUID        `json:"project_id"`
	LineItems          []lineItemRequest `json:"line_items"`
	TaxRate            float64           `json:"tax_rate"`
	DiscountAmount     int64             `json:"discount_cents"`
	IssueDate          *time.Time        `json:"issue_date"`
	DueDate            time.Time         `json:"due_date"`
	AcceptedMethods    []string          `json:"accepted_methods"`
	AllowPartial       bool              `json:"allow_partial_payments"`
	AutoCharge         bool              `json:"auto_charge_enabled"`
	CreatedBy          string            `json:"created_by"`
}

// invoiceResponse decorates the invoice record with display strings.
type invoiceResponse struct {
	*domain.Invoice
	TotalDisplay string `json:"total_display"`
	DueDisplay   string `json:"amount_due_display"`
	StatusLabel  string `json:"status_label"`
	StatusColor  string `json:"status_color"`
}

func toResponse(inv *domain.Invoice) invoiceResponse {
	return invoiceResponse{
		Invoice:      inv,
		TotalDisplay: money.Format(inv.TotalAmount),
		DueDisplay:   money.Format(inv.AmountDue),
		StatusLabel:  inv.Status.Label(),
		StatusColor:  inv.Status.Color(),
	}
}

// Create handles POST /invoices.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := handler.DecodeJSON(w, r, &req); err != nil {
		handler.RespondError(w, r, err)
		return
	}

	items := make([]domain.LineItemInput, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = domain.LineItemInput{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   domain.Cents(li.UnitPrice),
		}
	}

	methods := make([]domain.PaymentMethod, 0, len(req.AcceptedMethods))
	for _, m := range req.AcceptedMethods {
		method, err := domain.ParsePaymentMethod(m)
		if err != nil {
			handler.RespondError(w, r, err)
			return
		}
		methods = append(methods, method)
	}

	params := domain.CreateInvoiceParams{
		ClientID:           req.ClientID,
		AdditionalPayerIDs: req.AdditionalPayerIDs,
		ProjectID:          req.ProjectID,
		LineItems:          items,
		TaxRate:            req.TaxRate,
		DiscountAmount:     domain.Cents(req.DiscountAmount),
		DueDate:            req.DueDate,
		Settings: domain.PaymentSettings{
			AcceptedMethods:      methods,
			AllowPartialPayments: req.AllowPartial,
			AutoChargeEnabled:    req.AutoCharge,
		},
		CreatedBy: req.CreatedBy,
	}
	if req.IssueDate != nil {
		params.IssueDate = *req.IssueDate
	}

	inv, err := h.invoices.CreateInvoice(r.Context(), params)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusCreated, toResponse(inv))
}

// List handles GET /invoices.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	params := domain.ListInvoicesParams{}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := domain.ParseInvoiceStatus(v)
		if err != nil {
			handler.RespondError(w, r, err)
			return
		}
		params.Status = &status
	}
	if v := q.Get("client_id"); v != "" {
		clientID, err := uuid.Parse(v)
		if err != nil {
			handler.RespondError(w, r, domain.Invalid("api.invoice_list", "invalid client_id"))
			return
		}
		params.ClientID = &clientID
	}
	params.Limit = parseInt32(q.Get("limit"), 50)
	params.Offset = parseInt32(q.Get("offset"), 0)

	invoices, err := h.invoices.ListInvoices(r.Context(), params)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}

	out := make([]invoiceResponse, len(invoices))
	for i := range invoices {
		out[i] = toResponse(&invoices[i])
	}
	handler.RespondJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

// Get handles GET /invoices/{id}. Accepts an invoice id or, as a
// convenience for dashboard search, a human-readable invoice number.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")

	var (
		inv *domain.Invoice
		err error
	)
	if id, parseErr := uuid.Parse(raw); parseErr == nil {
		inv, err = h.invoices.GetInvoice(r.Context(), id)
	} else {
		inv, err = h.invoices.GetInvoiceByNumber(r.Context(), raw)
	}
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, toResponse(inv))
}

type scheduleRequest struct {
	SendAt time.Time `json:"send_at"`
}

// Schedule handles POST /invoices/{id}/schedule.
func (h *InvoiceHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	var req scheduleRequest
	if err := handler.DecodeJSON(w, r, &req); err != nil {
		handler.RespondError(w, r, err)
		return
	}

	inv, err := h.invoices.ScheduleInvoice(r.Context(), id, req.SendAt)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, toResponse(inv))
}

// Send handles POST /invoices/{id}/send.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.SendInvoice)
}

// Cancel handles POST /invoices/{id}/cancel.
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.CancelInvoice)
}

// Reconcile handles POST /invoices/{id}/reconcile, the manual trigger
// for the pull-based gateway reconciliation path.
func (h *InvoiceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.ReconcileFromGateway)
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)) {
	id, err := pathID(r)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	inv, err := fn(r.Context(), id)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, toResponse(inv))
}

type refundRequest struct {
	Amount     int64  `json:"amount_cents"`
	Reason     string `json:"reason"`
	RecordedBy string `json:"recorded_by"`
}

// Refund handles POST /invoices/{id}/refund.
func (h *InvoiceHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	var req refundRequest
	if err := handler.DecodeJSON(w, r, &req); err != nil {
		handler.RespondError(w, r, err)
		return
	}

	inv, err := h.invoices.RefundInvoice(r.Context(), domain.RefundInvoiceParams{
		InvoiceID:  id,
		Amount:     domain.Cents(req.Amount),
		Reason:     req.Reason,
		RecordedBy: req.RecordedBy,
	})
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, toResponse(inv))
}

type recordPaymentRequest struct {
	Amount     int64  `json:"amount_cents"`
	Method     string `json:"method"`
	Note       string `json:"note"`
	RecordedBy string `json:"recorded_by"`
}

// RecordPayment handles POST /invoices/{id}/payments, the manual
// payment command.
func (h *InvoiceHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	var req recordPaymentRequest
	if err := handler.DecodeJSON(w, r, &req); err != nil {
		handler.RespondError(w, r, err)
		return
	}

	inv, payment, err := h.invoices.RecordPayment(r.Context(), domain.RecordPaymentParams{
		InvoiceID:  id,
		Amount:     domain.Cents(req.Amount),
		Method:     domain.PaymentMethod(req.Method),
		Note:       req.Note,
		RecordedBy: req.RecordedBy,
	})
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, map[string]any{
		"invoice": toResponse(inv),
		"payment": payment,
	})
}

type paymentLinkRequest struct {
	PayerContact string `json:"payer_contact"`
}

// CreatePaymentLink handles POST /invoices/{id}/payment-link.
func (h *InvoiceHandler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	var req paymentLinkRequest
	if err := handler.DecodeJSON(w, r, &req); err != nil {
		handler.RespondError(w, r, err)
		return
	}

	url, err := h.invoices.CreatePaymentLink(r.Context(), id, req.PayerContact)
	if err != nil {
		handler.RespondError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, map[string]string{"payment_url": url})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("api.invoice", "invalid invoice id")
	}
	return id, nil
}

func parseInt32(s string, fallback int32) int32 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}
