// Package handler contains shared HTTP response helpers used by the API
// and webhook handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldstack/fieldstack/internal/billing"
	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/middleware"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// RespondJSON writes data as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Default().Error("failed to encode response", slog.String("error", err.Error()))
		}
	}
}

// RespondError maps an error to its HTTP status and writes the JSON
// error envelope. Internal details are logged, never sent to clients.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	logger := middleware.GetLogger(r.Context())

	if domain.IsValidationError(err) {
		RespondJSON(w, http.StatusBadRequest, ErrorBody{
			Error:  "Validation failed",
			Code:   domain.EINVALID,
			Fields: domain.GetValidationFields(err),
		})
		return
	}

	var stripeErr *billing.StripeError
	if errors.As(err, &stripeErr) {
		logger.Error("payment gateway error",
			slog.String("error", err.Error()),
			slog.String("stripe_request_id", stripeErr.RequestID))
		RespondJSON(w, http.StatusServiceUnavailable, ErrorBody{
			Error: "Payment gateway unavailable. Please try again.",
			Code:  domain.EUNAVAILABLE,
		})
		return
	}

	code := domain.ErrorCode(err)
	status := statusFromCode(code)
	if status >= 500 {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Info("request rejected",
			slog.String("code", code),
			slog.String("error", err.Error()))
	}

	RespondJSON(w, status, ErrorBody{
		Error: domain.ErrorMessage(err),
		Code:  code,
	})
}

func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a request body, rejecting unknown fields and
// oversized payloads.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("handler.decode", "malformed JSON request body")
	}
	return nil
}
