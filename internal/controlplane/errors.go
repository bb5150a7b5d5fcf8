package controlplane

import (
	"errors"
	"net/http"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/metrics"
)

// Sentinel errors for request handling outside the market itself.
var (
	ErrUnauthenticated = errors.New("missing or invalid credentials")
	ErrRateLimited     = errors.New("too many purchases, slow down")
)

// ErrorResponse is the JSON body of every failed call.
type ErrorResponse struct {
	Error     string `json:"error"`
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code,omitempty"`
}

// statusFor maps a market error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrServiceNotActive),
		errors.Is(err, market.ErrInvalidStateTransition),
		errors.Is(err, market.ErrTransferRejected):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err. Internal errors are not echoed to the caller.
func errorBody(err error) (int, ErrorResponse) {
	status := statusFor(err)
	if status == http.StatusUnauthorized || status == http.StatusTooManyRequests {
		return status, ErrorResponse{Error: err.Error()}
	}

	codespace, code, msg := errorsmod.ABCIInfo(err, false)
	if status == http.StatusInternalServerError {
		return status, ErrorResponse{Error: "internal error"}
	}
	metrics.Rejections.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
	return status, ErrorResponse{Error: msg, Codespace: codespace, Code: code}
}
