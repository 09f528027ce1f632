package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/scribo-app/scribo/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatNetwork:
		return http.StatusServiceUnavailable, true
	case core.ErrCatExecution:
		if domErr.Code == core.CodeAnalysisFailed || domErr.Code == core.CodeModelUnavailable {
			return http.StatusServiceUnavailable, true
		}
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps err to a status and a {"error","code"} body.
func respondDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}

	status, ok := httpStatusForDomainError(err)
	if !ok {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if wait, ok := core.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	body := map[string]interface{}{
		"error": domErr.Message,
		"code":  domErr.Code,
	}
	if len(domErr.Details) > 0 {
		body["details"] = domErr.Details
	}
	respondJSON(w, status, body)
}
