package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
}

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
	case core.ErrCatConflict, core.ErrCatState:
		return http.StatusConflict, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatNetwork, core.ErrCatRemote:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondError sends a JSON error response with the message only.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

// respondErr maps err to a status and writes it. Non-domain errors are
// logged and reported as internal.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	s.respondJSON(w, status, errorResponse{
		Error:    core.Message(err),
		Code:     domErr.Code,
		Category: string(domErr.Category),
	})
}
