package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

func TestHttpStatusForDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantOK     bool
	}{
		{"validation", core.ErrValidation("BAD_INPUT", "bad"), http.StatusUnprocessableEntity, true},
		{"not found", core.ErrNotFound("workflow", "x"), http.StatusNotFound, true},
		{"conflict", core.ErrConflict(core.CodePendingTasks, "busy"), http.StatusConflict, true},
		{"state", core.ErrState(core.CodeNotPaused, "not paused"), http.StatusConflict, true},
		{"timeout", core.ErrTimeout("timed out"), http.StatusGatewayTimeout, true},
		{"network", core.ErrNetwork("GET /api/task failed"), http.StatusBadGateway, true},
		{"remote", core.ErrRemote(core.CodeRemoteError, "500"), http.StatusBadGateway, true},
		{"internal", &core.DomainError{Category: core.ErrCatInternal}, http.StatusInternalServerError, true},
		{"non-domain error", errors.New("plain"), 0, false},
		{"nil error", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := httpStatusForDomainError(tt.err)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}
