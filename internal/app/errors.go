package app

import (
	"errors"
	"fmt"
	"net/http"

	"hubview/api/internal/gate"
	"hubview/api/internal/panel"
	"hubview/api/internal/remote"
	"hubview/api/internal/viewer"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errPanelNotFound  = domainError(http.StatusNotFound, "PANEL_NOT_FOUND", "Panel not found", nil)
	errNodeNotFound   = domainError(http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
	errSessionPending = domainError(http.StatusConflict, "SESSION_PENDING", "Waiting for a user session", nil)
	errHubsNotReady   = domainError(http.StatusConflict, "HUBS_NOT_READY", "Hubs are not loaded yet", nil)
	errPanelClosed    = domainError(http.StatusGone, "PANEL_CLOSED", "Panel has been closed", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var preErr *viewer.PreconditionError
	if errors.As(err, &preErr) {
		return http.StatusConflict, "NOT_LOADABLE", preErr.Error(), map[string]any{"nodeId": preErr.NodeID, "missing": preErr.Missing}
	}
	switch {
	case errors.Is(err, gate.ErrSessionRequired):
		return http.StatusForbidden, "SESSION_REQUIRED", "Login was declined", nil
	case errors.Is(err, gate.ErrNoPrompt):
		return http.StatusConflict, "NO_LOGIN_PROMPT", "No login prompt is pending", nil
	case errors.Is(err, gate.ErrClosed):
		return http.StatusGone, "PANEL_CLOSED", "Panel has been closed", nil
	case errors.Is(err, panel.ErrTransitionInFlight):
		return http.StatusConflict, "DOCKING_IN_PROGRESS", "A docking transition is already in progress", nil
	case errors.Is(err, panel.ErrNotMounted):
		return http.StatusConflict, "PANEL_NOT_MOUNTED", "Panel is not mounted", nil
	case errors.Is(err, viewer.ErrNodeUnmounted):
		return http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil
	}
	var svcErr *remote.ServiceError
	if errors.As(err, &svcErr) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", svcErr.Error(), map[string]any{"status": svcErr.Status}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
