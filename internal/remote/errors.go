package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is returned for every remote call that does not succeed.
// Status is 0 when the request never produced a response (dial failure, timeout).
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status == 0 {
		return fmt.Sprintf("service unavailable: %s", e.Message)
	}
	return fmt.Sprintf("service error (%d %s): %s", e.Status, http.StatusText(e.Status), e.Message)
}

// IsStatus reports whether err is a ServiceError carrying the given status.
func IsStatus(err error, status int) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status == status
	}
	return false
}
