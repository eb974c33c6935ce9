package app

import "fmt"

// DomainError is the one failure shape the HTTP layer maps: a stable
// machine code the hosting UI can branch on, a human message for its error
// panel, and the status the dispatcher writes. Collaborator errors (auth
// exchange, catalog, sessions, snapshots) are translated into these at the
// service boundary and nowhere else.
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
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
