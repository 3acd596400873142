package app

import "fmt"

// DomainError maps verbatim onto an HTTP response: Status becomes the
// response status, Code/Message/Details the JSON error body. Save conflicts
// carry the file's current version in Details so an editor can resync its
// base without a second round trip.
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
