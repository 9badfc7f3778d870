package calendar

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the entry or the workspace no longer exists downstream.
	ErrNotFound = errors.New("calendar entry not found")
	// ErrForbidden means the actor lost the right to manage entries in the workspace.
	ErrForbidden = errors.New("missing permission to manage calendar entries")
)

// Discord JSON error codes with a fixed meaning for scheduled events.
const (
	codeUnknownGuild          = 10004
	codeUnknownScheduledEvent = 10070
	codeMissingAccess         = 50001
	codeMissingPermissions    = 50013
)

// APIError is a non-2xx response from the calendar platform.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("calendar api: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("calendar api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Code == codeMissingPermissions || e.Code == codeMissingAccess || e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Code == codeUnknownScheduledEvent || e.Code == codeUnknownGuild || e.Status == http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// FailureClass is how the synchronizer reacts to a downstream error.
type FailureClass int

const (
	// FailureTransient leaves the link untouched for the next cycle.
	FailureTransient FailureClass = iota
	// FailurePermanent drops the link.
	FailurePermanent
	// FailurePermission drops the link and disables the workspace's calendar feature.
	FailurePermission
)

func (c FailureClass) String() string {
	switch c {
	case FailurePermanent:
		return "permanent"
	case FailurePermission:
		return "permission"
	}
	return "transient"
}

func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrForbidden):
		return FailurePermission
	case errors.Is(err, ErrNotFound):
		return FailurePermanent
	}
	return FailureTransient
}
