package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/google/uuid"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindPermission Kind = "permission"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindServer     Kind = "server"
)

// StoreError is returned by every Client call that fails. Err is the typed
// cause (a registrystore error where the server reported one), so errors.As
// matches both the StoreError and the cause.
type StoreError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// errorBody is the server's error payload.
type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func networkError(op string, err error) error {
	return &StoreError{Op: op, Kind: KindNetwork, Err: err}
}

// statusError turns a non-2xx response into a StoreError. resource and id
// describe what the request addressed, for NotFoundError.
func statusError(op string, status int, body []byte, listID uuid.UUID, resource, id string) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		eb.Error = http.StatusText(status)
	}
	se := &StoreError{Op: op, StatusCode: status}
	switch {
	case status == http.StatusBadRequest:
		se.Kind = KindValidation
		se.Err = &registrystore.ValidationError{Field: "request", Message: eb.Error}
	case status == http.StatusUnauthorized:
		se.Kind = KindPermission
		se.Err = errors.New(eb.Error)
	case status == http.StatusForbidden:
		se.Kind = KindPermission
		se.Err = &registrystore.ForbiddenError{}
	case status == http.StatusNotFound:
		se.Kind = KindNotFound
		se.Err = &registrystore.NotFoundError{Resource: resource, ID: id}
	case status == http.StatusConflict && eb.Code == "duplicate_grant":
		se.Kind = KindConflict
		se.Err = &registrystore.DuplicateGrantError{ListID: listID}
	case status == http.StatusConflict:
		se.Kind = KindConflict
		se.Err = &registrystore.ConflictError{Code: eb.Code, Message: eb.Error}
	default:
		se.Kind = KindServer
		se.Err = fmt.Errorf("unexpected status %d: %s", status, eb.Error)
	}
	return se
}
