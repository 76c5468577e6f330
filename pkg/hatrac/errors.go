// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package hatrac holds the core domain types shared by the directory,
// the storage backends and the REST surface.
package hatrac

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an HTTP-visible service failure. The REST layer maps every
// Error to a negotiated response body; everything else surfaces as an
// internal server error with a redacted message.
type Error struct {
	Status      int    `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Title
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Description)
}

func newError(status int, format string, args ...interface{}) *Error {
	return &Error{
		Status:      status,
		Title:       http.StatusText(status),
		Description: fmt.Sprintf(format, args...),
	}
}

// NewBadRequest reports a malformed request.
func NewBadRequest(format string, args ...interface{}) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

// NewUnauthorized reports missing authentication for an anonymous client.
func NewUnauthorized(format string, args ...interface{}) *Error {
	return newError(http.StatusUnauthorized, format, args...)
}

// NewForbidden reports lack of authorization for a known client.
func NewForbidden(format string, args ...interface{}) *Error {
	return newError(http.StatusForbidden, format, args...)
}

// NewNotFound reports access to an undefined or deleted resource.
func NewNotFound(format string, args ...interface{}) *Error {
	return newError(http.StatusNotFound, format, args...)
}

// NewMethodNotAllowed reports a method unsupported by the resource kind.
func NewMethodNotAllowed(format string, args ...interface{}) *Error {
	return newError(http.StatusMethodNotAllowed, format, args...)
}

// NewConflict reports a request conflicting with current server state.
func NewConflict(format string, args ...interface{}) *Error {
	return newError(http.StatusConflict, format, args...)
}

// NewLengthRequired reports a missing Content-Length header.
func NewLengthRequired(format string, args ...interface{}) *Error {
	return newError(http.StatusLengthRequired, format, args...)
}

// NewPreconditionFailed reports a failed If-Match / If-None-Match check.
func NewPreconditionFailed(format string, args ...interface{}) *Error {
	return newError(http.StatusPreconditionFailed, format, args...)
}

// NewPayloadTooLarge reports a request body above the configured limit.
func NewPayloadTooLarge(format string, args ...interface{}) *Error {
	return newError(http.StatusRequestEntityTooLarge, format, args...)
}

// NewRangeNotSatisfiable reports a Range header outside the content bounds.
func NewRangeNotSatisfiable(format string, args ...interface{}) *Error {
	return newError(http.StatusRequestedRangeNotSatisfiable, format, args...)
}

// NewNotImplemented reports a recognized but unsupported request feature.
func NewNotImplemented(format string, args ...interface{}) *Error {
	return newError(http.StatusNotImplemented, format, args...)
}

// NewInternal reports a server-side failure with a redacted description.
func NewInternal(format string, args ...interface{}) *Error {
	return newError(http.StatusInternalServerError, format, args...)
}

// AsError unwraps err to a *Error when it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
