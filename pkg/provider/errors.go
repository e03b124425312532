/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed compute request.
type ErrorKind int

const (
	// ErrorKindNone is returned by KindOf for a nil error.
	ErrorKindNone ErrorKind = iota
	// ErrorKindAddressInUse means the requested IP literal is already reserved, under any name.
	ErrorKindAddressInUse
	// ErrorKindNameInUse means a resource with the requested name already exists.
	ErrorKindNameInUse
	// ErrorKindNotFound means the referenced resource does not exist.
	ErrorKindNotFound
	// ErrorKindOther covers every other failure: permissions, quota, timeouts, malformed requests.
	ErrorKindOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "None"
	case ErrorKindAddressInUse:
		return "AddressInUse"
	case ErrorKindNameInUse:
		return "NameInUse"
	case ErrorKindNotFound:
		return "NotFound"
	default:
		return "Other"
	}
}

// Error is a classified failure returned by a Provider call.
type Error struct {
	Kind ErrorKind
	// Code is the HTTP status code of the failed request, zero if unknown.
	Code    int
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s (code %d, reason %s): %s", e.Kind, e.Code, e.Reason, msg)
	}
	return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// OperationError is returned when an operation reaches DONE carrying errors.
type OperationError struct {
	Operation string
	Kind      ErrorKind
	Codes     []string
	Messages  []string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed (%s): %s", e.Operation, strings.Join(e.Codes, ","), strings.Join(e.Messages, "; "))
}

// KindOf returns the classification of err. Errors that were not classified by
// a Provider are reported as ErrorKindOther.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var operr *OperationError
	if errors.As(err, &operr) {
		return operr.Kind
	}
	return ErrorKindOther
}

// IsNotFound reports whether err means the requested resource does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}
