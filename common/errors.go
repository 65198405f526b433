package common

import (
	"fmt"
	"strconv"
)

// DocumentParseError reports a PDF structure that could not be used.
// Offset is -1 when no position applies.
type DocumentParseError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *DocumentParseError) Error() string {
	msg := "pdf: " + e.Msg
	if e.Offset >= 0 {
		msg += " at offset " + strconv.FormatInt(e.Offset, 10)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DocumentParseError) Unwrap() error {
	return e.Err
}

// FieldNotFoundError is returned when a named signature field does not exist.
type FieldNotFoundError struct {
	Name string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("signature field %q not found", e.Name)
}

// DuplicateFieldError is returned when adding a field whose name is taken.
type DuplicateFieldError struct {
	Name string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("signature field %q already exists", e.Name)
}

// CredentialError covers bad passwords and corrupt certificates or keys.
type CredentialError struct {
	Msg string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credentials: %s: %v", e.Msg, e.Err)
	}
	return "credentials: " + e.Msg
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ChainValidationError names the first broken link of a certificate chain.
// Index 0 is the leaf.
type ChainValidationError struct {
	Index   int
	Subject string
	Msg     string
	Err     error
}

func (e *ChainValidationError) Error() string {
	msg := fmt.Sprintf("certificate chain broken at link %d (%s): %s", e.Index, e.Subject, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChainValidationError) Unwrap() error {
	return e.Err
}

// CryptoError is a failure in a digest, sign or encode step.
type CryptoError struct {
	Op        string
	Algorithm string
	Err       error
}

func (e *CryptoError) Error() string {
	msg := "crypto: " + e.Op
	if e.Algorithm != "" {
		msg += " (" + e.Algorithm + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// AppearanceError reports an unusable visible signature specification.
type AppearanceError struct {
	Msg string
}

func (e *AppearanceError) Error() string {
	return "appearance: " + e.Msg
}

// ResourceError is a failed cleanup or an unknown resource handle.
type ResourceError struct {
	ID   uint64
	Kind string
	Err  error
}

func (e *ResourceError) Error() string {
	msg := fmt.Sprintf("resource %d", e.ID)
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// TimestampError is never fatal: the signature is kept without a token.
type TimestampError struct {
	URL string
	Err error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("timestamp from %s: %v", e.URL, e.Err)
}

func (e *TimestampError) Unwrap() error {
	return e.Err
}
