package dkit

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	// ErrorTypeConfig represents settings-related errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFS represents file system-related errors
	ErrorTypeFS ErrorType = "filesystem"
	// ErrorTypeBinary represents missing DCD binaries
	ErrorTypeBinary ErrorType = "binary"
	// ErrorTypeSelection represents invalid cursor/selection state
	ErrorTypeSelection ErrorType = "selection"
	// ErrorTypeLookup represents symbol or documentation lookups that found nothing
	ErrorTypeLookup ErrorType = "lookup"
	// ErrorTypeProject represents package manager errors
	ErrorTypeProject ErrorType = "project"
	// ErrorTypeProcess represents subprocess failures
	ErrorTypeProcess ErrorType = "process"
)

// Sentinel errors wrapped by AppError values. Match them with errors.Is.
var (
	ErrBinaryNotFound              = errors.New("binary not found")
	ErrAmbiguousSelection          = errors.New("exactly one cursor is required")
	ErrSymbolNotFound              = errors.New("symbol not found")
	ErrDocumentationNotFound       = errors.New("documentation not found")
	ErrMalformedProjectDescription = errors.New("malformed project description")
	ErrSubprocessSpawn             = errors.New("failed to spawn subprocess")
)

// AppError is a custom error type that provides context about the error
type AppError struct {
	Type    ErrorType // The category of the error
	Message string    // A human-readable error message
	Err     error     // The underlying error, if any
	File    string    // The file related to the error, if applicable
	Details string    // Additional details about the error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeConfig, Message: message, Err: err}
}

// NewFSError creates a new file system error
func NewFSError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeFS, Message: message, Err: err}
}

// NewBinaryNotFoundError reports that the named DCD binary is missing at path.
func NewBinaryNotFoundError(which, path string) *AppError {
	return &AppError{
		Type:    ErrorTypeBinary,
		Message: fmt.Sprintf("%s doesn't exist in the path specified", which),
		Err:     ErrBinaryNotFound,
		File:    path,
		Details: "Set dcd_path in the settings and restart the server",
	}
}

// NewSelectionError reports a request made with zero or several cursors.
func NewSelectionError(cursors int) *AppError {
	return &AppError{
		Type:    ErrorTypeSelection,
		Message: fmt.Sprintf("got %d cursors", cursors),
		Err:     ErrAmbiguousSelection,
		Details: "Place a single cursor on the symbol",
	}
}

// NewLookupError wraps ErrSymbolNotFound or ErrDocumentationNotFound.
func NewLookupError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeLookup, Message: message, Err: err}
}

// NewProjectError creates a package manager error
func NewProjectError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeProject, Message: message, Err: err}
}

// NewSpawnError reports that binary could not be started.
func NewSpawnError(binary string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeProcess,
		Message: "failed to spawn " + binary,
		Err:     errors.Join(ErrSubprocessSpawn, err),
		File:    binary,
	}
}

// NewProcessError reports a subprocess that ran but failed.
func NewProcessError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeProcess, Message: message, Err: err}
}

// WithFile adds file information to an error. Non-AppError values are
// wrapped into a file system AppError.
func WithFile(err error, file string) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.File = file
		return appErr
	}
	return &AppError{Type: ErrorTypeFS, Message: err.Error(), Err: err, File: file}
}

// WithDetails adds additional details to an error
func WithDetails(err error, details string) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.Details = details
		return appErr
	}
	return &AppError{Type: ErrorTypeFS, Message: err.Error(), Err: err, Details: details}
}

// GetErrorInfo extracts the AppError from an error chain, if any.
func GetErrorInfo(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
