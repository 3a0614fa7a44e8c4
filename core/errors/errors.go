// Package errors provides the error taxonomy shared by the annotation store,
// the alignment model and the converters.
package errors

import (
	"errors"
	"fmt"
)

// Sentinels matched with Is. Every typed error below unwraps to one of them
// unless it carries an explicit cause.
var (
	// ErrNotFound: a resource, data set, annotation or file is missing
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: malformed or inconsistent input
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists: an identifier collision
	ErrAlreadyExists = errors.New("already exists")
	// ErrIncompleteAlignment: a segment pair lacks a declared source
	ErrIncompleteAlignment = errors.New("incomplete alignment")
	// ErrRepoNotFound: no repository exists for a document id
	ErrRepoNotFound = errors.New("repository not found")
	// ErrClone: a repository exists but could not be fetched
	ErrClone = errors.New("clone failed")
	// ErrUnsupported: a format or feature this module does not handle
	ErrUnsupported = errors.New("unsupported")
)

// NotFoundError is a failed lookup.
type NotFoundError struct {
	Resource string // "resource", "annotation", "dataset", "volume", ...
	ID       string
	Err      error // overrides ErrNotFound as the cause
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError rejects a field of some input.
type ValidationError struct {
	Field   string
	Value   string // offending value, when short enough to show
	Message string
	Err     error // overrides ErrInvalidInput as the cause
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// DuplicateError is an identifier collision while building or merging stores.
type DuplicateError struct {
	Kind string // "resource", "dataset", "data", "annotation", "data binding", "store"
	ID   string
	Err  error // overrides ErrAlreadyExists as the cause
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s id: %s", e.Kind, e.ID)
}

func (e *DuplicateError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrAlreadyExists
}

// IOError is a failed file system or database operation.
type IOError struct {
	Operation string // "read", "write", "open index", ...
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError is undecodable input: a store document, layer, manifest or query.
type ParseError struct {
	Format  string // "JSON", "YAML", "query", "bundle", ...
	Path    string // empty for in-memory input
	Message string
	Err     error // overrides ErrInvalidInput as the cause
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// InvalidOutputPathError is returned when a store is saved to a path
// without the expected extension.
type InvalidOutputPathError struct {
	Path string
	Want string // expected extension, e.g. ".json"
}

func (e *InvalidOutputPathError) Error() string {
	return fmt.Sprintf("invalid output path %s: must have %s extension", e.Path, e.Want)
}

func (e *InvalidOutputPathError) Unwrap() error {
	return ErrInvalidInput
}

// IncompleteAlignmentError reports a segment pair missing declared sources.
type IncompleteAlignmentError struct {
	AlignmentID string
	PairID      string
	Missing     []string
}

func (e *IncompleteAlignmentError) Error() string {
	return fmt.Sprintf("alignment %s: segment pair %s is missing sources %v", e.AlignmentID, e.PairID, e.Missing)
}

func (e *IncompleteAlignmentError) Unwrap() error {
	return ErrIncompleteAlignment
}

// RepoError is a failed repository fetch.
type RepoError struct {
	Org  string
	Repo string
	Err  error // ErrRepoNotFound, ErrClone, or a wrapped cause
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("repo %s/%s: %v", e.Org, e.Repo, e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// UnsupportedError names something this module does not handle.
type UnsupportedError struct {
	Feature string // e.g. "archive format"
	Reason  string // usually the offending value
	Err     error
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// NewNotFound returns a NotFoundError for the kind and id.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewValidation returns a ValidationError for field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewDuplicate returns a DuplicateError for the kind and id.
func NewDuplicate(kind, id string) *DuplicateError {
	return &DuplicateError{Kind: kind, ID: id}
}

// NewIO returns an IOError.
func NewIO(operation, path string, err error) *IOError {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// NewParse returns a ParseError without an underlying cause.
func NewParse(format, path, message string) *ParseError {
	return &ParseError{Format: format, Path: path, Message: message}
}

// NewUnsupported returns an UnsupportedError.
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{Feature: feature, Reason: reason}
}

// Wrap prefixes err with message. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is errors.Is, so callers need a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target any) bool { return errors.As(err, target) }
