package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMetadata is returned when a conversion is constructed without a
	// metadata document and without a discoverer.
	ErrNoMetadata = errors.New("required one of: metadata document or discoverer")

	// ErrAmbiguousSession is returned when discovery found several sessions and
	// no explicit selection was made.
	ErrAmbiguousSession = errors.New("several sessions found, an explicit selection is required")
)

// ConfigError represents a fatal configuration problem detected at construction
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FetchError represents a failed call against the laboratory database
type FetchError struct {
	SessionID string
	Dataset   string
	Op        string // "search", "list", "rest", "load", "download"
	Err       error
}

func (e *FetchError) Error() string {
	if e.Dataset == "" {
		return fmt.Sprintf("fetch error: %s %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("fetch error: %s %s/%s: %v", e.Op, e.SessionID, e.Dataset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError represents errors decoding a dataset file
type ParseError struct {
	Format string // "npy", "csv", "ssv", "cbin", "json"
	Path   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SectionError represents a structural failure while writing one section
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section error [%s]: %v", e.Section, e.Err)
}

func (e *SectionError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// StorageError represents errors accessing output storage
type StorageError struct {
	Path string
	Op   string // "open", "put", "get", "delete"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
