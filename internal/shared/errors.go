package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Cache and download errors
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrNotMaterialized = fmt.Errorf("file not materialized")
	ErrNotInLibrary    = fmt.Errorf("path not in library")

	// Persistence errors
	ErrTrackNotFound    = fmt.Errorf("track not found")
	ErrSourceNotFound   = fmt.Errorf("source not found")
	ErrDuplicateSource  = fmt.Errorf("source root already registered")
	ErrDuplicateTrack   = fmt.Errorf("track path already registered")
	ErrValidationFailed = fmt.Errorf("validation failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
