package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingID    = errors.New("identifier is required")
	ErrMissingTitle = errors.New("title is required")
)
