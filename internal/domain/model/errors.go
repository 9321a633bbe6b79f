package model

import "errors"

// Sentinel kinds for model validation.
var (
	ErrInvalidProfile = errors.New("invalid participant profile")
)
