package domain

import "errors"

// Sentinel errors used throughout the domain layer.
var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrCodeNotFound     = errors.New("confirmation code not found")
	ErrCodeExpired      = errors.New("confirmation code expired")
	ErrModelNotFound    = errors.New("model not found")
	ErrParameterInvalid = errors.New("parameter is invalid")
	ErrTaskInvalid      = errors.New("task is invalid")
)
