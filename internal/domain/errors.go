package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrImageTooLarge  = errors.New("image too large")
	ErrNoEnvironment  = errors.New("no environment image available")
	ErrAllPosesFailed = errors.New("all poses failed")
)
