package usage

import "errors"

var (
	ErrRecordNotFound = errors.New("usage record not found")
	ErrUsageExceeded  = errors.New("feature usage limit exceeded")
)
