package fabric

import "errors"

// Store level errors.
var (
	ErrNotFound    = errors.New("fabric: not found")
	ErrInvalidCID  = errors.New("fabric: invalid cid")
	ErrCIDMismatch = errors.New("fabric: cid mismatch")
	ErrImmutable   = errors.New("fabric: immutable object mismatch")
)

// Access layer errors.
var (
	ErrAllEndpointsFailed = errors.New("fabric: all endpoints failed")
	ErrInvalidReference   = errors.New("fabric: invalid content reference")
	ErrPublishFailed      = errors.New("fabric: publish failed")
)

// Per-attempt rejections. These never escape Fetch.
var (
	errEmptyBody = errors.New("fabric: empty body")
	errHTMLBody  = errors.New("fabric: html body")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
