package api

import "errors"

var (
	errMalformedAfter = errors.New("after must be <addr>/<ack>/<name>")
	errBadLimit       = errors.New("limit must be a positive integer")
)
