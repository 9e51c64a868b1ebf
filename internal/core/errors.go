// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap with %w and test with errors.Is.
var (
	// Task management errors
	ErrTaskStartFailed = errors.New("pandit: task start failed")

	// Pipeline errors
	ErrPipelineStopped = errors.New("pandit: pipeline stopped")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("pandit: packet too short")
	ErrUnsupportedProto = errors.New("pandit: unsupported protocol")

	// HTTP response inspection errors
	ErrNotHTTPResponse  = errors.New("pandit: payload is not an HTTP response")
	ErrTruncated        = errors.New("pandit: window too short to classify")
	ErrDuplicateSegment = errors.New("pandit: duplicate tcp segment")

	// Flow state errors
	ErrCacheFull  = errors.New("pandit: flow cache full")
	ErrFlowExists = errors.New("pandit: flow already recorded")
	ErrStoreFull  = errors.New("pandit: header store full")

	// Plugin errors
	ErrPluginNotFound   = errors.New("pandit: plugin not found")
	ErrPluginInitFailed = errors.New("pandit: plugin init failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("pandit: invalid configuration")
)
