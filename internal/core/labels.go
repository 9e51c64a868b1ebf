// Package core defines core types.
package core

// Labels represents key-value metadata attached by parsers and processors.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelHTTPVersion       = "http.version"        // "1.1"
	LabelHTTPStatusCode    = "http.status_code"    // decimal, 0-999
	LabelHTTPContentLength = "http.content_length" // decimal, absent when unknown
	LabelHTTPBodyOffset    = "http.body_offset"    // payload offset of the first body byte
	LabelHTTPHeaderCount   = "http.header_count"   // entries captured from this packet
	LabelHTTPTruncated     = "http.truncated"      // "true" when the header cap was hit with data left
	LabelHTTPContinuation  = "http.continuation"   // "true" for packets after the status line
	LabelHTTPComplete      = "http.complete"       // "true" once Content-Length bytes were seen
	LabelHTTPFlow          = "http.flow"           // "<addr>/<ack>"

	// LabelHTTPHeaderPrefix prefixes selected header values, e.g. http.header.content-type.
	LabelHTTPHeaderPrefix = "http.header."
	// LabelHTTPBodyPrefix prefixes extracted JSON body fields, e.g. http.body.data.id.
	LabelHTTPBodyPrefix = "http.body."
)
