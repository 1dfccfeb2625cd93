// Package api is the transport client for the image-generation backend.
//
// Every backend capability is exposed as one method on Client that takes a
// context and returns either a decoded DTO or an *Error. Failures are
// normalized into *Error (status, message, kind, path), logged at ERROR with a
// request correlation identifier, and returned to the caller without retries.
// The package also carries the embedded JSON Schema for the execute payload so
// malformed jobs are rejected before they reach the network.
package api
