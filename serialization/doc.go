// Package serialization provides ParseNodeFactory implementations for JSON,
// CBOR and text/plain response bodies, and a registry that selects one by
// Content-Type.
package serialization
