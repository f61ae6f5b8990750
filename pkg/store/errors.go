package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// Kind classifies store failures so callers can pick a reaction (retry,
// HTTP status mapping, surfacing) without matching on message strings.
type Kind string

const (
	// KindConnectivity covers dial, pool and socket failures. Transient, retryable.
	KindConnectivity Kind = "connectivity"
	// KindProtocol covers malformed replies and unexpected command errors.
	KindProtocol Kind = "protocol"
	// KindNotFound covers missing keys, consumer groups and entries.
	KindNotFound Kind = "not_found"
	// KindTypeMismatch covers operations against a key holding the wrong type.
	KindTypeMismatch Kind = "type_mismatch"
	// KindValidation covers rejected caller input.
	KindValidation Kind = "validation"
	// KindScript covers server-side script registration and execution failures.
	KindScript Kind = "script"
	// KindTimeout covers per-call deadline and read/write timeout expiry.
	KindTimeout Kind = "timeout"
)

// Error is the uniform store error: a kind, the failing operation, the key
// involved when known, and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a store error with an explicit kind.
func NewError(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// KindOf returns the kind carried by err, or KindProtocol when err carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindProtocol
}

// IsNotFound reports whether err is a missing key, group or entry.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsValidation reports whether err is rejected caller input.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

// IsTimeout reports whether err is a per-call deadline expiry.
func IsTimeout(err error) bool { return hasKind(err, KindTimeout) }

// IsConnectivity reports whether err is a transient transport failure.
func IsConnectivity(err error) bool { return hasKind(err, KindConnectivity) }

// IsScript reports whether err came from server-side script handling.
func IsScript(err error) bool { return hasKind(err, KindScript) }

func hasKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// classify wraps a raw client error with op/key context and a kind.
// nil stays nil; already-classified errors pass through unchanged.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kindFor(err), Op: op, Key: key, Err: err}
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, redis.Nil):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindConnectivity
	case redis.HasErrorPrefix(err, "NOGROUP"):
		return KindNotFound
	case redis.HasErrorPrefix(err, "WRONGTYPE"):
		return KindTypeMismatch
	case redis.HasErrorPrefix(err, "NOSCRIPT"):
		return KindScript
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}

	// A reply the server produced is a protocol-level failure; anything
	// else never reached the server.
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return KindProtocol
	}
	return KindConnectivity
}
