package store

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReplyError mimics an error reply produced by the server.
type fakeReplyError string

func (e fakeReplyError) Error() string { return string(e) }
func (e fakeReplyError) RedisError()   {}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil reply", redis.Nil, KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindConnectivity},
		{"missing group", fakeReplyError("NOGROUP No such consumer group 'g'"), KindNotFound},
		{"wrong type", fakeReplyError("WRONGTYPE Operation against a key holding the wrong kind of value"), KindTypeMismatch},
		{"missing script", fakeReplyError("NOSCRIPT No matching script"), KindScript},
		{"generic reply", fakeReplyError("ERR syntax error"), KindProtocol},
		{"dial failure", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindConnectivity},
		{"socket timeout", fakeTimeoutError{}, KindTimeout},
		{"unknown local error", errors.New("boom"), KindConnectivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", "key", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestClassify_NilAndPassthrough(t *testing.T) {
	assert.NoError(t, classify("op", "key", nil))

	wrapped := NewError(KindValidation, "save_rule", "routing:rules:x", errors.New("bad priority"))
	again := classify("other_op", "other_key", wrapped)

	var se *Error
	require.ErrorAs(t, again, &se)
	assert.Equal(t, KindValidation, se.Kind)
	assert.Equal(t, "save_rule", se.Op, "already-classified errors keep their context")
}

func TestClassifyScript_ReplyErrorsBecomeScriptKind(t *testing.T) {
	err := classifyScript("route_message", "events.topic.v1",
		fakeReplyError("ERR Error running script: user_script:12: attempt to compare nil"))
	assert.True(t, IsScript(err))

	// Known command failures keep their specific kind.
	err = classifyScript("read_claim_or_dlq", "log",
		fakeReplyError("NOGROUP No such consumer group"))
	assert.True(t, IsNotFound(err))
}

func TestError_StringAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindTimeout, "append", "orders.v1", cause)

	assert.Contains(t, err.Error(), "append")
	assert.Contains(t, err.Error(), "orders.v1")
	assert.Contains(t, err.Error(), string(KindTimeout))
	assert.ErrorIs(t, err, cause)

	bare := NewError(KindScript, "script_load", "", cause)
	assert.NotContains(t, bare.Error(), "  ", "no double space when the key is empty")
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewError(KindNotFound, "get", "k", redis.Nil)))
	assert.True(t, IsValidation(NewError(KindValidation, "save", "k", errors.New("x"))))
	assert.True(t, IsTimeout(NewError(KindTimeout, "read", "k", context.DeadlineExceeded)))
	assert.True(t, IsConnectivity(NewError(KindConnectivity, "dial", "", errors.New("x"))))
	assert.True(t, IsScript(NewError(KindScript, "load", "", errors.New("x"))))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestConnectGivesUpOnCanceledContext(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a dead endpoint")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, Config{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
}
