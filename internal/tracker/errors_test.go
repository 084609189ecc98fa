package tracker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfTraversesWrapChain(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrKindRateLimitTimeout, "slot wait exceeded 30s")
	wrapped := fmt.Errorf("acquire ozon limiter: %w", inner)

	require.Equal(t, ErrKindRateLimitTimeout, KindOf(wrapped))
	require.Equal(t, ErrorKind(""), KindOf(errors.New("untyped")))
	require.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewError(ErrKindNetwork, "fetch product page", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "network_error")
	require.Contains(t, err.Error(), "connection refused")
}

func TestItemErrorOf(t *testing.T) {
	t.Parallel()

	require.Nil(t, ItemErrorOf(nil))

	typed := ItemErrorOf(Errorf(ErrKindParse, "price node missing"))
	require.Equal(t, ErrKindParse, typed.Kind)
	require.Contains(t, typed.Message, "price node missing")

	// Untyped errors default to the network kind so they stay retryable.
	untyped := ItemErrorOf(errors.New("tls handshake failed"))
	require.Equal(t, ErrKindNetwork, untyped.Kind)
}
