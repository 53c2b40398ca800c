// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := newError(KindMessageTooLarge, "Connection.Send", errors.New("boom"))
	assert.Contains(t, err.Error(), "Connection.Send")
	assert.Contains(t, err.Error(), "MessageTooLarge")
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := newError(KindCompletionError, "op", errors.New("cause"))
	assert.True(t, errors.Is(err, &Error{Kind: KindCompletionError}))
	assert.False(t, errors.Is(err, &Error{Kind: KindSetupFailure}))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := newError(KindSetupFailure, "op", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "HandlerMissing", KindHandlerMissing.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}
