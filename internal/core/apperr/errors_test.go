package apperr

import (
	"fmt"
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"validation", Validation("directory.create", "title", "cannot be empty"), KindValidation},
		{"unauthorized", Unauthorized("directory.create"), KindUnauthorized},
		{"remote", Remote("directory.list", stderrors.New("permission denied")), KindRemote},
		{"remotef", Remotef("responder.trigger", "chatbot said %q", "no"), KindRemote},
		{"best effort", BestEffort("responder.trigger", stderrors.New("timeout")), KindBestEffort},
		{"plain", stderrors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.Equal(t, tt.kind, KindOf(wrapped), "kind must survive wrapping")
		})
	}
}

func TestRemotePreservesMessage(t *testing.T) {
	cause := stderrors.New("GraphQL Error: field not found")
	err := Remote("transcript.send", cause)

	require.True(t, IsRemote(err))
	assert.Contains(t, err.Error(), "GraphQL Error: field not found")
	assert.Equal(t, cause, Cause(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestRemoteDoesNotDoubleWrap(t *testing.T) {
	inner := Remote("graphql.request", stderrors.New("503"))
	outer := Remote("directory.list", inner)
	assert.Same(t, inner, outer)
}

func TestRemoteKeepsUnauthorized(t *testing.T) {
	err := Remote("graphql.list_messages", Unauthorized("auth.access_token"))
	assert.True(t, IsUnauthorized(err))
}

func TestNilPassThrough(t *testing.T) {
	assert.NoError(t, Remote("op", nil))
	assert.NoError(t, BestEffort("op", nil))
}

func TestValidationMessage(t *testing.T) {
	err := Validation("transcript.send", "content", "too long (max 1000 characters)")
	assert.Equal(t, "transcript.send: invalid content: too long (max 1000 characters)", err.Error())
}
