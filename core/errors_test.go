package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	transport := &TransportError{Op: "GET /threats", StatusCode: 503, Err: errors.New("unavailable")}

	testCases := []struct {
		name string
		err  error
		kind string
	}{
		{"transport", transport, "transport"},
		{"wrapped transport", fmt.Errorf("poll: %w", transport), "transport"},
		{"malformed", &MalformedPayloadError{Source: "stream", Index: -1, Err: errors.New("eof")}, "malformed_payload"},
		{"stale", &StaleUpdateError{Kind: KindThreat, ID: "t1", Field: "status"}, "stale_update"},
		{"unknown", &UnknownEntityError{Kind: KindAlert, ID: "a1", Op: "acknowledge"}, "unknown_entity"},
		{"rejected wraps transport", &MutationRejectedError{Command: "respond", ID: "t1", Err: transport}, "mutation_rejected"},
		{"closed", fmt.Errorf("apply: %w", ErrStoreClosed), "store_closed"},
		{"other", errors.New("boom"), "other"},
		{"nil", nil, "none"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, ErrorKind(tc.err))
		})
	}
}

func TestMutationRejectedError_UnwrapsCause(t *testing.T) {
	cause := &TransportError{Op: "PUT /alerts/a1/read", StatusCode: 500, Err: errors.New("internal")}
	err := &MutationRejectedError{Command: "acknowledge", ID: "a1", RolledBack: true, Err: cause}

	assert.True(t, errors.Is(err, ErrMutationRejected))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "rolled back")

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 500, te.StatusCode)
}

func TestMalformedPayloadError_Message(t *testing.T) {
	item := &MalformedPayloadError{Source: "snapshot:threats", Index: 2, Err: errors.New("missing id")}
	assert.Contains(t, item.Error(), "item 2")

	whole := &MalformedPayloadError{Source: "snapshot:alerts", Index: -1, Err: errors.New("eof")}
	assert.NotContains(t, whole.Error(), "item")
}
