package event_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

func TestEmailOf(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"email field", `{"email":"a@x.com","name":"A"}`, "a@x.com"},
		{"user_email fallback", `{"user_email":"b@x.com"}`, "b@x.com"},
		{"email wins", `{"user_email":"b@x.com","email":"a@x.com"}`, "a@x.com"},
		{"non-string email", `{"email":42}`, ""},
		{"missing", `{"id":1}`, ""},
		{"not an object", `[1,2]`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, event.EmailOf([]byte(tc.data)))
		})
	}
}

func TestValidPayload(t *testing.T) {
	cases := []struct {
		data string
		want bool
	}{
		{`{"email":"a@x.com"}`, true},
		{`[1]`, true},
		{`{}`, false},
		{`[]`, false},
		{`null`, false},
		{`"text"`, false},
		{`12`, false},
		{`{"email":`, false},
		{``, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, event.ValidPayload([]byte(tc.data)), "payload %q", tc.data)
	}
}

func TestEmissionSuppression(t *testing.T) {
	ctx := context.Background()
	assert.False(t, event.EmissionSuppressed(ctx))
	assert.True(t, event.EmissionSuppressed(event.WithoutEmission(ctx)))
}
