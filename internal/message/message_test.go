package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/sanitizer"
)

func TestDecode_EveryType(t *testing.T) {
	for _, typ := range Types() {
		t.Run(string(typ), func(t *testing.T) {
			msg, err := Decode([]byte(`{"type":"` + string(typ) + `","contextId":3}`))
			require.NoError(t, err)
			assert.Equal(t, typ, msg.Type())
			assert.Equal(t, model.ContextID(3), msg.Context())
		})
	}
}

func TestDecode_Payloads(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"user-action","contextId":1,"action":{"type":"click","label":"Login","time":5}}`))
	require.NoError(t, err)
	action, ok := msg.(*UserAction)
	require.True(t, ok)
	assert.Equal(t, model.ActionRecord{Type: model.ActionClick, Label: "Login", Time: 5}, action.Action)

	msg, err = Decode([]byte(`{"type":"network-page","contextId":2,"status":"FAIL","url":"/a","detail":"boom",
		"request":{"method":"post","headers":{"Content-Type":"application/json"},"body":{"user":"a"}}}`))
	require.NoError(t, err)
	page := msg.(*NetworkPage)
	assert.True(t, page.Status.Valid())
	assert.True(t, page.Status.Fail)
	assert.Equal(t, map[string]any{"user": "a"}, page.Request.Payload())
	assert.Nil(t, page.Response.Payload())

	msg, err = Decode([]byte(`{"type":"set-allow-list","allowList":["a","*.b"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "*.b"}, msg.(*SetAllowList).AllowList)
	assert.Equal(t, model.NoContext, msg.Context())

	msg, err = Decode([]byte(`{"type":"capture-toggled","enabled":false}`))
	require.NoError(t, err)
	assert.False(t, msg.(*CaptureToggled).Enabled)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"paint-badge"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"console","level":"error","actions":"click"}`))
	assert.ErrorIs(t, err, ErrMalformed, "actions must be a list")
}

func TestDecode_PayloadError(t *testing.T) {
	tests := []struct {
		raw     string
		capture bool
	}{
		{`{"type":"console","level":7,"message":"x"}`, true},
		{`{"type":"network-page","url":["a"]}`, true},
		{`{"type":"network-observed","method":{}}`, true},
		{`{"type":"set-allow-list","allowList":"localhost"}`, false},
	}
	for _, tt := range tests {
		_, err := Decode([]byte(tt.raw))
		var payloadErr *PayloadError
		require.ErrorAs(t, err, &payloadErr, tt.raw)
		assert.ErrorIs(t, err, ErrMalformed, tt.raw)
		assert.Equal(t, tt.capture, payloadErr.Capture(), tt.raw)
	}
}

func TestDecode_LenientStatus(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"network-page","status":"teapot","url":"/a"}`))
	require.NoError(t, err)
	assert.False(t, msg.(*NetworkPage).Status.Valid())
}

func TestBody_Payload(t *testing.T) {
	tests := []struct {
		name string
		body *Body
		want any
	}{
		{"nil", nil, nil},
		{"empty", &Body{}, nil},
		{"string", &Body{Data: []byte(`"a=1&b=2"`)}, "a=1&b=2"},
		{"array", &Body{Data: []byte(`[1,2]`)}, []any{float64(1), float64(2)}},
		{"blob", &Body{Shape: "blob", Type: "image/png", Size: 10}, sanitizer.Blob{Type: "image/png", Size: 10}},
		{"stream", &Body{Shape: "stream"}, sanitizer.Stream{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.body.Payload())
		})
	}
}
