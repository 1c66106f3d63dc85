package validation

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/model"
)

func TestValidator_IsValid(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name  string
		event *model.Event
		want  bool
	}{
		{"nil", nil, false},
		{"network", &model.Event{Kind: model.KindNetwork, Time: 1, Status: model.HTTPStatus(500), URL: "/a"}, true},
		{"network fail", &model.Event{Kind: model.KindNetwork, Time: 1, Status: model.FailStatus(), URL: "/a"}, true},
		{"network no status", &model.Event{Kind: model.KindNetwork, Time: 1, URL: "/a"}, false},
		{"network zero status", &model.Event{Kind: model.KindNetwork, Time: 1, Status: model.HTTPStatus(0), URL: "/a"}, false},
		{"network empty url", &model.Event{Kind: model.KindNetwork, Time: 1, Status: model.HTTPStatus(500)}, false},
		{"console", &model.Event{Kind: model.KindConsole, Time: 1, Level: "error", Message: "boom"}, true},
		{"console empty message", &model.Event{Kind: model.KindConsole, Time: 1, Level: "error"}, true},
		{"console no level", &model.Event{Kind: model.KindConsole, Time: 1, Message: "boom"}, false},
		{"unknown kind", &model.Event{Kind: "paint", Time: 1}, false},
		{"missing time", &model.Event{Kind: model.KindConsole, Level: "error"}, false},
		{"bad action", &model.Event{
			Kind: model.KindConsole, Time: 1, Level: "error",
			Actions: []model.ActionRecord{{Type: "hover"}},
		}, false},
		{"good actions", &model.Event{
			Kind: model.KindConsole, Time: 1, Level: "error",
			Actions: []model.ActionRecord{{Type: model.ActionClick, Label: "Login"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsValid(tt.event))
		})
	}
}

func TestValidator_DecodedStatus(t *testing.T) {
	v := NewValidator()

	for raw, want := range map[string]bool{
		`500`:      true,
		`"FAIL"`:   true,
		`"oops"`:   false,
		`500.5`:    false,
		`null`:     false,
		`{"a": 1}`: false,
	} {
		var e model.Event
		require.NoError(t, json.Unmarshal([]byte(`{"kind":"network","time":5,"url":"/x","status":`+raw+`}`), &e))
		assert.Equal(t, want, v.IsValid(&e), raw)
	}
}
