package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		context map[string]any
		want    string
	}{
		{
			name:    "plain text",
			input:   "Welcome aboard!",
			context: map[string]any{},
			want:    "Welcome aboard!",
		},
		{
			name:    "context lookup",
			input:   "Hi {{.first_name}}, thanks for signing up",
			context: map[string]any{"first_name": "Ana"},
			want:    "Hi Ana, thanks for signing up",
		},
		{
			name:    "missing key renders empty",
			input:   "Hi {{.nickname}}!",
			context: map[string]any{},
			want:    "Hi !",
		},
		{
			name:    "nested lookup",
			input:   "You said: {{.last_reply.text}}",
			context: map[string]any{"last_reply": map[string]any{"text": "yes"}},
			want:    "You said: yes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input, tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("Hi {{.broken", map[string]any{})
	assert.Error(t, err)
}
