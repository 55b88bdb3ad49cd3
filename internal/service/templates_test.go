package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRenderer(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	tests := []struct {
		name     string
		bindings map[string]any
		want     []string
	}{
		{
			name: TemplateNewPost,
			bindings: map[string]any{
				"post":            map[string]any{"title": "Moms 2026", "intro": ""},
				"post_url":        "https://harpans.se/blogg/moms/",
				"unsubscribe_url": "https://harpans.se/blogg/avregistrera/abc/",
			},
			want: []string{"Moms 2026", "https://harpans.se/blogg/moms/", "https://harpans.se/blogg/avregistrera/abc/"},
		},
		{name: TemplateContact, bindings: map[string]any{}},
		{name: TemplateCallback, bindings: map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.name, tt.bindings)
			require.NoError(t, err)
			assert.NotEmpty(t, out)
			assert.Equal(t, byte('\n'), out[len(out)-1])
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
		})
	}

	_, err = r.Render("saknas.txt", nil)
	assert.Error(t, err)
}
