package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty context", &Context{}, UnknownValue, UnknownValue},
		{"populated", NewContext("v1.2.0", "2026-10-01T12:00:00Z"), "v1.2.0", "2026-10-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestReleaseAndUserAgent(t *testing.T) {
	t.Parallel()
	ctx := NewContext("v0.3.1", "")
	assert.Equal(t, "faunavision@v0.3.1", ctx.Release())
	assert.Equal(t, "faunavision-go/v0.3.1", ctx.UserAgent())

	var missing *Context
	assert.Equal(t, "faunavision-go/unknown", missing.UserAgent())
}

func TestContextImplementsBuildInfo(t *testing.T) {
	t.Parallel()
	var info BuildInfo = NewContext("dev", "")
	assert.Equal(t, "dev", info.GetVersion())
}
