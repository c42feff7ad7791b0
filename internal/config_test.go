package internal

import (
	"testing"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)
	var cfg Config

	// Given an empty environment
	_, err := env.UnmarshalFromEnviron(&cfg)

	// Then every key falls back to its default
	req.NoError(err)
	req.Equal(8000, cfg.Port)
	req.Equal(time.Second, cfg.RedactionDelay)
	req.Equal(10*1024*1024, cfg.MaxUploadSize)
	req.True(cfg.EnableModeration)
	req.Equal([]string{"*"}, cfg.Origins())
}

func TestConfig_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("REDACTION_DELAY", "250ms")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, ,https://chat.example")
	var cfg Config

	_, err := env.UnmarshalFromEnviron(&cfg)

	req.NoError(err)
	req.Equal("127.0.0.1:9090", cfg.Address())
	req.Equal(250*time.Millisecond, cfg.RedactionDelay)
	req.Equal([]string{"http://localhost:3000", "https://chat.example"}, cfg.Origins())
}

func TestCharacterRune(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    rune
		wantErr bool
	}{
		{"ascii", "*", '*', false},
		{"multibyte", "█", '█', false},
		{"empty", "", 0, true},
		{"too long", "**", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := CharacterRune(tt.input)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}
