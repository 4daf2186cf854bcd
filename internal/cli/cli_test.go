package cli

import (
	"bytes"
	"testing"
	"time"

	"fleet-tracking/internal/general/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		mode    string
		rest    []string
		wantErr bool
	}{
		{name: "flag", args: []string{"--mode=tracking-gateway", "--config=x.yaml"}, mode: ModeGateway, rest: []string{"--config=x.yaml"}},
		{name: "flag alias", args: []string{"--mode=monitor"}, mode: ModeMonitor},
		{name: "subcommand", args: []string{"driver", "--lat=1"}, mode: ModeDriver, rest: []string{"--lat=1"}},
		{name: "first subcommand wins", args: []string{"m", "driver"}, mode: ModeMonitor, rest: []string{"driver"}},
		{name: "missing", args: []string{"--config=x.yaml"}, wantErr: true},
		{name: "unknown", args: []string{"--mode=ride-service"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, rest, err := ParseMode(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestPrintUsageListsModes(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf)
	for _, m := range []string{ModeGateway, ModeMonitor, ModeDriver} {
		assert.Contains(t, buf.String(), m)
	}
}

func TestGenerateUserToken(t *testing.T) {
	token, claims, err := GenerateUserToken("secret", time.Hour, 7, "carlos", "chofer")
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ID)
	assert.Equal(t, "7", claims.Subject)

	parsed, err := jwt.NewManager("secret", time.Hour).ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, "carlos", parsed.Username)

	_, _, err = GenerateUserToken("secret", time.Hour, 0, "carlos", "")
	assert.Error(t, err)
}
