package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402gate/types"
)

func TestParseX402Config(t *testing.T) {
	cfg, err := ParseX402Config([]byte(`{
		"defaultTimeout": "15s",
		"logLevel": "debug",
		"enableMetrics": true,
		"networks": [
			{"network": "testnet", "url": "http://localhost:3999"},
			{"network": "mainnet"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, []types.NetworkConfig{
		{Network: types.NetworkTestnet, URL: "http://localhost:3999"},
		{Network: types.NetworkMainnet},
	}, cfg.Networks)
}

func TestParseX402Config_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code string
	}{
		{"not json", `{`, types.CodeInvalidRequirements},
		{"unknown network", `{"networks":[{"network":"devnet"}]}`, types.CodeSchemaViolation},
		{"bad url", `{"networks":[{"network":"testnet","url":"not a url"}]}`, types.CodeSchemaViolation},
		{"bad level", `{"logLevel":"loud"}`, types.CodeSchemaViolation},
		{"bad timeout", `{"defaultTimeout":"soon"}`, types.CodeSchemaViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseX402Config([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}
