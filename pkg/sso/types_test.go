package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginState_String(t *testing.T) {
	tests := []struct {
		state LoginState
		want  string
	}{
		{StateAwaitingCode, "awaiting_code"},
		{StateTokenExchanged, "token_exchanged"},
		{StateAccountResolved, "account_resolved"},
		{LoginState(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultTenantID, cfg.DefaultTenantID)
	assert.Equal(t, "lark", cfg.FallbackDomain)

	cfg = Config{DefaultTenantID: 7, FallbackDomain: "corp.example"}.withDefaults()
	assert.Equal(t, int64(7), cfg.DefaultTenantID)
	assert.Equal(t, "corp.example", cfg.FallbackDomain)
}
