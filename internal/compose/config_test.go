package compose

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PreservesUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"known only", `{"name":"p","services":{"a":{"image":"x"}}}`},
		{"extras only", `{"networks":{"default":{"name":"p_default"}},"x-meta":"v"}`},
		{"mixed", `{"name":"p","services":{},"configs":{"c":{"file":"/c"}}}`},
		{"empty", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			require.NoError(t, json.Unmarshal([]byte(tt.input), &cfg))
			out, err := json.Marshal(cfg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.input, string(out))
		})
	}
}

func TestConfig_NullServices(t *testing.T) {
	t.Parallel()
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"services":null}`), &cfg))
	assert.Nil(t, cfg.Services)
	assert.Empty(t, cfg.ServiceNames())
}

func TestConfig_RejectsNonObject(t *testing.T) {
	t.Parallel()
	var cfg Config
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`{"name":42}`), &cfg))
}
