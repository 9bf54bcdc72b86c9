package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAgainstEmbeddedSchema(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, VerifyAgainstEmbeddedSchema(cfg))
	})

	t.Run("missing server listen", func(t *testing.T) {
		bad := *cfg
		bad.Server.Listen = ""
		err := VerifyAgainstEmbeddedSchema(&bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.listen is required")
	})

	t.Run("missing model", func(t *testing.T) {
		bad := *cfg
		bad.LLM.Model = ""
		err := VerifyAgainstEmbeddedSchema(&bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.model is required")
	})

	t.Run("missing use cases", func(t *testing.T) {
		bad := *cfg
		bad.UseCases = nil
		err := VerifyAgainstEmbeddedSchema(&bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "use_cases is required")
	})
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)

	// the reflected schema must describe the Config type
	def, ok := schema.Definitions["Config"]
	require.True(t, ok, "schema must contain Config definition")
	assert.NotNil(t, def.Properties)
}
