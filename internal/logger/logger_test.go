package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFields_AttachModuleAndBlockAsStructuredKeys(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}

	l.InfoFields(WithModule(3).AndBlock(1000), "processing module")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, float64(3), decoded["module_id"])
	require.Equal(t, float64(1000), decoded["block_number"])
	require.Equal(t, "processing module", decoded["message"])
}

func TestWithBlock_OmitsModuleID(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}

	l.WarnFields(WithBlock(42), "stale snapshot")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.NotContains(t, decoded, "module_id")
	require.Equal(t, float64(42), decoded["block_number"])
}
