package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProdSkipsDebugAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := New(EnvProd, &buf)

	log.Debug("hidden")
	log.Info("order created", slog.Int64("order_id", 7))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "order created", rec["msg"])
	assert.Equal(t, ServiceName, rec["service"])
	assert.Equal(t, EnvProd, rec["env"])
	assert.EqualValues(t, 7, rec["order_id"])
}

func TestNew_DevWritesDebug(t *testing.T) {
	var buf bytes.Buffer
	New(EnvDev, &buf).Debug("basket loaded")

	assert.Contains(t, buf.String(), `"msg":"basket loaded"`)
}

func TestNew_UnknownEnvFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	New("staging", &buf).Debug("hidden")

	assert.Empty(t, buf.String())
}
