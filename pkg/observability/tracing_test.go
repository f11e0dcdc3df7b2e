package observability

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracing_DisabledLogs(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	tp, err := InitTracing(t.Context(), TracingConfig{Enabled: false}, log)
	require.NoError(t, err)
	assert.Nil(t, tp)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "disabled")
}

func TestShutdownTracing_NilProvider(t *testing.T) {
	assert.NoError(t, ShutdownTracing(t.Context(), nil, nil))
}

func TestTracer(t *testing.T) {
	assert.NotNil(t, Tracer())
}
