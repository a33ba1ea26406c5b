package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	labels, err = ParseMetricsLabels("env=prod,region=us-east-1")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{"env": "prod", "region": "us-east-1"}, labels)

	_, err = ParseMetricsLabels("no-equals-sign")
	assert.Error(t, err)

	_, err = ParseMetricsLabels("bad key=v")
	assert.Error(t, err)
}

func TestParseMetricsLabels_EnvExpansion(t *testing.T) {
	t.Setenv("TELEMETRY_TEST_REGION", "eu-west-1")
	labels, err := ParseMetricsLabels("region=${TELEMETRY_TEST_REGION}")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{"region": "eu-west-1"}, labels)
}
