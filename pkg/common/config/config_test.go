package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIM_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.StreamCadence)
	assert.Equal(t, SinkModeLive, cfg.SinkMode)
	assert.Equal(t, "patient-vitals-data-topic", cfg.VitalsTopic)
	assert.Equal(t, "arrhythmia/svc_start", cfg.MQTTStartTopic)
	assert.Equal(t, "arrhythmia/svc_action", cfg.MQTTActionTopic)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream_cadence: 250ms
vitals_topic: from-file
kafka_brokers: [a:9092]
sink_mode: dry-run
`), 0o600))
	t.Setenv("SIM_CONFIG_FILE", path)
	t.Setenv("VITALS_TOPIC", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ROSTER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.StreamCadence)
	assert.Equal(t, "from-env", cfg.VitalsTopic)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, SinkModeDryRun, cfg.SinkMode)
	assert.True(t, cfg.RosterEnabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown sink mode", "SINK_MODE", "carrier-pigeon"},
		{"negative cadence", "STREAM_CADENCE", "-1s"},
		{"bad qos", "MQTT_QOS", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIM_CONFIG_FILE", "")
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("SIM_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := Defaults()
	cfg.PostgresPassword = "secret"
	assert.Equal(t, "host=localhost user=synaptica password=secret dbname=synaptica port=5432 sslmode=disable", cfg.PostgresDSN())
}
