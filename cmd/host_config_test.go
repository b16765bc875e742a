package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadHostConfig_AllFields(t *testing.T) {
	// GIVEN a config using every field
	path := writeConfig(t, `
preempt_interval_ms: 5
log_level: debug
exit_on_last: false
spool: /var/spool/vmhost
metrics: true
trace: messages
instances:
  - program: file:app.img
    url: true
  - program: "- print: hi"
`)

	// WHEN loaded
	cfg, err := loadHostConfig(path)

	// THEN every field is populated
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.hostConfig().PreemptInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.exitOnLast())
	assert.Equal(t, "/var/spool/vmhost", cfg.Spool)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, "messages", cfg.Trace)
	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, InstanceSpec{Program: "file:app.img", URL: true}, cfg.Instances[0])
	assert.False(t, cfg.Instances[1].URL)
}

func TestLoadHostConfig_Defaults(t *testing.T) {
	cfg, err := loadHostConfig(writeConfig(t, "instances: [{program: x}]\n"))
	require.NoError(t, err)

	assert.True(t, cfg.exitOnLast())
	assert.Equal(t, time.Millisecond, cfg.hostConfig().PreemptInterval)
}

func TestLoadHostConfig_UnknownField_Rejected(t *testing.T) {
	// GIVEN a typo in a field name
	path := writeConfig(t, "preempt_interval: 5\n")

	// WHEN loaded
	_, err := loadHostConfig(path)

	// THEN strict parsing refuses it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preempt_interval")
}

func TestLoadHostConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative interval", "preempt_interval_ms: -1\n", "preempt_interval_ms"},
		{"unknown trace level", "trace: everything\n", "unknown trace level"},
		{"empty program", "instances: [{url: true}]\n", "program is empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadHostConfig(writeConfig(t, tc.body))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadHostConfig_MissingFile(t *testing.T) {
	_, err := loadHostConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read host config")
}
