package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientProfile = `container_id: orders-client
hostname: broker.local
idle_timeout: 30s
sasl:
  mode: client
  mechanisms: [PLAIN]
  username: guest
  password: guest
`

const brokerProfile = `container_id: "broker"
sasl: {
	mode: "server"
	users: guest: "guest"
}
receiver: {
	credit_window: 2
	settle_mode: "first"
}
`

func TestConfigCommand_Text(t *testing.T) {
	path := writeFile(t, "client.yaml", []byte(clientProfile))

	stdout, _, err := execute(t, "config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Profile "+path+" is valid")
	assert.Contains(t, stdout, "orders-client")
	assert.Contains(t, stdout, "client PLAIN")
	assert.Contains(t, stdout, "tag_generator:")
	assert.NotContains(t, stdout, "guest")
}

func TestConfigCommand_CUE(t *testing.T) {
	path := writeFile(t, "broker.cue", []byte(brokerProfile))

	stdout, _, err := execute(t, "config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "server (1 users, anonymous false)")
	assert.Contains(t, stdout, "credit_window:")
}

func TestConfigCommand_JSONRedacts(t *testing.T) {
	path := writeFile(t, "broker.cue", []byte(brokerProfile))

	stdout, _, err := execute(t, "--format", "json", "config", path)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ContainerID string `json:"container_id"`
			SASL        struct {
				Users map[string]string `json:"users"`
			} `json:"sasl"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "broker", resp.Data.ContainerID)
	assert.Equal(t, map[string]string{"guest": "***"}, resp.Data.SASL.Users)
}

func TestConfigCommand_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown field", "typo.yaml", "container_idd: x\n"},
		{"schema", "small.yaml", "max_frame_size: 100\n"},
		{"bad duration", "slow.yaml", "idle_timeout: soon\n"},
		{"format", "profile.toml", "container_id = \"x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, []byte(tt.content))
			stdout, _, err := execute(t, "config", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, stdout, "Error [E002]")
		})
	}
}
