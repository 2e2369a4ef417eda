package withdrawald

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "withdrawald.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
dev_mode: true
genesis_supply: "1000000"
admin:
  bearer_token: " token "
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, "withdrawald-data", cfg.DataDir)
	require.Equal(t, 2*time.Second, cfg.BlockInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.Core.Timeout.Duration)
	require.Equal(t, uint64(1), cfg.Core.ConfirmAfter)
	require.Equal(t, "creditchain.withdrawals", cfg.NATS.Subject)
	require.Equal(t, "WITHDRAWALS", cfg.NATS.Stream)
	require.Equal(t, "token", cfg.Admin.BearerToken)
	require.True(t, cfg.Admin.TLS.Disable)
	require.Equal(t, float64(600), cfg.Admin.RateLimit.RequestsPerMinute)
	require.Empty(t, cfg.Audit.Driver)
}

func TestLoadConfigResolvesSecretsFromEnv(t *testing.T) {
	t.Setenv("WD_SIGNER", "0xabcdef")
	t.Setenv("WD_JWT", "hmac")
	t.Setenv("WD_CORE_PASS", "rpcpass")
	path := writeConfig(t, `
core:
  endpoint: https://core.example:9998
  username: rpc
  password_env: WD_CORE_PASS
  signer_key_env: WD_SIGNER
  timeout: 3s
admin:
  jwt:
    secret_env: WD_JWT
    issuer: ops
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "0xabcdef", cfg.Core.SignerKey)
	require.Equal(t, "rpcpass", cfg.Core.Password)
	require.Equal(t, 3*time.Second, cfg.Core.Timeout.Duration)
	require.Equal(t, "hmac", cfg.Admin.JWT.Secret)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown field": "dev_mode: true\nbogus: 1\nadmin:\n  bearer_token: x\n",
		"no auth":       "dev_mode: true\n",
		"no core":       "admin:\n  bearer_token: x\ncore:\n  signer_key: ab\n",
		"no signer":     "core:\n  endpoint: http://core\nadmin:\n  bearer_token: x\n",
		"bad supply":    "dev_mode: true\ngenesis_supply: lots\nadmin:\n  bearer_token: x\n",
		"mtls no tls":   "dev_mode: true\nadmin:\n  mtls:\n    enabled: true\n    client_ca: ca.pem\n",
		"bad audit":     "dev_mode: true\naudit:\n  driver: mysql\nadmin:\n  bearer_token: x\n",
		"pg no dsn":     "dev_mode: true\naudit:\n  driver: postgres\nadmin:\n  bearer_token: x\n",
		"bad duration":  "dev_mode: true\nblock_interval: soon\nadmin:\n  bearer_token: x\n",
		"discovery dns": "core:\n  discovery_domain: core.example\n  signer_key: ab\nadmin:\n  bearer_token: x\n",
	}
	for name, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		require.Error(t, err, name)
	}
}

func TestLoadConfigReadsBearerTokenFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("from-file\n"), 0o600))
	cfg, err := LoadConfig(writeConfig(t, "dev_mode: true\nadmin:\n  bearer_token_file: "+tokenPath+"\n"))
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Admin.BearerToken)
}
