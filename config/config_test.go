package config

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

func clearPayerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PAYER_SECRET", "")
	t.Setenv("FS_PAYER_SECRET_PATH", "")
}

func TestLoad_NeitherPayerSecretSet_ReturnsConfigError(t *testing.T) {
	clearPayerEnv(t)

	_, err := Load()
	require.Error(t, err)
	require.True(t, errors.Is(err, oraclerr.ErrConfig))
}

func TestLoad_FSPayerSecretPathSet_Succeeds(t *testing.T) {
	clearPayerEnv(t)
	t.Setenv("FS_PAYER_SECRET_PATH", "/tmp/payer.json")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/payer.json", cfg.FSPayerSecretPath)
	require.Empty(t, cfg.PayerSecret)
}

func TestLoad_PayerSecretSet_DecodesBase64(t *testing.T) {
	clearPayerEnv(t)
	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i)
	}
	t.Setenv("PAYER_SECRET", base64.StdEncoding.EncodeToString(raw))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, raw, cfg.PayerSecret)
}

func TestLoad_DefaultsAppliedWhenUnset(t *testing.T) {
	clearPayerEnv(t)
	t.Setenv("FS_PAYER_SECRET_PATH", "/tmp/payer.json")
	t.Setenv("RPC_URL", "")
	t.Setenv("WS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.devnet.solana.com", cfg.RPCURL)
	require.Equal(t, "wss://api.devnet.solana.com", cfg.WSURL)
	require.Equal(t, defaultPythBTCFeed, cfg.FeedIDs.BTC)
}

func TestLoad_WSURLExplicit_OverridesDerivation(t *testing.T) {
	clearPayerEnv(t)
	t.Setenv("FS_PAYER_SECRET_PATH", "/tmp/payer.json")
	t.Setenv("WS_URL", "wss://custom-endpoint.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://custom-endpoint.example.com", cfg.WSURL)
}

func TestDeriveWSURL_SwapsScheme(t *testing.T) {
	require.Equal(t, "wss://foo.bar", deriveWSURL("https://foo.bar"))
	require.Equal(t, "ws://foo.bar", deriveWSURL("http://foo.bar"))
}
