package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mdlayher/wifictl/internal/mangle"
	"github.com/mdlayher/wifictl/internal/scan"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/wifitypes"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/run/wifid.sock", cfg.Socket.Path)
	assert.Equal(t, 16, cfg.Socket.Burst)
	assert.Zero(t, cfg.Socket.Rate)
	assert.Equal(t, 4, cfg.Codec.MaxDepth)
	assert.Equal(t, scan.DefaultTimeout, cfg.Scan.Timeout)
	assert.Equal(t, vif.DefaultAssociateTimeout, cfg.Associate.Timeout)
	assert.Equal(t, 64, cfg.Notify.QueueLen)
	assert.Equal(t, mangle.Normal, cfg.Variant())

	assert.Equal(t, []wifitypes.Wiphy{{Index: 0, Name: "phy0"}}, cfg.SimConfig().Wiphys)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifid.yaml")
	err := os.WriteFile(path, []byte(`
socket:
  path: /tmp/test.sock
  rate: 20
codec:
  strict: true
scan:
  timeout: 250ms
sim:
  wiphys:
    - index: 0
    - index: 1
      name: radio1
  networks:
    - ssid: testnet
      bssid: "aa:bb:cc:dd:ee:ff"
      channel: 6
      refuse_assoc: 17
mangle:
  variant: tarpit
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.sock", cfg.Socket.Path)
	assert.Equal(t, 20.0, cfg.Socket.Rate)
	assert.True(t, cfg.Codec.Strict)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.Timeout)
	assert.Equal(t, mangle.Tarpit, cfg.Variant())

	sc := cfg.SimConfig()
	assert.Equal(t, []wifitypes.Wiphy{{Index: 0, Name: "phy0"}, {Index: 1, Name: "radio1"}}, sc.Wiphys)
	require.Len(t, sc.Networks, 1)
	assert.Equal(t, "testnet", sc.Networks[0].SSID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", sc.Networks[0].BSSIDString)
	assert.Equal(t, 6, sc.Networks[0].Channel)
	assert.Equal(t, uint16(17), sc.Networks[0].RefuseAssoc)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("WIFID_SOCKET_PATH", "/var/run/other.sock")
	t.Setenv("WIFID_NOTIFY_QUEUE_LEN", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/run/other.sock", cfg.Socket.Path)
	assert.Equal(t, 8, cfg.Notify.QueueLen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("socket.path", "")
	v.Set("codec.max_depth", 0)
	v.Set("scan.timeout", "0s")
	v.Set("mangle.variant", "scramble")
	v.Set("sim.wiphys", []map[string]interface{}{{"index": 1}, {"index": 1}})

	_, err := FromViper(v)
	require.Error(t, err)

	for _, want := range []string{
		"socket.path",
		"codec.max_depth",
		"scan.timeout",
		`unknown variant "scramble"`,
		"duplicate index 1",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
