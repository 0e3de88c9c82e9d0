package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, uint16(10000), cfg.RTC.UDPPortMin)
	assert.Equal(t, uint16(10100), cfg.RTC.UDPPortMax)
	assert.Equal(t, "0.0.0.0", cfg.RTC.ListenIP)
	assert.True(t, cfg.RTC.PreferUDP)
	assert.Equal(t, "open", cfg.ConsumePolicy)
	require.Len(t, cfg.MediaCodecs, 2)
	assert.Equal(t, "audio/opus", cfg.MediaCodecs[0].MimeType)
	assert.Equal(t, "video/VP8", cfg.MediaCodecs[1].MimeType)
}

func TestLoadFile_Overrides(t *testing.T) {
	p := writeFile(t, `
mode: debug
port: 4443
max_sessions: 50
consume_policy: no_self
rtc:
  announced_ip: 203.0.113.7
  udp_port_min: 40000
  udp_port_max: 40010
media_codecs:
  - kind: audio
    mime_type: audio/opus
    clock_rate: 48000
    channels: 2
`)
	cfg, err := LoadFile(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 4443, cfg.Port)
	assert.Equal(t, 50, cfg.MaxSessions)
	assert.Equal(t, "no_self", cfg.ConsumePolicy)
	assert.Equal(t, "203.0.113.7", cfg.RTC.AnnouncedIP)
	assert.Equal(t, uint16(40000), cfg.RTC.UDPPortMin)
	require.Len(t, cfg.MediaCodecs, 1)
	assert.Equal(t, uint8(2), cfg.MediaCodecs[0].Channels)
}

func TestLoadFile_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_PORT", "5005")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5005, cfg.Port)
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"port range":  "rtc:\n  udp_port_min: 20000\n  udp_port_max: 10000\n",
		"policy":      "consume_policy: friends\n",
		"codec kind":  "media_codecs:\n  - kind: data\n    mime_type: x/y\n    clock_rate: 1\n",
		"no protocol": "rtc:\n  enable_udp: false\n  enable_tcp: false\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, body))
			require.Error(t, err)
		})
	}
}
