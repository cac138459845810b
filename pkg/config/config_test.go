package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	audioconfig "p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/resample"

	"github.com/pion/stun"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LOG_LEVEL", "STUN_SERVERS", "TURN_SERVERS", "TURN_USERNAME", "TURN_CREDENTIAL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeP2P || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	ac, err := cfg.AudioSettings()
	if err != nil {
		t.Fatal(err)
	}
	if ac.Type != audioconfig.AudioCodecPCMU || ac.SampleRate != 8000 || ac.FrameSamples != 320 {
		t.Fatalf("expected the pcmu preset, got %+v", ac)
	}
	if ac.Quality != resample.Best {
		t.Fatalf("expected best quality, got %s", ac.Quality)
	}
	if cfg.Audio.FilePeriod != 10*time.Millisecond {
		t.Fatalf("expected 10ms period, got %v", cfg.Audio.FilePeriod)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("expected defaults for a missing file, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mode: loopback
log:
  level: debug
audio:
  codec: opus
  quality: fastest
  poll_interval: 5ms
ice:
  stun_servers:
    - stun:stun.l.google.com:19302
p2p:
  listen_port: 4001
  mdns_timeout: 5s
metrics:
  listen: 127.0.0.1:9100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeLoopback || cfg.Log.Level != "debug" || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	ac, err := cfg.AudioSettings()
	if err != nil {
		t.Fatal(err)
	}
	if ac.Type != audioconfig.AudioCodecOpus || ac.Quality != resample.Fastest || ac.PollInterval != 5*time.Millisecond {
		t.Fatalf("unexpected audio config %+v", ac)
	}
	d := cfg.Discover()
	if d.ListenPort != 4001 || d.MDNSTimeout != 5*time.Second {
		t.Fatalf("unexpected discover config %+v", d)
	}
	servers, err := cfg.ICEServers()
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected servers %+v", servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STUN_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("TURN_SERVERS", "turn:relay.example.com:3478")
	t.Setenv("TURN_USERNAME", "user")
	t.Setenv("TURN_CREDENTIAL", "secret")
	t.Setenv("P2P_VOICE_AUDIO_CODEC", "pcmu")
	t.Setenv("P2P_VOICE_MODE", "loopback")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" || cfg.Mode != ModeLoopback {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if len(cfg.ICE.STUNServers) != 2 || cfg.ICE.STUNServers[1] != "stun:b.example.com:3478" {
		t.Fatalf("expected two stun servers, got %v", cfg.ICE.STUNServers)
	}

	turnServers, err := cfg.GetTurnServers()
	if err != nil {
		t.Fatal(err)
	}
	for _, server := range turnServers {
		if len(server.URLs) == 0 {
			t.Error("TURN server has no URLs")
		}
		if server.Username != "user" || server.Credential != "secret" {
			t.Errorf("TURN server missing credentials: %+v", server)
		}
	}
	all, err := cfg.ICEServers()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 ICE servers, got %d", len(all))
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("P2P_VOICE_MODE", "broadcast")
	if _, err := Load(""); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}

	t.Setenv("P2P_VOICE_MODE", "p2p")
	t.Setenv("P2P_VOICE_AUDIO_CODEC", "g729")
	if _, err := Load(""); !errors.Is(err, audioconfig.ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestICEServerValidation(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.ICEServers(); !errors.Is(err, ErrNoSTUN) {
		t.Fatalf("expected ErrNoSTUN, got %v", err)
	}
	cfg.ICE.STUNServers = []string{"http://example.com"}
	if _, err := cfg.GetStunServers(); !errors.Is(err, ErrInvalidURI) {
		t.Fatalf("expected ErrInvalidURI, got %v", err)
	}
	cfg.ICE.STUNServers = []string{"stun:example.com:3478"}
	cfg.ICE.TURNServers = []string{"stun:example.com:3478"}
	if _, err := cfg.GetTurnServers(); !errors.Is(err, ErrInvalidURI) {
		t.Fatalf("expected a stun url to be rejected as turn, got %v", err)
	}
}

// TestStunServers checks the servers from STUN_SERVERS actually answer.
func TestStunServers(t *testing.T) {
	if testing.Short() || os.Getenv("STUN_SERVERS") == "" {
		t.Skip("STUN_SERVERS not set")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	stunServers, err := cfg.GetStunServers()
	if err != nil {
		t.Fatal(err)
	}

	for _, server := range stunServers {
		for _, url := range server.URLs {
			t.Run(url, func(t *testing.T) {
				available := testStunServerAvailability(url)
				if !available {
					t.Errorf("STUN server %s is not available", url)
				} else {
					t.Logf("STUN server %s is available", url)
				}
			})
		}
	}
}

func testStunServerAvailability(stunURL string) bool {
	address := strings.TrimPrefix(stunURL, "stun:")

	conn, err := net.Dial("udp", address)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))

	m := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err = conn.Write(m.Raw); err != nil {
		return false
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}

	var response stun.Message
	response.Raw = buf[:n]
	if err = response.Decode(); err != nil {
		return false
	}
	return response.Type == stun.BindingSuccess
}
