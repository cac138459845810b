package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	audioconfig "p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/resample"
	"p2p-voice/internal/p2p/base"

	"github.com/pion/stun"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	ModeP2P      = "p2p"
	ModeLoopback = "loopback"

	envPrefix = "P2P_VOICE"
)

var (
	ErrInvalidMode = errors.New("invalid mode")
	ErrNoSTUN      = errors.New("STUN_SERVERS not set, cant run app")
	ErrInvalidURI  = errors.New("invalid ICE server URI")
)

type Config struct {
	Mode    string        `mapstructure:"mode"`
	Log     LogConfig     `mapstructure:"log"`
	Audio   AudioConfig   `mapstructure:"audio"`
	ICE     ICEConfig     `mapstructure:"ice"`
	P2P     P2PConfig     `mapstructure:"p2p"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AudioConfig struct {
	Codec            string        `mapstructure:"codec"`
	Quality          string        `mapstructure:"quality"`
	CaptureCapacity  int           `mapstructure:"capture_capacity"`
	PlaybackCapacity int           `mapstructure:"playback_capacity"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Reliable         bool          `mapstructure:"reliable"`
	SilenceThreshold int           `mapstructure:"silence_threshold"`
	Channels         int           `mapstructure:"device_channels"`
	InputFile        string        `mapstructure:"input_file"`  // wav replaces the microphone
	OutputFile       string        `mapstructure:"output_file"` // wav replaces the speaker
	FilePeriod       time.Duration `mapstructure:"file_period"`
}

type ICEConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServers    []string `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

type P2PConfig struct {
	ListenHost      string        `mapstructure:"listen_host"`
	ListenPort      int           `mapstructure:"listen_port"`
	Rendezvous      string        `mapstructure:"rendezvous"`
	ProtocolID      string        `mapstructure:"protocol_id"`
	MDNSTimeout     time.Duration `mapstructure:"mdns_timeout"`
	IncludeLoopback bool          `mapstructure:"include_loopback"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the endpoint
}

func setDefaults(v *viper.Viper) {
	discover := base.NewDefaultDiscoverConfig()
	pcmu := audioconfig.NewPCMUConfig()

	v.SetDefault("mode", ModeP2P)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("audio.codec", pcmu.Type.String())
	v.SetDefault("audio.quality", pcmu.Quality.String())
	v.SetDefault("audio.capture_capacity", pcmu.CaptureCapacity)
	v.SetDefault("audio.playback_capacity", pcmu.PlaybackCapacity)
	v.SetDefault("audio.poll_interval", pcmu.PollInterval)
	v.SetDefault("audio.reliable", pcmu.Reliable)
	v.SetDefault("audio.silence_threshold", audioconfig.EnergyThreshold)
	v.SetDefault("audio.device_channels", 1)
	v.SetDefault("audio.input_file", "")
	v.SetDefault("audio.output_file", "")
	v.SetDefault("audio.file_period", 10*time.Millisecond)

	v.SetDefault("ice.stun_servers", []string{})
	v.SetDefault("ice.turn_servers", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_credential", "")

	v.SetDefault("p2p.listen_host", discover.ListenHost)
	v.SetDefault("p2p.listen_port", discover.ListenPort)
	v.SetDefault("p2p.rendezvous", discover.RendezvousString)
	v.SetDefault("p2p.protocol_id", discover.ProtocolId)
	v.SetDefault("p2p.mdns_timeout", discover.MDNSTimeout)
	v.SetDefault("p2p.include_loopback", false)

	v.SetDefault("metrics.listen", "")
}

// bindEnv keeps the variable names used by earlier releases working.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"log.level":           "LOG_LEVEL",
		"ice.stun_servers":    "STUN_SERVERS",
		"ice.turn_servers":    "TURN_SERVERS",
		"ice.turn_username":   "TURN_USERNAME",
		"ice.turn_credential": "TURN_CREDENTIAL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads path (yaml, json, toml or .env) when it is not empty, then
// applies environment overrides. Every key can be set as P2P_VOICE_<KEY>
// with dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			log.Info().Str("path", path).Msg("No config file found, using defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ICE.STUNServers = getServersFromString(cfg.ICE.STUNServers)
	cfg.ICE.TURNServers = getServersFromString(cfg.ICE.TURNServers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// getServersFromString accepts both list entries and comma separated
// environment values.
func getServersFromString(entries []string) []string {
	var servers []string
	for _, entry := range entries {
		for _, server := range strings.Split(entry, ",") {
			if server = strings.TrimSpace(server); server != "" {
				servers = append(servers, server)
			}
		}
	}
	return servers
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeP2P, ModeLoopback:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if _, err := c.AudioSettings(); err != nil {
		return err
	}
	return nil
}

// AudioSettings builds the pipeline config from the codec preset and the
// configured overrides.
func (c *Config) AudioSettings() (audioconfig.AudioConfig, error) {
	var ac audioconfig.AudioConfig
	switch audioconfig.AudioConfigType(strings.ToLower(c.Audio.Codec)) {
	case audioconfig.AudioCodecPCMU:
		ac = audioconfig.NewPCMUConfig()
	case audioconfig.AudioCodecOpus:
		ac = audioconfig.NewOpusConfig()
	default:
		return ac, fmt.Errorf("%w: %q", audioconfig.ErrUnknownCodec, c.Audio.Codec)
	}
	q, err := resample.ParseQuality(c.Audio.Quality)
	if err != nil {
		return ac, err
	}
	ac.Quality = q
	if c.Audio.CaptureCapacity > 0 {
		ac.CaptureCapacity = c.Audio.CaptureCapacity
	}
	if c.Audio.PlaybackCapacity > 0 {
		ac.PlaybackCapacity = c.Audio.PlaybackCapacity
	}
	if c.Audio.PollInterval > 0 {
		ac.PollInterval = c.Audio.PollInterval
	}
	ac.Reliable = c.Audio.Reliable
	ac.SilenceThreshold = c.Audio.SilenceThreshold
	return ac, ac.Validate()
}

// Discover builds the libp2p discovery settings.
func (c *Config) Discover() *base.DiscoverConfig {
	d := base.NewDefaultDiscoverConfig()
	d.ListenHost = c.P2P.ListenHost
	d.ListenPort = c.P2P.ListenPort
	if c.P2P.Rendezvous != "" {
		d.RendezvousString = c.P2P.Rendezvous
	}
	if c.P2P.ProtocolID != "" {
		d.ProtocolId = c.P2P.ProtocolID
	}
	if c.P2P.MDNSTimeout > 0 {
		d.MDNSTimeout = c.P2P.MDNSTimeout
	}
	return d
}

func validateURI(raw string, schemes ...stun.SchemeType) error {
	uri, err := stun.ParseURI(raw)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidURI, raw, err)
	}
	for _, s := range schemes {
		if uri.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w %q: unexpected scheme %s", ErrInvalidURI, raw, uri.Scheme)
}

func (c *Config) GetStunServers() ([]webrtc.ICEServer, error) {
	if len(c.ICE.STUNServers) == 0 {
		return nil, ErrNoSTUN
	}
	stunServers := make([]webrtc.ICEServer, len(c.ICE.STUNServers))
	for i, server := range c.ICE.STUNServers {
		if err := validateURI(server, stun.SchemeTypeSTUN, stun.SchemeTypeSTUNS); err != nil {
			return nil, err
		}
		stunServers[i] = webrtc.ICEServer{URLs: []string{server}}
	}
	return stunServers, nil
}

func (c *Config) GetTurnServers() ([]webrtc.ICEServer, error) {
	if len(c.ICE.TURNServers) == 0 {
		log.Warn().Msg("TURN server configuration missing, some connections may fail")
		return nil, nil
	}
	turnServers := make([]webrtc.ICEServer, len(c.ICE.TURNServers))
	for i, server := range c.ICE.TURNServers {
		if err := validateURI(server, stun.SchemeTypeTURN, stun.SchemeTypeTURNS); err != nil {
			return nil, err
		}
		turnServers[i] = webrtc.ICEServer{
			URLs:       []string{server},
			Username:   c.ICE.TURNUsername,
			Credential: c.ICE.TURNCredential,
		}
	}
	return turnServers, nil
}

// ICEServers returns the STUN servers followed by the TURN servers.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	stunServers, err := c.GetStunServers()
	if err != nil {
		return nil, err
	}
	turnServers, err := c.GetTurnServers()
	if err != nil {
		return nil, err
	}
	return append(stunServers, turnServers...), nil
}
