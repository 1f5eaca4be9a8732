package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Profile  Profile  `json:"profile"`
	Party    Party    `json:"party"`
	Location Location `json:"location"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int `json:"listen_port"`
	// How often a hosted session re-announces itself on the LAN.
	AdvertiseIntervalSec int `json:"advertise_interval_sec"`
}

type Profile struct {
	DisplayName string `json:"display_name"`
}

// Party mirrors the runtime session settings. The host can edit these in
// the config file mid-party; the watcher pushes changes into the session.
type Party struct {
	VotingMode           string `json:"voting_mode"` // automatic|hostApproval
	ThresholdPercent     int    `json:"threshold_percent"`
	CooldownMinutes      int    `json:"cooldown_minutes"`
	MaxConcurrentActions int    `json:"max_concurrent_actions"`
	EnablePromote        bool   `json:"enable_promote"`
	EnableRemove         bool   `json:"enable_remove"`
	EnableSendToEnd      bool   `json:"enable_send_to_end"`
	ProximityRadiusM     int    `json:"proximity_radius_m"`
	// Number of catalog tracks a fresh party is seeded with.
	SeedTracks int `json:"seed_tracks"`
}

// Location configures the static position provider. Real devices would
// plug a platform provider in instead.
type Location struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	HasFix bool    `json:"has_fix"`
	// granted|denied|restricted|undetermined
	Authorization string `json:"authorization"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

func Default() Config {
	ds := party.DefaultSettings()
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort:           0,
			AdvertiseIntervalSec: 10,
		},
		Profile: Profile{
			DisplayName: "party-host",
		},
		Party: Party{
			VotingMode:           string(ds.Mode),
			ThresholdPercent:     ds.ThresholdPercent,
			CooldownMinutes:      ds.CooldownMinutes,
			MaxConcurrentActions: ds.MaxConcurrentActions,
			EnablePromote:        ds.EnablePromote,
			EnableRemove:         ds.EnableRemove,
			EnableSendToEnd:      ds.EnableSendToEnd,
			ProximityRadiusM:     65,
			SeedTracks:           5,
		},
		Location: Location{
			Authorization: "granted",
			HasFix:        false,
		},
		Viewer: Viewer{
			HTTPAddr: "",
			Debug:    false,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if c.P2P.AdvertiseIntervalSec <= 0 {
		return errors.New("p2p.advertise_interval_sec must be > 0")
	}

	if strings.TrimSpace(c.Profile.DisplayName) == "" {
		return errors.New("profile.display_name is required")
	}

	mode := party.VotingMode(c.Party.VotingMode)
	if mode != party.ModeAutomatic && mode != party.ModeHostApproval {
		return fmt.Errorf("party.voting_mode must be %q or %q", party.ModeAutomatic, party.ModeHostApproval)
	}
	if c.Party.ThresholdPercent < 1 || c.Party.ThresholdPercent > 100 {
		return errors.New("party.threshold_percent must be 1..100")
	}
	if c.Party.CooldownMinutes < 0 {
		return errors.New("party.cooldown_minutes must be >= 0")
	}
	if c.Party.MaxConcurrentActions < 1 {
		return errors.New("party.max_concurrent_actions must be >= 1")
	}
	if c.Party.ProximityRadiusM <= 0 {
		return errors.New("party.proximity_radius_m must be > 0")
	}
	if c.Party.SeedTracks < 0 {
		return errors.New("party.seed_tracks must be >= 0")
	}

	switch c.Location.Authorization {
	case "granted", "denied", "restricted", "undetermined":
	default:
		return errors.New("location.authorization must be granted, denied, restricted or undetermined")
	}

	return nil
}

// Settings converts the config block into runtime session settings.
func (c *Config) Settings() party.Settings {
	return party.Settings{
		Mode:                 party.VotingMode(c.Party.VotingMode),
		ThresholdPercent:     c.Party.ThresholdPercent,
		CooldownMinutes:      c.Party.CooldownMinutes,
		MaxConcurrentActions: c.Party.MaxConcurrentActions,
		EnablePromote:        c.Party.EnablePromote,
		EnableRemove:         c.Party.EnableRemove,
		EnableSendToEnd:      c.Party.EnableSendToEnd,
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
