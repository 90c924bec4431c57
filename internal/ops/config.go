// Package ops loads and validates the bot configuration: JSON file, then
// environment overrides. Credentials never live in the file.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/journal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Endpoint string `json:"endpoint"`
	AppID    string `json:"app_id"`

	Trading  TradingConfig   `json:"trading"`
	Recovery RecoveryConfig  `json:"recovery"`
	Journal  *journal.Option `json:"journal"`
	Obs      ObsConfig       `json:"obs"`

	StateDir string `json:"state_dir"`
}

// TradingConfig defines the default session parameters.
type TradingConfig struct {
	Symbol       string  `json:"symbol"`
	Strategy     string  `json:"strategy"`
	TargetTrades int     `json:"target_trades"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	TakeProfit   float64 `json:"take_profit"`
	StopLoss     float64 `json:"stop_loss"`
}

// RecoveryConfig defines the stake engine parameters.
type RecoveryConfig struct {
	BaseStake      float64 `json:"base_stake"`
	Risk           string  `json:"risk"`
	Mode           string  `json:"mode"`
	MaxStake       float64 `json:"max_stake"`
	SessionLossPct float64 `json:"session_loss_pct"`
	PauseAfter     int     `json:"pause_after"`
	PauseCooldownS int     `json:"pause_cooldown_seconds"`
}

// ObsConfig defines the observability endpoints.
type ObsConfig struct {
	MetricsAddr   string `json:"metrics_addr"`
	PyroscopeAddr string `json:"pyroscope_addr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Endpoint string
	AppID    string
	Token    string

	Trading  TradingConfig
	Recovery RecoveryConfig
	Journal  *journal.Option
	Obs      ObsConfig

	StateDir      string
	PauseCooldown time.Duration
}

// Load reads the JSON config file, applies environment overrides and
// validates the result. An empty path uses defaults plus environment.
func Load(path string) (Loaded, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}

	loaded := resolve(cfg)
	applyEnv(&loaded)
	if err := validate(loaded); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

func defaults() FileConfig {
	return FileConfig{
		Endpoint: "wss://ws.binaryws.com/websockets/v3",
		AppID:    "1089",
		Trading: TradingConfig{
			Symbol:       "R_100",
			Strategy:     "momentum",
			TargetTrades: 50,
			Duration:     5,
			DurationUnit: "t",
		},
		Recovery: RecoveryConfig{
			BaseStake: 1.0,
			Risk:      "MEDIUM",
			Mode:      "fibonacci",
		},
		Obs: ObsConfig{
			MetricsAddr: ":9090",
		},
		StateDir: "data",
	}
}

func resolve(cfg FileConfig) Loaded {
	loaded := Loaded{
		Endpoint: cfg.Endpoint,
		AppID:    cfg.AppID,
		Trading:  cfg.Trading,
		Recovery: cfg.Recovery,
		Journal:  cfg.Journal,
		Obs:      cfg.Obs,
		StateDir: cfg.StateDir,
	}
	if cfg.Recovery.PauseCooldownS > 0 {
		loaded.PauseCooldown = time.Duration(cfg.Recovery.PauseCooldownS) * time.Second
	}
	return loaded
}

func applyEnv(loaded *Loaded) {
	if v := os.Getenv("DERIV_TOKEN"); v != "" {
		loaded.Token = v
	}
	if v := os.Getenv("DERIV_APP_ID"); v != "" {
		loaded.AppID = v
	}
	if v := os.Getenv("DERIV_ENDPOINT"); v != "" {
		loaded.Endpoint = v
	}
}

func validate(loaded Loaded) error {
	if loaded.Endpoint == "" {
		return fmt.Errorf("endpoint is empty")
	}
	if loaded.AppID == "" {
		return fmt.Errorf("app_id is empty")
	}
	if loaded.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol is empty")
	}
	if loaded.Recovery.BaseStake <= 0 {
		return fmt.Errorf("base_stake must be > 0")
	}
	if loaded.Trading.Duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if pct := loaded.Recovery.SessionLossPct; pct != 0 && (pct < 0 || pct >= 1) {
		return fmt.Errorf("session_loss_pct must be in (0, 1)")
	}
	return nil
}
