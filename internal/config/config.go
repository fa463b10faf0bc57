// Package config provides configuration management for the replay harness and the live signal.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a field is left unset. Knobs where 0 is a
// meaningful setting are pointers and only take a default when absent.
const (
	defaultTimezone          = "America/New_York"
	defaultMarketOpen        = "09:30"
	defaultMarketClose       = "16:00"
	defaultAutoClose         = "15:30"
	defaultTick              = 30 * time.Second
	defaultContractMult      = 100
	defaultStrikeIncrement   = 5.0
	defaultSlippagePerLeg    = 0.05
	defaultBaseOffset        = 10.0
	defaultVIXReference      = 15.0
	defaultFarMultiplier     = 1.5
	defaultTrailingTrigger   = 0.20
	defaultTrailingLock      = 0.12
	defaultTrailingMinDist   = 0.05
	defaultTrailingTighten   = 0.4
	defaultResultsPath       = "results.json"
	defaultBrokerTimeout     = 10 * time.Second
	defaultBrokerRatePerSec  = 2.0
	defaultSizingContracts   = 1
	defaultKellyMaxContracts = 10
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Replay      ReplayConfig      `yaml:"replay"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Account     AccountConfig     `yaml:"account"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Exit        ExitConfig        `yaml:"exit"`
	Storage     StorageConfig     `yaml:"storage"`
	Broker      BrokerConfig      `yaml:"broker"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// EnvironmentConfig defines logging settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// ReplayConfig defines the simulated window.
type ReplayConfig struct {
	Symbol       string        `yaml:"symbol"`
	Start        time.Time     `yaml:"start"`
	End          time.Time     `yaml:"end"`
	Tick         time.Duration `yaml:"tick"`
	MaxStaleness time.Duration `yaml:"max_staleness"` // 0 forward-fills without limit
}

// ScheduleConfig defines exchange hours and the intraday checkpoints.
type ScheduleConfig struct {
	Timezone    string   `yaml:"timezone"`     // e.g., "America/New_York"
	MarketOpen  string   `yaml:"market_open"`  // "HH:MM"
	MarketClose string   `yaml:"market_close"` // "HH:MM"
	EntryTimes  []string `yaml:"entry_times"`  // "HH:MM" checkpoints
	AutoClose   string   `yaml:"auto_close"`   // "HH:MM" must-close time
}

// AccountConfig defines the simulated account and sizing.
type AccountConfig struct {
	StartingBalance    float64      `yaml:"starting_balance"`
	ContractMultiplier float64      `yaml:"contract_multiplier"`
	Sizing             SizingConfig `yaml:"sizing"`
}

// SizingConfig selects the position sizer.
type SizingConfig struct {
	Method       string  `yaml:"method"` // fixed | half_kelly
	Contracts    int     `yaml:"contracts"`
	WinRate      float64 `yaml:"win_rate"`
	AvgWin       float64 `yaml:"avg_win"`
	AvgLoss      float64 `yaml:"avg_loss"`
	MaxContracts int     `yaml:"max_contracts"`
}

// StrategyConfig defines entry filters and strike selection.
type StrategyConfig struct {
	VIXFloor        float64          `yaml:"vix_floor"`
	VIXCeiling      float64          `yaml:"vix_ceiling"`
	MinCredit       float64          `yaml:"min_credit"`
	SlippagePerLeg  *float64         `yaml:"slippage_per_leg"` // nil takes the default, 0 is kept
	StrikeIncrement float64          `yaml:"strike_increment"`
	BaseOffset      *float64         `yaml:"base_offset"`
	VIXReference    float64          `yaml:"vix_reference"`
	FarMultiplier   float64          `yaml:"far_multiplier"`
	PeakRanks       []int            `yaml:"peak_ranks"`
	Bands           BandConfig       `yaml:"bands"`
	SpreadWidths    []WidthRule      `yaml:"spread_widths"`
	BrokenWing      BrokenWingConfig `yaml:"broken_wing"`
}

// BandConfig holds the distance thresholds (index points) between price and pin.
type BandConfig struct {
	Near     float64 `yaml:"near"`
	Moderate float64 `yaml:"moderate"`
	Far      float64 `yaml:"far"`
}

// WidthRule maps VIX below MaxVIX to a spread width. MaxVIX 0 matches everything.
type WidthRule struct {
	MaxVIX float64 `yaml:"max_vix"`
	Width  float64 `yaml:"width"`
}

// BrokenWingConfig controls the condor wing skew.
type BrokenWingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float64 `yaml:"threshold"`
	Adjustment float64 `yaml:"adjustment"`
}

// ExitConfig defines exit criteria for open trades.
type ExitConfig struct {
	StopLossPct     float64        `yaml:"stop_loss_pct"`
	ProfitTargetPct float64        `yaml:"profit_target_pct"`
	StopLossGrace   time.Duration  `yaml:"stop_loss_grace"`
	Trailing        TrailingConfig `yaml:"trailing"`
}

// TrailingConfig defines the trailing stop.
type TrailingConfig struct {
	Enabled        bool     `yaml:"enabled"`
	TriggerPct     float64  `yaml:"trigger_pct"`
	LockInPct      *float64 `yaml:"lock_in_pct"`
	MinDistancePct float64  `yaml:"min_distance_pct"`
	TightenRate    *float64 `yaml:"tighten_rate"`
}

// Float returns a pointer to v, for the optional knobs where 0 is a real setting.
func Float(v float64) *float64 {
	return &v
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}

// Slippage is the per-leg fill penalty.
func (s StrategyConfig) Slippage() float64 {
	return floatOr(s.SlippagePerLeg, defaultSlippagePerLeg)
}

// Offset is the base distance of the short strike beyond the price/pin pair.
func (s StrategyConfig) Offset() float64 {
	return floatOr(s.BaseOffset, defaultBaseOffset)
}

// LockIn is the minimum gain an armed trailing stop protects.
func (t TrailingConfig) LockIn() float64 {
	return floatOr(t.LockInPct, defaultTrailingLock)
}

// Tighten is how fast the trail closes in as the peak gain grows.
func (t TrailingConfig) Tighten() float64 {
	return floatOr(t.TightenRate, defaultTrailingTighten)
}

// StorageConfig defines the historical store and where results are written.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // sqlite | postgres | memory
	DSN         string `yaml:"dsn"`
	ResultsPath string `yaml:"results_path"`
}

// BrokerConfig defines market-data API settings for the live signal.
type BrokerConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Sandbox    bool          `yaml:"sandbox"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"`
}

// MetricsConfig defines the status server.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables the server
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate fills defaults and checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if c.Replay.Symbol == "" {
		return fmt.Errorf("replay.symbol is required")
	}
	if c.Replay.Tick <= 0 {
		return fmt.Errorf("replay.tick must be > 0")
	}
	if c.Replay.Start.IsZero() || c.Replay.End.IsZero() {
		return fmt.Errorf("replay.start and replay.end are required")
	}
	if !c.Replay.End.After(c.Replay.Start) {
		return fmt.Errorf("replay.end (%s) must be after replay.start (%s)",
			c.Replay.End.Format(time.RFC3339), c.Replay.Start.Format(time.RFC3339))
	}
	if c.Replay.MaxStaleness < 0 {
		return fmt.Errorf("replay.max_staleness must be >= 0")
	}

	if err := c.validateSchedule(); err != nil {
		return err
	}

	if c.Account.StartingBalance <= 0 {
		return fmt.Errorf("account.starting_balance must be > 0")
	}
	if c.Account.ContractMultiplier <= 0 {
		return fmt.Errorf("account.contract_multiplier must be > 0")
	}
	switch c.Account.Sizing.Method {
	case "fixed":
		if c.Account.Sizing.Contracts <= 0 {
			return fmt.Errorf("account.sizing.contracts must be > 0")
		}
	case "half_kelly":
		if c.Account.Sizing.WinRate <= 0 || c.Account.Sizing.WinRate >= 1 {
			return fmt.Errorf("account.sizing.win_rate must be in (0,1)")
		}
		if c.Account.Sizing.AvgWin <= 0 || c.Account.Sizing.AvgLoss <= 0 {
			return fmt.Errorf("account.sizing.avg_win and avg_loss must be > 0")
		}
		if c.Account.Sizing.MaxContracts <= 0 {
			return fmt.Errorf("account.sizing.max_contracts must be > 0")
		}
	default:
		return fmt.Errorf("account.sizing.method must be 'fixed' or 'half_kelly'")
	}

	if err := c.validateStrategy(); err != nil {
		return err
	}

	if c.Exit.StopLossPct <= 0 {
		return fmt.Errorf("exit.stop_loss_pct must be > 0")
	}
	if c.Exit.ProfitTargetPct <= 0 || c.Exit.ProfitTargetPct >= 1 {
		return fmt.Errorf("exit.profit_target_pct must be in (0,1)")
	}
	if c.Exit.StopLossGrace < 0 {
		return fmt.Errorf("exit.stop_loss_grace must be >= 0")
	}
	if tr := c.Exit.Trailing; tr.Enabled {
		if tr.TriggerPct <= 0 || tr.TriggerPct >= 1 {
			return fmt.Errorf("exit.trailing.trigger_pct must be in (0,1)")
		}
		if lock := tr.LockIn(); lock < 0 || lock >= tr.TriggerPct {
			return fmt.Errorf("exit.trailing.lock_in_pct (%.2f) must be in [0, trigger_pct (%.2f))",
				lock, tr.TriggerPct)
		}
		if tr.MinDistancePct <= 0 {
			return fmt.Errorf("exit.trailing.min_distance_pct must be > 0")
		}
		if tr.Tighten() < 0 {
			return fmt.Errorf("exit.trailing.tighten_rate must be >= 0")
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.Broker.Timeout < 0 {
		return fmt.Errorf("broker.timeout must be >= 0")
	}
	if c.Broker.RatePerSec < 0 {
		return fmt.Errorf("broker.rate_per_sec must be >= 0")
	}

	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	open, err1 := ParseClock(c.Schedule.MarketOpen)
	closing, err2 := ParseClock(c.Schedule.MarketClose)
	if err1 != nil || err2 != nil || open >= closing {
		return fmt.Errorf("schedule market window invalid (open/close parse/order)")
	}
	auto, err := ParseClock(c.Schedule.AutoClose)
	if err != nil {
		return fmt.Errorf("schedule.auto_close invalid: %w", err)
	}
	if auto <= open || auto > closing {
		return fmt.Errorf("schedule.auto_close must fall inside the market window")
	}
	if len(c.Schedule.EntryTimes) == 0 {
		return fmt.Errorf("schedule.entry_times must not be empty")
	}
	for _, et := range c.Schedule.EntryTimes {
		m, err := ParseClock(et)
		if err != nil {
			return fmt.Errorf("schedule.entry_times %q invalid: %w", et, err)
		}
		if m < open || m >= closing {
			return fmt.Errorf("schedule.entry_times %q is outside market hours", et)
		}
	}
	return nil
}

func (c *Config) validateStrategy() error {
	s := c.Strategy
	if s.VIXFloor < 0 {
		return fmt.Errorf("strategy.vix_floor must be >= 0")
	}
	if s.VIXFloor >= s.VIXCeiling {
		return fmt.Errorf("strategy.vix_floor (%.2f) must be < strategy.vix_ceiling (%.2f)",
			s.VIXFloor, s.VIXCeiling)
	}
	if s.MinCredit <= 0 {
		return fmt.Errorf("strategy.min_credit must be > 0")
	}
	if s.Slippage() < 0 {
		return fmt.Errorf("strategy.slippage_per_leg must be >= 0")
	}
	if s.StrikeIncrement <= 0 {
		return fmt.Errorf("strategy.strike_increment must be > 0")
	}
	if s.Offset() < 0 {
		return fmt.Errorf("strategy.base_offset must be >= 0")
	}
	if s.VIXReference <= 0 {
		return fmt.Errorf("strategy.vix_reference must be > 0")
	}
	if s.FarMultiplier < 1 {
		return fmt.Errorf("strategy.far_multiplier must be >= 1")
	}
	if len(s.PeakRanks) == 0 {
		return fmt.Errorf("strategy.peak_ranks must not be empty")
	}
	for _, r := range s.PeakRanks {
		if r < 1 {
			return fmt.Errorf("strategy.peak_ranks must be >= 1 (got %d)", r)
		}
	}
	b := s.Bands
	if b.Near < 0 || b.Near >= b.Moderate || b.Moderate >= b.Far {
		return fmt.Errorf("strategy.bands must satisfy 0 <= near < moderate < far")
	}
	if len(s.SpreadWidths) == 0 {
		return fmt.Errorf("strategy.spread_widths must not be empty")
	}
	for i, w := range s.SpreadWidths {
		if w.Width < s.StrikeIncrement {
			return fmt.Errorf("strategy.spread_widths[%d].width must be >= strike_increment", i)
		}
		if i > 0 && w.MaxVIX != 0 && w.MaxVIX <= s.SpreadWidths[i-1].MaxVIX {
			return fmt.Errorf("strategy.spread_widths must be ordered by max_vix")
		}
	}
	if s.BrokenWing.Enabled {
		if s.BrokenWing.Threshold <= 0 || s.BrokenWing.Threshold > 1 {
			return fmt.Errorf("strategy.broken_wing.threshold must be in (0,1]")
		}
		if s.BrokenWing.Adjustment <= 0 {
			return fmt.Errorf("strategy.broken_wing.adjustment must be > 0")
		}
	}
	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Replay.Tick == 0 {
		c.Replay.Tick = defaultTick
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.MarketOpen == "" {
		c.Schedule.MarketOpen = defaultMarketOpen
	}
	if c.Schedule.MarketClose == "" {
		c.Schedule.MarketClose = defaultMarketClose
	}
	if c.Schedule.AutoClose == "" {
		c.Schedule.AutoClose = defaultAutoClose
	}
	if c.Account.ContractMultiplier == 0 {
		c.Account.ContractMultiplier = defaultContractMult
	}
	if c.Account.Sizing.Method == "" {
		c.Account.Sizing.Method = "fixed"
	}
	if c.Account.Sizing.Contracts == 0 {
		c.Account.Sizing.Contracts = defaultSizingContracts
	}
	if c.Account.Sizing.MaxContracts == 0 {
		c.Account.Sizing.MaxContracts = defaultKellyMaxContracts
	}
	if c.Strategy.SlippagePerLeg == nil {
		c.Strategy.SlippagePerLeg = Float(defaultSlippagePerLeg)
	}
	if c.Strategy.StrikeIncrement == 0 {
		c.Strategy.StrikeIncrement = defaultStrikeIncrement
	}
	if c.Strategy.BaseOffset == nil {
		c.Strategy.BaseOffset = Float(defaultBaseOffset)
	}
	if c.Strategy.VIXReference == 0 {
		c.Strategy.VIXReference = defaultVIXReference
	}
	if c.Strategy.FarMultiplier == 0 {
		c.Strategy.FarMultiplier = defaultFarMultiplier
	}
	if len(c.Strategy.PeakRanks) == 0 {
		c.Strategy.PeakRanks = []int{1, 2}
	}
	if c.Strategy.Bands == (BandConfig{}) {
		c.Strategy.Bands = BandConfig{Near: 6, Moderate: 15, Far: 40}
	}
	if len(c.Strategy.SpreadWidths) == 0 {
		c.Strategy.SpreadWidths = []WidthRule{{MaxVIX: 20, Width: 5}, {MaxVIX: 0, Width: 10}}
	}
	if tr := &c.Exit.Trailing; tr.Enabled {
		if tr.TriggerPct == 0 {
			tr.TriggerPct = defaultTrailingTrigger
		}
		if tr.LockInPct == nil {
			tr.LockInPct = Float(defaultTrailingLock)
		}
		if tr.MinDistancePct == 0 {
			tr.MinDistancePct = defaultTrailingMinDist
		}
		if tr.TightenRate == nil {
			tr.TightenRate = Float(defaultTrailingTighten)
		}
	}
	if c.Storage.ResultsPath == "" {
		c.Storage.ResultsPath = defaultResultsPath
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = defaultBrokerTimeout
	}
	if c.Broker.RatePerSec == 0 {
		c.Broker.RatePerSec = defaultBrokerRatePerSec
	}
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location loads the configured exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	return time.LoadLocation(tz)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Schedule.EntryTimes = append([]string(nil), c.Schedule.EntryTimes...)
	out.Strategy.PeakRanks = append([]int(nil), c.Strategy.PeakRanks...)
	out.Strategy.SpreadWidths = append([]WidthRule(nil), c.Strategy.SpreadWidths...)
	out.Strategy.SlippagePerLeg = cloneFloat(c.Strategy.SlippagePerLeg)
	out.Strategy.BaseOffset = cloneFloat(c.Strategy.BaseOffset)
	out.Exit.Trailing.LockInPct = cloneFloat(c.Exit.Trailing.LockInPct)
	out.Exit.Trailing.TightenRate = cloneFloat(c.Exit.Trailing.TightenRate)
	return &out
}
