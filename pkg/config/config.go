package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/naoina/toml"

	"github.com/boristopalov/fishery/pkg/messaging"
)

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the whole fishery system configuration.
type Config struct {
	Owner     OwnerConfig
	Water     WaterConfig
	Fish      FishConfig
	Fisherman FishermanConfig
	Log       LogConfig
	Ledger    LedgerConfig
}

type OwnerConfig struct {
	Address        string
	Capacity       int
	QuotaLimit     int
	QuotaReset     Duration // 0 disables the periodic reset
	ReceiveTimeout Duration
	// performatives used for take-fish answers
	GrantPerformative string
	DenyPerformative  string
}

type WaterConfig struct {
	Address      string
	SamplePeriod Duration
	Window       int
	Threshold    float64
	Aeration     Duration
	PHMean       float64
	PHStdDev     float64
}

type FishConfig struct {
	Address        string
	MonitorPeriod  Duration
	Window         int
	StockThreshold float64
	CameraMean     float64
	CameraStdDev   float64
	SonarMean      float64
	SonarStdDev    float64

	FeedPeriod         Duration
	SupplyKg           float64
	ReorderThresholdKg float64
	ReorderAmountKg    float64
	PortionKg          float64
	OrderDelay         Duration

	HealthPeriod   Duration
	ReceiveTimeout Duration
}

type FishermanConfig struct {
	Count        int
	Attempts     int
	EnterTimeout Duration
	TakeTimeout  Duration
	CatchPause   Duration
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
	File   string `toml:",omitempty"`
}

type LedgerConfig struct {
	DSN string
}

// Defaults returns the configuration the system runs with when nothing is
// overridden.
func Defaults() Config {
	return Config{
		Owner: OwnerConfig{
			Address:           "owner@localhost",
			Capacity:          3,
			QuotaLimit:        10,
			ReceiveTimeout:    Duration(30 * time.Second),
			GrantPerformative: string(messaging.Agree),
			DenyPerformative:  string(messaging.Refuse),
		},
		Water: WaterConfig{
			Address:      "water_caretaker@localhost",
			SamplePeriod: Duration(2 * time.Second),
			Window:       10,
			Threshold:    1.1,
			Aeration:     Duration(5 * time.Second),
			PHMean:       10,
			PHStdDev:     5,
		},
		Fish: FishConfig{
			Address:            "fish_caretaker@localhost",
			MonitorPeriod:      Duration(5 * time.Second),
			Window:             10,
			StockThreshold:     0.1,
			CameraMean:         500,
			CameraStdDev:       50,
			SonarMean:          500,
			SonarStdDev:        80,
			FeedPeriod:         Duration(20 * time.Second),
			SupplyKg:           10,
			ReorderThresholdKg: 2,
			ReorderAmountKg:    25,
			PortionKg:          1,
			OrderDelay:         Duration(3 * time.Second),
			HealthPeriod:       Duration(30 * time.Second),
			ReceiveTimeout:     Duration(30 * time.Second),
		},
		Fisherman: FishermanConfig{
			Count:        3,
			Attempts:     5,
			EnterTimeout: Duration(10 * time.Second),
			TakeTimeout:  Duration(30 * time.Second),
			CatchPause:   Duration(time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			DSN: ":memory:",
		},
	}
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(file string) (Config, error) {
	cfg := Defaults()
	f, err := os.Open(file)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	return tomlSettings.Marshal(&cfg)
}

// Validate rejects settings the agents cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Owner.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("Owner.Capacity must be positive, got %d", c.Owner.Capacity))
	}
	if c.Owner.QuotaLimit < 0 {
		errs = append(errs, fmt.Errorf("Owner.QuotaLimit must not be negative, got %d", c.Owner.QuotaLimit))
	}
	switch messaging.Performative(c.Owner.GrantPerformative) {
	case messaging.Agree, messaging.Inform:
	default:
		errs = append(errs, fmt.Errorf("Owner.GrantPerformative must be agree or inform, got %q", c.Owner.GrantPerformative))
	}
	switch messaging.Performative(c.Owner.DenyPerformative) {
	case messaging.Refuse, messaging.Disconfirm:
	default:
		errs = append(errs, fmt.Errorf("Owner.DenyPerformative must be refuse or disconfirm, got %q", c.Owner.DenyPerformative))
	}
	if c.Water.Window < 2 {
		errs = append(errs, fmt.Errorf("Water.Window must be at least 2, got %d", c.Water.Window))
	}
	if c.Fish.Window < 2 {
		errs = append(errs, fmt.Errorf("Fish.Window must be at least 2, got %d", c.Fish.Window))
	}
	if c.Fisherman.Count < 0 {
		errs = append(errs, fmt.Errorf("Fisherman.Count must not be negative, got %d", c.Fisherman.Count))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("Log.Format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides settings from FISHERY_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("FISHERY_OWNER_ADDRESS", &c.Owner.Address)
	integer("FISHERY_CAPACITY", &c.Owner.Capacity)
	integer("FISHERY_QUOTA_LIMIT", &c.Owner.QuotaLimit)
	duration("FISHERY_QUOTA_RESET", &c.Owner.QuotaReset)
	float("FISHERY_WATER_THRESHOLD", &c.Water.Threshold)
	duration("FISHERY_WATER_PERIOD", &c.Water.SamplePeriod)
	duration("FISHERY_FEED_PERIOD", &c.Fish.FeedPeriod)
	float("FISHERY_SUPPLY_KG", &c.Fish.SupplyKg)
	integer("FISHERY_FISHERMEN", &c.Fisherman.Count)
	integer("FISHERY_ATTEMPTS", &c.Fisherman.Attempts)
	str("FISHERY_LOG_LEVEL", &c.Log.Level)
	str("FISHERY_LOG_FORMAT", &c.Log.Format)
	str("FISHERY_LOG_FILE", &c.Log.File)
	str("FISHERY_LEDGER_DSN", &c.Ledger.DSN)

	return errors.Join(errs...)
}
