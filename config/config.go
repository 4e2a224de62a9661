package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/erain9/pairflow/pkg/db/queue"
)

// Config represents the application configuration
type Config struct {
	Engine struct {
		LogLevel   string `yaml:"log_level"`
		LogFormat  string `yaml:"log_format"`
		StatusFile string `yaml:"status_file"`
		MaxRounds  int    `yaml:"max_rounds"` // 0 = unlimited
	} `yaml:"engine"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Kafka struct {
		BrokerAddr string `yaml:"broker_addr"`
		Topic      string `yaml:"topic"`
		Producer   string `yaml:"producer"` // pooled, direct
		// DebugConsumer tails the drop-copy topic and pretty prints
		// every report, for developer use only.
		DebugConsumer bool `yaml:"debug_consumer"`
	} `yaml:"kafka"`

	Otel struct {
		Endpoint string `yaml:"endpoint"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"otel"`

	Connectors []ConnectorConfig `yaml:"connectors"`
	Pairs      []PairConfig      `yaml:"pairs"`
}

// ConnectorConfig names one connector instance and its factory type
type ConnectorConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// LegConfig identifies one traded instrument and the connectors serving
// it
type LegConfig struct {
	MDC     string  `yaml:"mdc"`
	OMC     string  `yaml:"omc"`
	SecID   int     `yaml:"sec_id"`
	Symbol  string  `yaml:"symbol"`
	PxStep  float64 `yaml:"px_step"`
	LotSize float64 `yaml:"lot_size"`
	Depth   int     `yaml:"depth"`
}

// PairConfig supplies all quant parameters of one traded pair
type PairConfig struct {
	Pass LegConfig `yaml:"pass"`
	Aggr LegConfig `yaml:"aggr"`

	QuotedQty        float64 `yaml:"quoted_qty"`
	PassPosSoftLimit float64 `yaml:"pass_pos_soft_limit"`
	ReQuoteDelayMSec int     `yaml:"re_quote_delay_msec"`
	EMACoeff         float64 `yaml:"ema_coeff"`

	AggrQtyFact    float64 `yaml:"aggr_qty_fact"`
	AggrQtyReserve float64 `yaml:"aggr_qty_reserve"`
	AggrMode       string  `yaml:"aggr_mode"` // DeepAggr, Pegged, FixedPass
	// AggrStopLoss is the virtual mark-to-market loss (negative) at
	// which a resting cover escalates to deeply-aggressive pricing.
	// Zero disables the stop.
	AggrStopLoss float64 `yaml:"aggr_stop_loss"`

	MarkUp       float64 `yaml:"mark_up"`
	PosSkewCoeff float64 `yaml:"pos_skew_coeff"`
	ExtraMarkUp  float64 `yaml:"extra_mark_up"`

	DeadZoneLotsFrom float64 `yaml:"dead_zone_lots_from"`
	DeadZoneLotsTo   float64 `yaml:"dead_zone_lots_to"`
	ResistCoeff      float64 `yaml:"resist_coeff"`

	FlipFlop      bool `yaml:"flip_flop"`
	ImprFillRates bool `yaml:"impr_fill_rates"`

	EnabledUntilMSK string `yaml:"enabled_until_msk"` // HH:MM
}

// Default configuration values
var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "pretty", "Log format: json, pretty")
)

// LoadConfig loads the configuration from command line flags and
// optionally from a config file.
func LoadConfig() (*Config, error) {
	flag.Parse()

	config := &Config{}
	config.Engine.LogLevel = *logLevel
	config.Engine.LogFormat = *logFormat
	config.Engine.StatusFile = "pairflow.status"
	config.Redis.Addr = "localhost:6379"
	config.Redis.Prefix = "pairflow"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.Topic = "pairflow-dropcopy"
	config.Kafka.Producer = "pooled"
	config.Otel.Endpoint = "localhost:4317"

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		queue.SetBrokerList(config.Kafka.BrokerAddr)
		queue.SetTopic(config.Kafka.Topic)
	}

	if p := config.Kafka.Producer; p != "pooled" && p != "direct" {
		return nil, fmt.Errorf("unknown kafka producer %q", p)
	}

	for i := range config.Pairs {
		applyPairDefaults(&config.Pairs[i])
		if err := validatePair(&config.Pairs[i]); err != nil {
			return nil, fmt.Errorf("invalid pair %d configuration: %w", i, err)
		}
	}

	return config, nil
}

// LoadPairParams reads per-pair overrides from the environment through
// viper, on top of the YAML values: PAIRFLOW_<N>_<KEY> overrides pair
// N's key.
func LoadPairParams(pairs []PairConfig) {
	v := viper.New()
	v.SetEnvPrefix("PAIRFLOW")
	v.AutomaticEnv()

	for i := range pairs {
		p := &pairs[i]
		key := func(name string) string { return fmt.Sprintf("%d_%s", i, name) }
		if v.IsSet(key("QUOTED_QTY")) {
			p.QuotedQty = v.GetFloat64(key("QUOTED_QTY"))
		}
		if v.IsSet(key("EMA_COEFF")) {
			p.EMACoeff = v.GetFloat64(key("EMA_COEFF"))
		}
		if v.IsSet(key("MARK_UP")) {
			p.MarkUp = v.GetFloat64(key("MARK_UP"))
		}
		if v.IsSet(key("AGGR_STOP_LOSS")) {
			p.AggrStopLoss = v.GetFloat64(key("AGGR_STOP_LOSS"))
		}
		if v.IsSet(key("ENABLED_UNTIL_MSK")) {
			p.EnabledUntilMSK = v.GetString(key("ENABLED_UNTIL_MSK"))
		}
	}
}

func applyPairDefaults(p *PairConfig) {
	if p.Pass.Depth == 0 {
		p.Pass.Depth = 10
	}
	if p.Aggr.Depth == 0 {
		p.Aggr.Depth = 10
	}
	if p.Pass.LotSize == 0 {
		p.Pass.LotSize = 1
	}
	if p.Aggr.LotSize == 0 {
		p.Aggr.LotSize = 1
	}
	if p.AggrQtyFact == 0 {
		p.AggrQtyFact = 1
	}
	if p.AggrQtyReserve == 0 {
		p.AggrQtyReserve = 1
	}
	if p.EMACoeff == 0 {
		p.EMACoeff = 0.05
	}
	if p.ReQuoteDelayMSec == 0 {
		p.ReQuoteDelayMSec = 500
	}
	if p.AggrMode == "" {
		p.AggrMode = "DeepAggr"
	}
}

func validatePair(p *PairConfig) error {
	if p.Pass.MDC == "" || p.Pass.OMC == "" {
		return fmt.Errorf("passive leg connectors must not be empty")
	}
	if p.Aggr.MDC == "" || p.Aggr.OMC == "" {
		return fmt.Errorf("aggressive leg connectors must not be empty")
	}
	if p.Pass.SecID == 0 || p.Aggr.SecID == 0 {
		return fmt.Errorf("leg sec_ids must be set")
	}
	if p.Pass.PxStep <= 0 || p.Aggr.PxStep <= 0 {
		return fmt.Errorf("leg px_steps must be positive")
	}
	if p.QuotedQty <= 0 {
		return fmt.Errorf("quoted_qty must be positive")
	}
	if p.EMACoeff <= 0 || p.EMACoeff > 1 {
		return fmt.Errorf("ema_coeff must be in (0,1]")
	}
	if p.AggrQtyFact <= 0 {
		return fmt.Errorf("aggr_qty_fact must be positive")
	}
	switch p.AggrMode {
	case "DeepAggr", "Pegged", "FixedPass":
	default:
		return fmt.Errorf("unknown aggr_mode %q", p.AggrMode)
	}
	if p.AggrStopLoss > 0 {
		return fmt.Errorf("aggr_stop_loss must be zero or negative, got %v", p.AggrStopLoss)
	}
	if p.DeadZoneLotsTo < p.DeadZoneLotsFrom {
		return fmt.Errorf("dead_zone_lots range is inverted")
	}
	if p.EnabledUntilMSK != "" {
		if _, err := ParseEnabledUntil(p.EnabledUntilMSK, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// mskZone is fixed UTC+3; Moscow has not observed DST since 2014
var mskZone = time.FixedZone("MSK", 3*3600)

// ParseEnabledUntil converts an HH:MM Moscow-time cutoff into a UTC
// timestamp on the trading date of now.
func ParseEnabledUntil(hhmm string, now time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad enabled_until_msk %q: %w", hhmm, err)
	}
	nowMSK := now.In(mskZone)
	cutoff := time.Date(nowMSK.Year(), nowMSK.Month(), nowMSK.Day(),
		t.Hour(), t.Minute(), 0, 0, mskZone)
	return cutoff.UTC(), nil
}
