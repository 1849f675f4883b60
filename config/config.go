package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrTierTableInvalid signals a malformed or non-monotonic policy table.
	ErrTierTableInvalid = errors.New("config: invalid tier table")
)

// DelayTier maps a delay threshold (whole days past estimated harvest) to a
// compensation type and a percentage of the order total.
type DelayTier struct {
	Days    int    `yaml:"days"`
	Type    string `yaml:"type"`
	Percent int    `yaml:"percent"`
	Name    string `yaml:"name"`
}

// RefundTier maps a minimum number of days before harvest to a refund
// percentage of the held deposit.
type RefundTier struct {
	MinDaysBefore int    `yaml:"min_days_before"`
	Percent       int    `yaml:"percent"`
	Name          string `yaml:"name"`
}

// RiskWeights carries the contribution of each fraud pattern to the 0-100
// risk score.
type RiskWeights struct {
	DuplicateShippingAddress int `yaml:"duplicate_shipping_address"`
	DuplicatePhone           int `yaml:"duplicate_phone"`
	OrderSpike               int `yaml:"order_spike"`
	EndOfMonthSurge          int `yaml:"end_of_month_surge"`
	RepeatedCODCancellations int `yaml:"repeated_cod_cancellations"`
}

// Config is the engine configuration: connection info plus every policy
// table the calculators take as input. Thresholds are operator-owned data,
// not code.
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	CommissionRatePercent  int
	InspectionPeriodHours  int
	SweepWorkers           int
	VoucherValidity        time.Duration
	ShortageBonusThreshold int
	ShortageBonusPercent   int

	DelayTiers  []DelayTier
	RefundTiers []RefundTier
	RiskWeights RiskWeights
}

type configFile struct {
	HTTPAddr string `yaml:"http_addr"`
	Release  struct {
		CommissionRatePercent int `yaml:"commission_rate_percent"`
		InspectionPeriodHours int `yaml:"inspection_period_hours"`
	} `yaml:"release"`
	Sweep struct {
		Workers int `yaml:"workers"`
	} `yaml:"sweep"`
	Compensation struct {
		VoucherValidityDays    int         `yaml:"voucher_validity_days"`
		ShortageBonusThreshold int         `yaml:"shortage_bonus_threshold"`
		ShortageBonusPercent   int         `yaml:"shortage_bonus_percent"`
		DelayTiers             []DelayTier `yaml:"delay_tiers"`
	} `yaml:"compensation"`
	Cancellation struct {
		RefundTiers []RefundTier `yaml:"refund_tiers"`
	} `yaml:"cancellation"`
	Risk RiskWeights `yaml:"risk_weights"`
}

// Load builds the configuration from defaults, overlays the optional YAML
// file at path, then applies DATABASE_URL and HTTP_ADDR from the
// environment. Policy tables are validated before the config is returned.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPAddr:               ":8080",
		CommissionRatePercent:  10,
		InspectionPeriodHours:  24,
		SweepWorkers:           4,
		VoucherValidity:        90 * 24 * time.Hour,
		ShortageBonusThreshold: 30,
		ShortageBonusPercent:   5,
		DelayTiers: []DelayTier{
			{Days: 30, Type: "partial_refund", Percent: 20, Name: "delay_30_days"},
			{Days: 21, Type: "discount_current_order", Percent: 15, Name: "delay_21_days"},
			{Days: 14, Type: "voucher", Percent: 10, Name: "delay_14_days"},
			{Days: 7, Type: "voucher", Percent: 5, Name: "delay_7_days"},
		},
		// Default table pending confirmation from the policy owner; override
		// via the cancellation.refund_tiers section.
		RefundTiers: []RefundTier{
			{MinDaysBefore: 30, Percent: 100, Name: "full_refund"},
			{MinDaysBefore: 14, Percent: 70, Name: "early_cancellation"},
			{MinDaysBefore: 7, Percent: 50, Name: "standard_cancellation"},
			{MinDaysBefore: 3, Percent: 30, Name: "late_cancellation"},
			{MinDaysBefore: 0, Percent: 0, Name: "at_harvest"},
		},
		RiskWeights: RiskWeights{
			DuplicateShippingAddress: 25,
			DuplicatePhone:           20,
			OrderSpike:               20,
			EndOfMonthSurge:          15,
			RepeatedCODCancellations: 20,
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		applyFile(&cfg, f)
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if err := ValidateDelayTiers(cfg.DelayTiers); err != nil {
		return Config{}, err
	}
	if err := ValidateRefundTiers(cfg.RefundTiers); err != nil {
		return Config{}, err
	}
	if cfg.CommissionRatePercent < 0 || cfg.CommissionRatePercent > 100 {
		return Config{}, fmt.Errorf("config: commission rate %d out of range", cfg.CommissionRatePercent)
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.HTTPAddr != "" {
		cfg.HTTPAddr = f.HTTPAddr
	}
	if f.Release.CommissionRatePercent > 0 {
		cfg.CommissionRatePercent = f.Release.CommissionRatePercent
	}
	if f.Release.InspectionPeriodHours > 0 {
		cfg.InspectionPeriodHours = f.Release.InspectionPeriodHours
	}
	if f.Sweep.Workers > 0 {
		cfg.SweepWorkers = f.Sweep.Workers
	}
	if f.Compensation.VoucherValidityDays > 0 {
		cfg.VoucherValidity = time.Duration(f.Compensation.VoucherValidityDays) * 24 * time.Hour
	}
	if f.Compensation.ShortageBonusThreshold > 0 {
		cfg.ShortageBonusThreshold = f.Compensation.ShortageBonusThreshold
	}
	if f.Compensation.ShortageBonusPercent > 0 {
		cfg.ShortageBonusPercent = f.Compensation.ShortageBonusPercent
	}
	if len(f.Compensation.DelayTiers) > 0 {
		cfg.DelayTiers = f.Compensation.DelayTiers
	}
	if len(f.Cancellation.RefundTiers) > 0 {
		cfg.RefundTiers = f.Cancellation.RefundTiers
	}
	if f.Risk != (RiskWeights{}) {
		cfg.RiskWeights = f.Risk
	}
}

// ValidateDelayTiers requires tiers sorted by descending day threshold with
// percentages in range; the sweep picks the first tier the delay reaches.
func ValidateDelayTiers(tiers []DelayTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no delay tiers", ErrTierTableInvalid)
	}
	for i, t := range tiers {
		if t.Days <= 0 || t.Percent <= 0 || t.Percent > 100 || t.Name == "" || t.Type == "" {
			return fmt.Errorf("%w: delay tier %d", ErrTierTableInvalid, i)
		}
		if i > 0 && tiers[i-1].Days <= t.Days {
			return fmt.Errorf("%w: delay tiers must descend (index %d)", ErrTierTableInvalid, i)
		}
	}
	return nil
}

// ValidateRefundTiers requires tiers sorted by descending lead time with
// monotonically non-increasing percentages: less lead time never yields a
// higher refund.
func ValidateRefundTiers(tiers []RefundTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no refund tiers", ErrTierTableInvalid)
	}
	for i, t := range tiers {
		if t.MinDaysBefore < 0 || t.Percent < 0 || t.Percent > 100 || t.Name == "" {
			return fmt.Errorf("%w: refund tier %d", ErrTierTableInvalid, i)
		}
		if i > 0 {
			if tiers[i-1].MinDaysBefore <= t.MinDaysBefore {
				return fmt.Errorf("%w: refund tiers must descend (index %d)", ErrTierTableInvalid, i)
			}
			if tiers[i-1].Percent < t.Percent {
				return fmt.Errorf("%w: refund percent must not increase with less lead time (index %d)", ErrTierTableInvalid, i)
			}
		}
	}
	return nil
}
