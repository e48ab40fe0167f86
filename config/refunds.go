package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var defaultRefundTolerance = decimal.New(1, -2)

type refundTolerancesFile struct {
	Default    string            `yaml:"default"`
	Currencies map[string]string `yaml:"currencies"`
}

func loadRefunds() (RefundsConfig, error) {
	cfg := RefundsConfig{
		DefaultTolerance: defaultRefundTolerance,
		Tolerances:       map[string]decimal.Decimal{},
	}

	if raw := os.Getenv("REFUND_TOLERANCE"); raw != "" {
		tolerance, err := decimal.NewFromString(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid REFUND_TOLERANCE: %w", err)
		}
		cfg.DefaultTolerance = tolerance
	}

	path := os.Getenv("REFUND_TOLERANCES_FILE")
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read refund tolerances file: %w", err)
	}
	return parseRefundTolerances(content, cfg)
}

func parseRefundTolerances(content []byte, cfg RefundsConfig) (RefundsConfig, error) {
	var file refundTolerancesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return cfg, fmt.Errorf("parse refund tolerances file: %w", err)
	}

	if file.Default != "" {
		tolerance, err := decimal.NewFromString(file.Default)
		if err != nil {
			return cfg, fmt.Errorf("invalid default refund tolerance: %w", err)
		}
		cfg.DefaultTolerance = tolerance
	}
	for currency, raw := range file.Currencies {
		tolerance, err := decimal.NewFromString(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid refund tolerance for %s: %w", currency, err)
		}
		cfg.Tolerances[strings.ToUpper(currency)] = tolerance
	}

	return cfg, nil
}

// ToleranceFor returns the rounding tolerance used to decide whether a refund is full.
func (c RefundsConfig) ToleranceFor(currency string) decimal.Decimal {
	if tolerance, ok := c.Tolerances[strings.ToUpper(currency)]; ok {
		return tolerance
	}
	if c.DefaultTolerance.IsZero() && len(c.Tolerances) == 0 {
		return defaultRefundTolerance
	}
	return c.DefaultTolerance
}
