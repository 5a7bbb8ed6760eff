package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Lending is the commercial policy the funding saga is parameterised with.
type Lending struct {
	// InterestRate is the annual rate written onto new contracts, in percent.
	InterestRate decimal.Decimal
	Fees         FeeSchedule
	Currency     string
}

// DefaultLending returns the policy used when no policy file is configured.
func DefaultLending() Lending {
	return Lending{
		InterestRate: decimal.NewFromInt(5),
		Fees:         DefaultFeeSchedule(),
		Currency:     "NGN",
	}
}

// Validate checks the policy is usable.
func (l Lending) Validate() error {
	if l.InterestRate.IsNegative() {
		return errors.New("interest rate must not be negative")
	}
	if l.Currency == "" {
		return errors.New("currency is required")
	}
	return l.Fees.Validate()
}

// LoadFile reads a YAML policy file. Fields missing from the file keep their
// default values.
func LoadFile(path string) (Lending, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Lending{}, fmt.Errorf("read lending policy: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML policy document over the defaults.
func Parse(raw []byte) (Lending, error) {
	l := DefaultLending()
	var doc struct {
		InterestRate string `yaml:"interest_rate"`
		Currency     string `yaml:"currency"`
		Fees         *struct {
			Tiers []struct {
				Name string `yaml:"name"`
				UpTo string `yaml:"up_to"`
				Fee  string `yaml:"fee"`
			} `yaml:"tiers"`
			Ceiling string `yaml:"ceiling"`
		} `yaml:"fees"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Lending{}, fmt.Errorf("decode lending policy: %w", err)
	}
	if doc.InterestRate != "" {
		rate, err := decimal.NewFromString(doc.InterestRate)
		if err != nil {
			return Lending{}, fmt.Errorf("interest_rate: %w", err)
		}
		l.InterestRate = rate
	}
	if doc.Currency != "" {
		l.Currency = doc.Currency
	}
	if doc.Fees != nil {
		schedule := FeeSchedule{Ceiling: l.Fees.Ceiling}
		for _, t := range doc.Fees.Tiers {
			upTo, err := decimal.NewFromString(t.UpTo)
			if err != nil {
				return Lending{}, fmt.Errorf("tier %q up_to: %w", t.Name, err)
			}
			fee, err := decimal.NewFromString(t.Fee)
			if err != nil {
				return Lending{}, fmt.Errorf("tier %q fee: %w", t.Name, err)
			}
			schedule.Tiers = append(schedule.Tiers, FeeTier{Name: t.Name, UpTo: upTo, Fee: fee})
		}
		if doc.Fees.Ceiling != "" {
			ceiling, err := decimal.NewFromString(doc.Fees.Ceiling)
			if err != nil {
				return Lending{}, fmt.Errorf("fees ceiling: %w", err)
			}
			schedule.Ceiling = ceiling
		}
		l.Fees = schedule
	}
	if err := l.Validate(); err != nil {
		return Lending{}, err
	}
	return l, nil
}
