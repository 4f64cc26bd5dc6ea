package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule holds the platform fee percentage per contract type.
type FeeSchedule struct {
	services decimal.Decimal
	products decimal.Decimal
}

func NewFeeSchedule(cfg config.FeeConfig) (*FeeSchedule, error) {
	services, err := parsePercent("services", cfg.ServicesPercent)
	if err != nil {
		return nil, err
	}
	products, err := parsePercent("products", cfg.ProductsPercent)
	if err != nil {
		return nil, err
	}
	return &FeeSchedule{services: services, products: products}, nil
}

func parsePercent(name, raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s fee percent %q: %w", name, raw, err)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%s fee percent must be between 0 and 100, got %s", name, pct)
	}
	return pct, nil
}

func (f *FeeSchedule) Percent(contractType enums.ContractType) decimal.Decimal {
	if contractType == enums.ContractTypeProducts {
		return f.products
	}
	return f.services
}

// FeeCents is budget x percent / 100, rounded half-up to whole cents.
func (f *FeeSchedule) FeeCents(contractType enums.ContractType, budgetCents int64) int64 {
	fee := decimal.NewFromInt(budgetCents).Mul(f.Percent(contractType)).Div(hundred)
	return fee.Round(0).IntPart()
}
