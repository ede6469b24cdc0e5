package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

// PriceKey names a configured price.
type PriceKey string

const (
	PriceEnrollment PriceKey = "price.enrollment"
	PriceClass      PriceKey = "price.class"
)

// Pricing supplies configured prices.
type Pricing interface {
	Price(ctx context.Context, key PriceKey) (decimal.Decimal, error)
}

// SettingsPricing reads prices from the settings table. A missing key takes
// its value from Defaults and is written back on first read.
type SettingsPricing struct {
	Settings billing.SettingsStore
	Defaults map[PriceKey]decimal.Decimal
}

// NewSettingsPricing creates a pricing source with the given defaults.
func NewSettingsPricing(settings billing.SettingsStore, enrollment, class decimal.Decimal) *SettingsPricing {
	return &SettingsPricing{
		Settings: settings,
		Defaults: map[PriceKey]decimal.Decimal{
			PriceEnrollment: enrollment,
			PriceClass:      class,
		},
	}
}

// Price returns the configured price for key.
func (p *SettingsPricing) Price(ctx context.Context, key PriceKey) (decimal.Decimal, error) {
	raw, ok, err := p.Settings.GetSetting(ctx, string(key))
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		def, known := p.Defaults[key]
		if !known {
			return decimal.Zero, fmt.Errorf("no default for price %q", key)
		}
		def = billing.Money(def)
		if err := p.Settings.PutSetting(ctx, string(key), def.String()); err != nil {
			return decimal.Zero, err
		}
		raw = def.String()
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, billing.InvalidAmount(string(key), raw, "not a number")
	}
	price = billing.Money(price)
	if !price.IsPositive() {
		return decimal.Zero, billing.InvalidAmount(string(key), raw, "price must be positive")
	}
	return price, nil
}

// SetPrice stores a new price for key.
func (p *SettingsPricing) SetPrice(ctx context.Context, key PriceKey, value decimal.Decimal) error {
	value = billing.Money(value)
	if !value.IsPositive() {
		return billing.InvalidAmount(string(key), value, "price must be positive")
	}
	return p.Settings.PutSetting(ctx, string(key), value.String())
}
