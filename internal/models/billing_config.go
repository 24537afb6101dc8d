/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "github.com/shopspring/decimal"

// BonusTier grants a percentage bonus credit on prepaid deposits at or
// above MinAmount. Tiers are evaluated highest threshold first.
type BonusTier struct {
	MinAmount decimal.Decimal `yaml:"min_amount"`
	Percent   decimal.Decimal `yaml:"percent"`
}

// PlanSeed is a plan definition loaded from the billing file and upserted
// into the plans table at startup.
type PlanSeed struct {
	Id             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	Price          decimal.Decimal `yaml:"price"`
	Currency       string          `yaml:"currency"`
	IntervalMonths int             `yaml:"interval_months"`
	CommissionRate decimal.Decimal `yaml:"commission_rate"`
}

// BillingConfig is the operator-maintained billing file: supported
// currencies, prepaid bonus tiers and the plan catalog.
type BillingConfig struct {
	Currencies []string    `yaml:"currencies"`
	BonusTiers []BonusTier `yaml:"bonus_tiers"`
	Plans      []PlanSeed  `yaml:"plans"`
}

// BonusFor returns the bonus credit a prepaid deposit of the given amount
// earns, or zero when no tier applies. The highest qualifying tier wins.
func (c *BillingConfig) BonusFor(amount decimal.Decimal) decimal.Decimal {
	percent := decimal.Zero
	bestMin := decimal.NewFromInt(-1)
	for _, tier := range c.BonusTiers {
		if amount.GreaterThanOrEqual(tier.MinAmount) && tier.MinAmount.GreaterThan(bestMin) {
			percent = tier.Percent
			bestMin = tier.MinAmount
		}
	}
	if percent.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(percent).Div(decimal.NewFromInt(100))
}

// SupportsCurrency reports whether the currency is in the configured set.
func (c *BillingConfig) SupportsCurrency(currency string) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}
