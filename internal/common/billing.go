package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"gopkg.in/yaml.v2"
)

// LoadBillingConfig reads the operator-maintained billing file: supported
// currencies, prepaid bonus tiers and the plan catalog.
func LoadBillingConfig(billingFile string) (*models.BillingConfig, error) {
	var billingPath string
	if filepath.IsAbs(billingFile) {
		billingPath = billingFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		billingPath = filepath.Join(wd, billingFile)
	}

	data, err := os.ReadFile(billingPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", billingFile, err)
	}

	var config models.BillingConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", billingFile, err)
	}

	if len(config.Currencies) == 0 {
		return nil, fmt.Errorf("%s lists no currencies", billingFile)
	}
	for i, tier := range config.BonusTiers {
		if !tier.MinAmount.IsPositive() {
			return nil, fmt.Errorf("bonus tier at index %d has non-positive min_amount", i)
		}
		if tier.Percent.IsNegative() {
			return nil, fmt.Errorf("bonus tier at index %d has negative percent", i)
		}
	}
	for i, plan := range config.Plans {
		if plan.Id == "" {
			return nil, fmt.Errorf("plan at index %d missing id", i)
		}
		if !plan.Price.IsPositive() {
			return nil, fmt.Errorf("plan %s has non-positive price", plan.Id)
		}
		if !config.SupportsCurrency(plan.Currency) {
			return nil, fmt.Errorf("plan %s uses unlisted currency %q", plan.Id, plan.Currency)
		}
	}

	return &config, nil
}

// SeedPlans upserts the billing file's plan catalog into the store.
func SeedPlans(ctx context.Context, st store.Store, billing *models.BillingConfig) error {
	for _, seed := range billing.Plans {
		err := st.UpsertPlan(ctx, models.Plan{
			Id:             seed.Id,
			Name:           seed.Name,
			Price:          seed.Price,
			Currency:       seed.Currency,
			IntervalMonths: seed.IntervalMonths,
			CommissionRate: seed.CommissionRate,
		})
		if err != nil {
			return fmt.Errorf("seeding plan %s: %w", seed.Id, err)
		}
	}
	return nil
}
