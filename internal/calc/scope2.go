package calc

import (
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

func registerScope2(t *Table) {
	// Purchased electricity: consumed_electricity x grid factor. The
	// catalogue resolves the grid intensity for the measurement year when
	// the scope uses the Country source.
	for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2} {
		t.register(Variant{
			Key: VariantKey{
				ScopeType: domain.Scope2,
				Category:  factors.CategoryPurchasedEnergy,
				Activity:  factors.ActivityElectricity,
				Tier:      tier,
			},
			Fields: []string{"consumed_electricity"},
			Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
				return vector(values["consumed_electricity"], f)
			},
		})
	}

	// Purchased steam / heating / cooling share the thermal factor row.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope2,
			Category:  factors.CategoryPurchasedEnergy,
			Activity:  factors.ActivitySteam,
			Tier:      domain.Tier1,
		},
		Fields: []string{"steamConsumption"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["steamConsumption"], f)
		},
	})

	// Tier 3: site-metered electricity with transmission losses.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope2,
			Category:  factors.CategoryPurchasedEnergy,
			Activity:  factors.ActivityElectricity,
			Tier:      domain.Tier3,
		},
		Fields: []string{"consumed_electricity", "transmissionLossPct"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			gross := values["consumed_electricity"] *
				(1 + values["transmissionLossPct"]/percentDivisor)

			return vector(gross, f)
		},
	})
}
