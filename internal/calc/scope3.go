package calc

import (
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

// factorActivitySpend and factorActivityQuantity are the catalogue rows the
// scope 3 tiers resolve against, independent of the declared activity.
const (
	factorActivitySpend    = "spend"
	factorActivityQuantity = "quantity"
)

func registerScope3(t *Table) {
	// Category-wide registrations (empty activity): every scope 3 category
	// gets a tier-1 spend-based and a tier-2 quantity-based variant.
	// Specific activities below override these where the field set differs.
	for _, category := range factors.Scope3Categories {
		t.register(Variant{
			Key: VariantKey{
				ScopeType: domain.Scope3,
				Category:  category,
				Tier:      domain.Tier1,
			},
			Fields:         []string{"spend"},
			FactorActivity: factorActivitySpend,
			FactorUnit:     "spend",
			Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
				return vector(values["spend"], f)
			},
		})

		t.register(Variant{
			Key: VariantKey{
				ScopeType: domain.Scope3,
				Category:  category,
				Tier:      domain.Tier2,
			},
			Fields:         []string{"quantity"},
			FactorActivity: factorActivityQuantity,
			Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
				return vector(values["quantity"], f)
			},
		})
	}

	// Purchased goods & services keeps the procurement field names.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryPurchasedGoods,
			Activity:  "procurement",
			Tier:      domain.Tier1,
		},
		Fields:         []string{"procurementSpend"},
		FactorActivity: factorActivitySpend,
		FactorUnit:     "spend",
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["procurementSpend"], f)
		},
	})

	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryPurchasedGoods,
			Activity:  "procurement",
			Tier:      domain.Tier2,
		},
		Fields:         []string{"physicalQuantity"},
		FactorActivity: factorActivityQuantity,
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["physicalQuantity"], f)
		},
	})

	// Employee commuting, tier 1: headcount x distance x working days.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryEmployeeCommuting,
			Activity:  "commuting",
			Tier:      domain.Tier1,
		},
		Fields:         []string{"employeeCount", "averageCommuteDistance", "workingDays"},
		FactorActivity: factorActivityQuantity,
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			distance := values["employeeCount"] *
				values["averageCommuteDistance"] *
				values["workingDays"]

			return vector(distance, f)
		},
	})

	// Business travel, tier 2: distance-based.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryBusinessTravel,
			Activity:  "travel",
			Tier:      domain.Tier2,
		},
		Fields:         []string{"distanceTravelled", "travellerCount"},
		FactorActivity: factorActivityQuantity,
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			travellers := values["travellerCount"]
			if travellers == 0 {
				travellers = 1
			}

			return vector(values["distanceTravelled"]*travellers, f)
		},
	})

	// Waste generated, tier 2: per-tonne treatment.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryWasteGenerated,
			Activity:  "waste_treatment",
			Tier:      domain.Tier2,
		},
		Fields:         []string{"wasteMass", "recycledFraction"},
		FactorActivity: factorActivityQuantity,
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			// Recycled share is excluded from treatment emissions.
			effective := values["wasteMass"] * (1 - values["recycledFraction"]/percentDivisor)
			if effective < 0 {
				effective = 0
			}

			return vector(effective, f)
		},
	})

	// Upstream transportation, tier 2: tonne-kilometres.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope3,
			Category:  factors.CategoryUpstreamTransport,
			Activity:  "freight",
			Tier:      domain.Tier2,
		},
		Fields:         []string{"massTransported", "transportDistance"},
		FactorActivity: factorActivityQuantity,
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["massTransported"]*values["transportDistance"], f)
		},
	})
}
