package calc

import (
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
)

// percentDivisor converts a percentage payload field to a fraction.
const percentDivisor = 100.0

func registerScope1(t *Table) {
	// Stationary combustion, tier 1: fuelConsumption x factor.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryStationaryCombustion,
			Activity:  factors.ActivityFuelCombustion,
			Tier:      domain.Tier1,
		},
		Fields: []string{"fuelConsumption"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["fuelConsumption"], f)
		},
	})

	// Stationary combustion, tier 2: oxidation-adjusted fuel quantity.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryStationaryCombustion,
			Activity:  factors.ActivityFuelCombustion,
			Tier:      domain.Tier2,
		},
		Fields: []string{"fuelConsumption", "oxidationFactor"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			oxidation := values["oxidationFactor"]
			if oxidation == 0 {
				oxidation = 1
			}

			return vector(values["fuelConsumption"]*oxidation, f)
		},
	})

	// Mobile combustion, tier 1.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryMobileCombustion,
			Activity:  factors.ActivityVehicleFuel,
			Tier:      domain.Tier1,
		},
		Fields: []string{"fuelConsumption"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["fuelConsumption"], f)
		},
	})

	// Mobile combustion, tier 2: distance-based with a consumption rate.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryMobileCombustion,
			Activity:  factors.ActivityVehicleFuel,
			Tier:      domain.Tier2,
		},
		Fields: []string{"distanceTravelled", "fuelEfficiency"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			// fuelEfficiency is consumption per distance unit.
			return vector(values["distanceTravelled"]*values["fuelEfficiency"], f)
		},
	})

	// Process emission, tier 2: stoichiometric conversion of raw material.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryProcessEmission,
			Activity:  factors.ActivityIndustrial,
			Tier:      domain.Tier2,
		},
		Fields: []string{"rawMaterialInput", "stoichiometricFactor", "conversionEfficiency"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			quantity := values["rawMaterialInput"] *
				values["stoichiometricFactor"] *
				values["conversionEfficiency"]

			return vector(quantity, f)
		},
	})

	// Process emission, tier 1: raw material against a default factor.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryProcessEmission,
			Activity:  factors.ActivityIndustrial,
			Tier:      domain.Tier1,
		},
		Fields: []string{"rawMaterialInput"},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			return vector(values["rawMaterialInput"], f)
		},
	})

	// SF6 fugitive: mass-balance over nameplate capacity and inventory
	// movements, converted through the SF6 GWP. The factor set is unused;
	// SF6 is its own conversion.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryFugitiveEmission,
			Activity:  factors.ActivitySF6Equipment,
			Tier:      domain.Tier1,
		},
		Fields: []string{
			"nameplateCapacity", "defaultLeakageRate", "decreaseInventory",
			"acquisitions", "disbursements", "netCapacityIncrease",
		},
		Fn: func(values map[string]float64, _ domain.FactorValues) domain.GasVector {
			leaked := values["nameplateCapacity"]*values["defaultLeakageRate"]/percentDivisor +
				values["decreaseInventory"] +
				values["acquisitions"] -
				values["disbursements"] -
				values["netCapacityIncrease"]

			return domain.GasVector{CO2e: leaked * factors.GWPSF6}
		},
	})

	// Refrigeration fugitive: screening method over installed capacity,
	// purchases and disposals. The refrigerant GWP rides in the factor
	// CO2e when configured; otherwise the R-134a default applies.
	t.register(Variant{
		Key: VariantKey{
			ScopeType: domain.Scope1,
			Category:  factors.CategoryFugitiveEmission,
			Activity:  factors.ActivityRefrigeration,
			Tier:      domain.Tier1,
		},
		Fields: []string{
			"numberOfUnits", "leakageRate", "installedCapacity",
			"endYearCapacity", "purchases", "disposals",
		},
		Fn: func(values map[string]float64, f domain.FactorValues) domain.GasVector {
			units := values["numberOfUnits"]
			if units == 0 {
				units = 1
			}

			operating := units * values["installedCapacity"] * values["leakageRate"] / percentDivisor
			balance := values["purchases"] - values["disposals"] +
				(values["installedCapacity"] - values["endYearCapacity"])

			leaked := operating + balance
			if leaked < 0 {
				leaked = 0
			}

			gwp := f.CO2e
			if gwp == 0 {
				gwp = factors.RefrigerantGWP("")
			}

			return domain.GasVector{CO2e: leaked * gwp}
		},
	})
}
