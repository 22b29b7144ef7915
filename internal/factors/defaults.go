package factors

import (
	"time"

	"github.com/example/carbonplane/internal/domain"
)

// Canonical category and activity names shared by the catalogue, the
// ingestion normaliser and the calculation dispatch table.
const (
	CategoryStationaryCombustion = "stationary_combustion"
	CategoryMobileCombustion     = "mobile_combustion"
	CategoryProcessEmission      = "process_emission"
	CategoryFugitiveEmission     = "fugitive_emission"

	CategoryPurchasedEnergy = "purchased_energy"

	CategoryPurchasedGoods      = "purchased_goods_and_services"
	CategoryCapitalGoods        = "capital_goods"
	CategoryFuelEnergyRelated   = "fuel_and_energy_related"
	CategoryUpstreamTransport   = "upstream_transportation"
	CategoryWasteGenerated      = "waste_generated"
	CategoryBusinessTravel      = "business_travel"
	CategoryEmployeeCommuting   = "employee_commuting"
	CategoryUpstreamLeased      = "upstream_leased_assets"
	CategoryDownstreamTransport = "downstream_transportation"
	CategoryProcessingSold      = "processing_of_sold_products"
	CategoryUseOfSold           = "use_of_sold_products"
	CategoryEndOfLife           = "end_of_life_treatment"
	CategoryDownstreamLeased    = "downstream_leased_assets"
	CategoryFranchises          = "franchises"
	CategoryInvestments         = "investments"
)

const (
	ActivityFuelCombustion = "fuel_combustion"
	ActivityVehicleFuel    = "vehicle_fuel"
	ActivityIndustrial     = "industrial_process"
	ActivitySF6Equipment   = "sf6_equipment"
	ActivityRefrigeration  = "refrigeration"

	ActivityElectricity = "purchased_electricity"
	ActivitySteam       = "purchased_steam"
)

// Scope3Categories lists the fifteen GHG Protocol value-chain categories.
var Scope3Categories = []string{
	CategoryPurchasedGoods,
	CategoryCapitalGoods,
	CategoryFuelEnergyRelated,
	CategoryUpstreamTransport,
	CategoryWasteGenerated,
	CategoryBusinessTravel,
	CategoryEmployeeCommuting,
	CategoryUpstreamLeased,
	CategoryDownstreamTransport,
	CategoryProcessingSold,
	CategoryUseOfSold,
	CategoryEndOfLife,
	CategoryDownstreamLeased,
	CategoryFranchises,
	CategoryInvestments,
}

// defaultFuelFactors is the stationary/mobile combustion table in kg CO2e
// per unit (litres for liquids, cubic metres for natural gas, kg for coal).
// Values follow the EPA GHG Emission Factors Hub and DEFRA conversion
// factors.
var defaultFuelFactors = map[string]struct {
	co2e float64
	unit string
}{
	"diesel":      {2.68, "L"},
	"gasoline":    {2.31, "L"},
	"natural_gas": {1.93, "m3"},
	"propane":     {1.51, "L"},
	"fuel_oil":    {2.96, "L"},
	"jet_fuel":    {2.52, "L"},
	"coal":        {2.42, "kg"},
	"lpg":         {1.56, "L"},
}

// defaultSpendFactors is the scope 3 tier-1 spend-based table in kg CO2e
// per unit of spend, an economic input-output style average per category.
var defaultSpendFactors = map[string]float64{
	CategoryPurchasedGoods:      0.42,
	CategoryCapitalGoods:        0.38,
	CategoryFuelEnergyRelated:   0.55,
	CategoryUpstreamTransport:   0.61,
	CategoryWasteGenerated:      0.34,
	CategoryBusinessTravel:      0.47,
	CategoryEmployeeCommuting:   0.17,
	CategoryUpstreamLeased:      0.25,
	CategoryDownstreamTransport: 0.58,
	CategoryProcessingSold:      0.36,
	CategoryUseOfSold:           0.29,
	CategoryEndOfLife:           0.31,
	CategoryDownstreamLeased:    0.24,
	CategoryFranchises:          0.28,
	CategoryInvestments:         0.19,
}

// defaultQuantityFactors is the scope 3 tier-2 quantity-based table in kg
// CO2e per physical unit (km, kg, kWh depending on category).
var defaultQuantityFactors = map[string]struct {
	co2e float64
	unit string
}{
	CategoryPurchasedGoods:      {1.85, "kg"},
	CategoryCapitalGoods:        {2.10, "kg"},
	CategoryFuelEnergyRelated:   {0.21, "kWh"},
	CategoryUpstreamTransport:   {0.11, "tkm"},
	CategoryWasteGenerated:      {0.47, "kg"},
	CategoryBusinessTravel:      {0.15, "km"},
	CategoryEmployeeCommuting:   {0.17, "km"},
	CategoryUpstreamLeased:      {0.19, "kWh"},
	CategoryDownstreamTransport: {0.11, "tkm"},
	CategoryProcessingSold:      {0.52, "kg"},
	CategoryUseOfSold:           {0.23, "kWh"},
	CategoryEndOfLife:           {0.49, "kg"},
	CategoryDownstreamLeased:    {0.19, "kWh"},
	CategoryFranchises:          {0.22, "kWh"},
	CategoryInvestments:         {0.05, "spend"},
}

// defaultRefrigerantGWP maps refrigerant blends to their AR5 GWP used by
// the refrigeration fugitive calculator.
var defaultRefrigerantGWP = map[string]float64{
	"r134a": 1300,
	"r410a": 1924,
	"r404a": 3943,
	"r32":   677,
	"co2":   1,
}

func seedDefaults() map[string]Factor {
	seeded := make(map[string]Factor)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	add := func(f Factor) {
		f.UpdatedAt = now
		seeded[f.Key.canonical()] = f
	}

	// Stationary and mobile combustion, per standard, keyed by fuel.
	for _, standard := range []domain.FactorSource{domain.SourceEPA, domain.SourceDEFRA, domain.SourceIPCC} {
		for fuel, row := range defaultFuelFactors {
			add(Factor{
				Key: Key{
					Standard:  standard,
					ScopeType: domain.Scope1,
					Category:  CategoryStationaryCombustion,
					Activity:  ActivityFuelCombustion,
					Fuel:      fuel,
					Unit:      row.unit,
				},
				Values: domain.FactorValues{
					CO2e:     row.co2e,
					Unit:     row.unit,
					GWP:      GWP,
					Citation: "EPA GHG Emission Factors Hub / DEFRA conversion factors",
				},
				Search: fuel + " combustion",
			})

			add(Factor{
				Key: Key{
					Standard:  standard,
					ScopeType: domain.Scope1,
					Category:  CategoryMobileCombustion,
					Activity:  ActivityVehicleFuel,
					Fuel:      fuel,
					Unit:      row.unit,
				},
				Values: domain.FactorValues{
					CO2e:     row.co2e,
					Unit:     row.unit,
					GWP:      GWP,
					Citation: "EPA GHG Emission Factors Hub / DEFRA conversion factors",
				},
				Search: fuel + " mobile combustion",
			})
		}

		// Process emissions, per tonne of raw material baseline.
		add(Factor{
			Key: Key{
				Standard:  standard,
				ScopeType: domain.Scope1,
				Category:  CategoryProcessEmission,
				Activity:  ActivityIndustrial,
				Unit:      "t",
			},
			Values: domain.FactorValues{
				CO2e:     520,
				Unit:     "t",
				GWP:      GWP,
				Citation: "IPCC 2006 Guidelines, industrial processes",
			},
			Search: "industrial process emission",
		})

		// Purchased steam, kg CO2e per kWh thermal.
		add(Factor{
			Key: Key{
				Standard:  standard,
				ScopeType: domain.Scope2,
				Category:  CategoryPurchasedEnergy,
				Activity:  ActivitySteam,
				Unit:      "kWh",
			},
			Values: domain.FactorValues{
				CO2e:     0.18,
				Unit:     "kWh",
				GWP:      GWP,
				Citation: "EPA GHG Emission Factors Hub, steam and heat",
			},
			Search: "purchased steam heat",
		})

		// Scope 3 spend (tier 1) and quantity (tier 2) rows per category.
		for _, category := range Scope3Categories {
			add(Factor{
				Key: Key{
					Standard:  standard,
					ScopeType: domain.Scope3,
					Category:  category,
					Activity:  "spend",
					Unit:      "spend",
				},
				Values: domain.FactorValues{
					CO2e:     defaultSpendFactors[category],
					Unit:     "spend",
					GWP:      GWP,
					Citation: "EEIO spend-based averages",
				},
				Search: category + " spend",
			})

			qty := defaultQuantityFactors[category]

			add(Factor{
				Key: Key{
					Standard:  standard,
					ScopeType: domain.Scope3,
					Category:  category,
					Activity:  "quantity",
					Unit:      qty.unit,
				},
				Values: domain.FactorValues{
					CO2e:     qty.co2e,
					Unit:     qty.unit,
					GWP:      GWP,
					Citation: "DEFRA conversion factors, activity-based",
				},
				Search: category + " quantity",
			})
		}
	}

	return seeded
}

// seedGrids loads yearly country electricity grid intensities in kg CO2e
// per kWh.
func seedGrids() map[string]map[int]float64 {
	grids := map[GridKey]map[int]float64{
		{Country: "IN"}:              {2021: 0.79, 2022: 0.77, 2023: 0.75, 2024: 0.73},
		{Country: "US"}:              {2021: 0.42, 2022: 0.40, 2023: 0.39, 2024: 0.37},
		{Country: "US", Region: "CA"}: {2021: 0.23, 2022: 0.22, 2023: 0.21, 2024: 0.20},
		{Country: "GB"}:              {2021: 0.23, 2022: 0.21, 2023: 0.20, 2024: 0.19},
		{Country: "DE"}:              {2021: 0.37, 2022: 0.39, 2023: 0.35, 2024: 0.33},
		{Country: "AU"}:              {2021: 0.68, 2022: 0.66, 2023: 0.63, 2024: 0.61},
	}

	out := make(map[string]map[int]float64, len(grids))
	for key, years := range grids {
		out[key.canonical()] = years
	}

	return out
}

// RefrigerantGWP returns the GWP for a refrigerant blend, defaulting to
// R-134a when unknown.
func RefrigerantGWP(refrigerant string) float64 {
	if v, ok := defaultRefrigerantGWP[refrigerant]; ok {
		return v
	}

	return defaultRefrigerantGWP["r134a"]
}
