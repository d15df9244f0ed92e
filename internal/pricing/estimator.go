// Package pricing computes the market price band shown to both parties
// before negotiation. The estimate is a pure function of the vehicle
// snapshot, owner count and mileage; it performs no I/O.
package pricing

import (
	"math"
	"time"

	"github.com/moneybridge/server/internal/model"
)

const (
	ageDecay       = 0.88
	expectedKmYear = 15000
	bandLow        = 0.92
	bandHigh       = 1.08
)

// Base list price in shekels for a current-year entry model, by make.
var makeBase = map[string]int{
	"toyota":     115000,
	"hyundai":    105000,
	"kia":        100000,
	"mazda":      108000,
	"tesla":      195000,
	"byd":        135000,
	"mg":         98000,
	"skoda":      110000,
	"nissan":     104000,
	"mitsubishi": 102000,
	"suzuki":     92000,
	"honda":      112000,
	"volkswagen": 118000,
	"seat":       106000,
	"peugeot":    103000,
	"renault":    99000,
	"citroen":    98000,
	"subaru":     121000,
	"jeep":       128000,
	"ford":       109000,
	"opel":       101000,
	"volvo":      165000,
	"bmw":        185000,
	"mercedes":   190000,
}

var modelMultiplier = map[string]float64{
	"corolla":        1.0,
	"camry":          1.25,
	"rav4":           1.3,
	"highlander":     1.5,
	"yaris_cross":    0.95,
	"chr":            1.05,
	"i20":            0.8,
	"tucson":         1.2,
	"kona":           1.0,
	"santa_fe":       1.4,
	"ioniq5":         1.35,
	"ioniq6":         1.4,
	"picanto":        0.7,
	"seltos":         1.0,
	"sportage":       1.2,
	"sorento":        1.4,
	"niro":           1.1,
	"ev6":            1.35,
	"2":              0.8,
	"3":              1.0,
	"cx30":           1.1,
	"cx5":            1.25,
	"cx60":           1.45,
	"model3":         1.0,
	"modely":         1.15,
	"models":         1.6,
	"modelx":         1.65,
	"dolphin":        0.85,
	"atto3":          1.0,
	"seal":           1.2,
	"han":            1.35,
	"octavia":        1.0,
	"karoq":          1.1,
	"kodiaq":         1.3,
	"scala":          0.85,
	"enyaq":          1.25,
	"qashqai":        1.1,
	"x_trail":        1.3,
	"leaf":           0.95,
	"juke":           0.95,
	"ariya":          1.3,
	"outlander":      1.25,
	"asx":            0.95,
	"eclipse_cross":  1.1,
	"vitara":         1.0,
	"swift":          0.8,
	"sx4":            0.95,
	"ignis":          0.75,
	"civic":          1.0,
	"crv":            1.3,
	"hrv":            1.1,
	"jazz":           0.85,
	"tiguan":         1.25,
	"golf":           1.0,
	"taigo":          1.0,
	"id4":            1.3,
	"polo":           0.8,
	"leon":           1.0,
	"arona":          0.95,
	"ateca":          1.15,
	"3008":           1.2,
	"2008":           1.0,
	"208":            0.8,
	"e2008":          1.1,
	"captur":         0.95,
	"megane":         1.05,
	"zoe":            0.85,
	"c5_aircross":    1.15,
	"c3":             0.8,
	"ec4":            1.0,
	"forester":       1.2,
	"outback":        1.35,
	"xv":             1.05,
	"compass":        1.1,
	"renegade":       0.95,
	"grand_cherokee": 1.6,
	"puma":           1.0,
	"focus":          1.0,
	"kuga":           1.2,
	"mokka":          1.0,
	"corsa":          0.85,
	"grandland":      1.15,
	"xc40":           1.05,
	"xc60":           1.25,
	"xc90":           1.55,
	"x3":             1.2,
	"3_series":       1.1,
	"ix3":            1.3,
	"glc":            1.25,
	"c_class":        1.15,
	"eqc":            1.35,
	"zs_ev":          1.0,
	"mg4":            0.95,
	"mg5":            1.0,
	"hs":             1.1,
}

// Estimate returns the price band for a vehicle relative to the current year.
func Estimate(v model.VehicleDetails, ownerCount, mileage int) model.PriceBand {
	return EstimateAt(time.Now().Year(), v, ownerCount, mileage)
}

// EstimateAt computes the band against an explicit reference year. The split
// keeps the formula deterministic for callers that need reproducible bands.
func EstimateAt(referenceYear int, v model.VehicleDetails, ownerCount, mileage int) model.PriceBand {
	base, ok := makeBase[v.Make]
	if !ok {
		base = 90000
	}
	mult, ok := modelMultiplier[v.Model]
	if !ok {
		mult = 1.0
	}

	age := referenceYear - v.Year
	if age < 0 {
		age = 0
	}

	price := float64(base) * mult * math.Pow(ageDecay, float64(age))
	price *= mileageFactor(age, mileage)
	price *= ownerFactor(ownerCount)

	avg := roundTo(price, 1000)
	return model.PriceBand{
		MinPrice: roundTo(float64(avg)*bandLow, 100),
		MaxPrice: roundTo(float64(avg)*bandHigh, 100),
		AvgPrice: avg,
	}
}

// mileageFactor rewards below-average mileage and penalizes above-average,
// clamped so mileage alone never moves the price by more than -30%/+15%.
func mileageFactor(age, mileage int) float64 {
	expected := age * expectedKmYear
	f := 1.0 + float64(expected-mileage)/300000.0
	if f < 0.7 {
		return 0.7
	}
	if f > 1.15 {
		return 1.15
	}
	return f
}

func ownerFactor(ownerCount int) float64 {
	switch ownerCount {
	case 1:
		return 1.05
	case 2:
		return 1.0
	case 3:
		return 0.95
	default:
		return 0.90
	}
}

func roundTo(x float64, step int) int {
	return int(math.Round(x/float64(step))) * step
}
