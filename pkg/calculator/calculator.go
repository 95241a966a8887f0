// Package calculator estimates the fine metal content of a sample from its
// dry and wet (hydrostatic) weights.
package calculator

import "fmt"

type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

func (m Metal) Valid() bool {
	return m == Gold || m == Silver
}

// Label is the Portuguese name printed on reports.
func (m Metal) Label() string {
	if m == Silver {
		return "Prata"
	}
	return "Ouro"
}

// Coefficients of the density-to-purity fit.
const (
	purityScale  = 2307.454
	purityOffset = 2088.088
)

// DefaultAdjustment is the discount applied when the caller sends none.
const DefaultAdjustment = 10.0

type Input struct {
	Metal Metal `json:"metal" validate:"required,oneof=gold silver"`
	// DryWeight and WetWeight are in grams.
	DryWeight float64 `json:"dry_weight" validate:"gt=0"`
	WetWeight float64 `json:"wet_weight" validate:"gt=0"`
	// Adjustment is the discount in percent, applied to the gross value.
	Adjustment *float64 `json:"adjustment,omitempty" validate:"omitempty,gte=0,lte=100"`
}

func (in Input) adjustment() float64 {
	if in.Adjustment == nil {
		return DefaultAdjustment
	}
	return *in.Adjustment
}

type Result struct {
	Metal        Metal   `json:"metal"`
	DryWeight    float64 `json:"dry_weight"`
	WetWeight    float64 `json:"wet_weight"`
	PricePerGram float64 `json:"price_per_gram"`
	Adjustment   float64 `json:"adjustment"`
	Purity       float64 `json:"purity"`
	FineWeight   float64 `json:"fine_weight"`
	Value        float64 `json:"value"`
}

// Calculate returns zeroed outputs when the weights are not physically
// consistent (non-positive, or wet heavier than dry).
func Calculate(in Input, pricePerGram float64) Result {
	res := Result{
		Metal:        in.Metal,
		DryWeight:    in.DryWeight,
		WetWeight:    in.WetWeight,
		PricePerGram: pricePerGram,
		Adjustment:   in.adjustment(),
	}
	if in.DryWeight <= 0 || in.WetWeight <= 0 || in.WetWeight > in.DryWeight {
		return res
	}

	res.Purity = in.WetWeight/in.DryWeight*purityScale - purityOffset
	res.FineWeight = in.DryWeight * res.Purity / 100
	res.Value = res.FineWeight * pricePerGram * (1 - res.Adjustment/100)
	return res
}

func (r Result) String() string {
	return fmt.Sprintf("%s purity=%.2f%% fine=%.2fg value=%.2f", r.Metal, r.Purity, r.FineWeight, r.Value)
}
