// Package quote prices a print order from its options and coverage analysis.
package quote

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/local/printquote/internal/coverage"
)

const (
	AlgorithmVersion = "v1"
	Currency         = "CLP"

	ColorMono      = "Blanco y negro"
	ColorFull      = "Color"
	DeliveryHome   = "Delivery"
	DeliveryPickup = "Retiro en local"

	Formula = "total = area_m2 * pages * base_rate_clp_m2 * (1 + 0.60*(coverage_pct/100)) + delivery_fee"
)

// BaseRates is the price per square metre by color mode.
var BaseRates = map[string]int64{
	ColorMono: 4500,
	ColorFull: 9500,
}

// DeliveryFee is charged when delivery mode is DeliveryHome.
const DeliveryFee int64 = 3000

var coverageWeight = decimal.RequireFromString("0.60")

// Options are the customer's choices on an order.
type Options struct {
	Color    string `json:"color,omitempty" firestore:"color,omitempty"`
	Delivery string `json:"delivery,omitempty" firestore:"delivery,omitempty"`
}

// Step is one display-ready line of the breakdown.
type Step struct {
	Label string `json:"label" firestore:"label"`
	Value string `json:"value" firestore:"value"`
}

type Inputs struct {
	PageMM      coverage.PageSize `json:"page_mm" firestore:"page_mm"`
	Pages       int               `json:"pages" firestore:"pages"`
	Color       string            `json:"color" firestore:"color"`
	Delivery    string            `json:"delivery" firestore:"delivery"`
	CoveragePct float64           `json:"coverage_pct" firestore:"coverage_pct"`
}

type Coefficients struct {
	BaseRateCLPPerM2 float64 `json:"base_rate_clp_per_m2" firestore:"base_rate_clp_per_m2"`
	CoverageWeight   float64 `json:"coverage_weight" firestore:"coverage_weight"`
	DeliveryFeeCLP   float64 `json:"delivery_fee_clp" firestore:"delivery_fee_clp"`
}

// Quote is an itemized price. It is never mutated after Calculate returns.
type Quote struct {
	Currency         string       `json:"currency" firestore:"currency"`
	Inputs           Inputs       `json:"inputs" firestore:"inputs"`
	Coefficients     Coefficients `json:"coefficients" firestore:"coefficients"`
	Steps            []Step       `json:"steps" firestore:"steps"`
	Formula          string       `json:"formula" firestore:"formula"`
	TotalCLP         int64        `json:"total_clp" firestore:"total_clp"`
	AlgorithmVersion string       `json:"algorithm_version" firestore:"algorithm_version"`
}

// CoverageFactor maps 0..100 % coverage linearly onto 1.00..1.60.
func CoverageFactor(pct float64) float64 {
	return coverageFactor(decimal.NewFromFloat(clampPct(finite(pct)))).InexactFloat64()
}

func coverageFactor(pct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(coverageWeight.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Calculate prices an order. Non-finite numbers count as 0, non-positive
// dimensions give zero area, and unknown options fall back to defaults.
func Calculate(opts Options, a coverage.Analysis) Quote {
	color := opts.Color
	if color == "" {
		color = ColorMono
	}
	delivery := opts.Delivery
	if delivery == "" {
		delivery = DeliveryPickup
	}

	var size coverage.PageSize
	if a.PageMM != nil {
		size = coverage.PageSize{W: finite(a.PageMM.W), H: finite(a.PageMM.H)}
	}
	pages := a.Pages
	if pages <= 0 {
		pages = 1
	}
	pct := clampPct(finite(a.CoveragePct))

	area := decimal.NewFromFloat(size.W).Div(decimal.NewFromInt(1000)).
		Mul(decimal.NewFromFloat(size.H).Div(decimal.NewFromInt(1000)))
	if size.W <= 0 || size.H <= 0 || area.IsNegative() {
		area = decimal.Zero
	}

	rate, ok := BaseRates[color]
	if !ok {
		rate = BaseRates[ColorMono]
	}
	var fee int64
	if delivery == DeliveryHome {
		fee = DeliveryFee
	}

	pctD := decimal.NewFromFloat(pct)
	factor := coverageFactor(pctD)
	subtotal := area.Mul(decimal.NewFromInt(int64(pages))).Mul(decimal.NewFromInt(rate)).Mul(factor)
	total := subtotal.Add(decimal.NewFromInt(fee)).RoundBank(0)

	return Quote{
		Currency: Currency,
		Inputs: Inputs{
			PageMM:      size,
			Pages:       pages,
			Color:       color,
			Delivery:    delivery,
			CoveragePct: pct,
		},
		Coefficients: Coefficients{
			BaseRateCLPPerM2: float64(rate),
			CoverageWeight:   coverageWeight.InexactFloat64(),
			DeliveryFeeCLP:   float64(fee),
		},
		Steps: []Step{
			{Label: "Área (m²)", Value: area.StringFixed(4)},
			{Label: "Páginas", Value: fmt.Sprint(pages)},
			{Label: "Tarifa base (CLP/m²)", Value: fmt.Sprint(rate)},
			{Label: "Cobertura tinta (%)", Value: pctD.StringFixed(2) + "%"},
			{Label: "Factor cobertura", Value: factor.StringFixed(4)},
			{Label: "Subtotal", Value: subtotal.RoundBank(0).String() + " CLP"},
			{Label: "Delivery", Value: fmt.Sprintf("%d CLP", fee)},
		},
		Formula:          Formula,
		TotalCLP:         total.IntPart(),
		AlgorithmVersion: AlgorithmVersion,
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clampPct(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
