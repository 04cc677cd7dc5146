package domain

import "strings"

// PriceFunc computes the token cost of one generation before admission.
// historyLen is the number of prior conversation turns and is zero for
// single-shot image models.
type PriceFunc func(model Model, settings Settings, historyLen int) int64

// FlatRates is a per-resolution price table for one model family.
type FlatRates struct {
	Base int64 // 1k / 2k
	At4K int64
}

// FlatTablePricing prices each family from a fixed per-resolution table.
// Unknown families fall back to the nano-banana rates.
func FlatTablePricing(tables map[ModelFamily]FlatRates) PriceFunc {
	return func(model Model, settings Settings, _ int) int64 {
		rates, ok := tables[model.Family]
		if !ok {
			rates = DefaultRates[FamilyNanoBanana]
		}
		if strings.EqualFold(settings.Resolution, "4k") {
			return rates.At4K
		}
		return rates.Base
	}
}

// PerHistoryTurnPricing adds perTurn tokens for every prior conversation
// turn on top of the flat table. The growth is intentionally unbounded
// upward; callers that want a ceiling wrap the returned func.
func PerHistoryTurnPricing(tables map[ModelFamily]FlatRates, perTurn int64) PriceFunc {
	flat := FlatTablePricing(tables)
	return func(model Model, settings Settings, historyLen int) int64 {
		return flat(model, settings, 0) + perTurn*int64(historyLen)
	}
}

// DefaultRates matches the published token prices.
var DefaultRates = map[ModelFamily]FlatRates{
	FamilyNanoBanana:    {Base: 9_000, At4K: 10_000},
	FamilyNanoBananaPro: {Base: 36_000, At4K: 40_000},
	FamilyFlux:          {Base: 12_000, At4K: 14_000},
	FamilyIdeogram:      {Base: 8_000, At4K: 8_000},
}

// DefaultPricing is the PriceFunc used unless the caller injects another.
var DefaultPricing = FlatTablePricing(DefaultRates)
