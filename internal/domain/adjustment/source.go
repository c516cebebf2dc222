package adjustment

import "github.com/shopspring/decimal"

// Source computes the amount of the adjustments it produced.
type Source interface {
	ComputeAmount(target Adjustable) decimal.Decimal
}

// PromotionSource is a Source whose adjustments only apply while the parent
// promotion is eligible for the adjustable.
type PromotionSource interface {
	Source
	EligibleFor(adjustable Adjustable) bool
}

// Sources resolves adjustment sources by reference.
type Sources interface {
	Lookup(ref SourceRef) (Source, bool)
}

// SourceMap is an in-memory Sources, typically built once per order.
type SourceMap map[SourceRef]Source

var _ Sources = SourceMap(nil)

// Lookup implements Sources.
func (m SourceMap) Lookup(ref SourceRef) (Source, bool) {
	s, ok := m[ref]
	return s, ok
}

// Add registers src under ref.
func (m SourceMap) Add(ref SourceRef, src Source) {
	m[ref] = src
}
