package helpers

import (
	"github.com/samber/lo"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

// RequestedItem is one raw (product, quantity) pair from a purchase request.
type RequestedItem struct {
	ProductID uint64
	Quantity  int
}

// NormalizeItems drops non-positive quantities and merges repeated products,
// keeping first-seen order. Zero surviving items is a validation error.
func NormalizeItems(items []RequestedItem) ([]RequestedItem, error) {
	valid := lo.Filter(items, func(it RequestedItem, _ int) bool {
		return it.Quantity > 0 && it.ProductID != 0
	})

	totals := make(map[uint64]int, len(valid))
	for _, it := range valid {
		totals[it.ProductID] += it.Quantity
	}
	order := lo.Uniq(lo.Map(valid, func(it RequestedItem, _ int) uint64 { return it.ProductID }))
	out := lo.Map(order, func(id uint64, _ int) RequestedItem {
		return RequestedItem{ProductID: id, Quantity: totals[id]}
	})

	if len(out) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "No valid items")
	}
	return out, nil
}

// ProductIDs lists the distinct product ids of items.
func ProductIDs(items []RequestedItem) []uint64 {
	return lo.Uniq(lo.Map(items, func(it RequestedItem, _ int) uint64 { return it.ProductID }))
}
