// Package projector derives per-category summary figures from ledger
// entries. It is a pure read-side fold: revenue is the sum of sale
// amounts, profit is revenue minus expenses, capital health is the
// category's initial capital minus everything withdrawn from it.
package projector

import "tokoledger/backend/internal/domain"

func Summarize(category domain.Category, entries []domain.LedgerEntry) domain.BusinessSummary {
	summary := domain.BusinessSummary{
		CategoryID:         category.ID,
		CapitalHealthCents: category.InitialCapitalCents,
	}

	for _, entry := range entries {
		if entry.CategoryID != category.ID {
			continue
		}
		switch entry.Type {
		case domain.EntrySale:
			summary.RevenueCents += entry.AmountCents
		case domain.EntryExpense:
			summary.ExpenseCents += entry.AmountCents
		case domain.EntryCapitalWithdrawal:
			summary.CapitalHealthCents -= entry.AmountCents
		}
	}

	summary.ProfitCents = summary.RevenueCents - summary.ExpenseCents
	return summary
}
