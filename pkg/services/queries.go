package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/cspdata/billing-engine/pkg/money"
	sqlbuilder "github.com/cspdata/billing-engine/pkg/sql"
)

// FetchPage returns one window of the dataset ordered by usage date
// descending, plus the total number of matching rows. With AllRecords set,
// limit and offset are ignored and every matching row is returned.
func (s *billingQueryService) FetchPage(ctx context.Context, uploadID int64, req *PageRequest) (*DataPage, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid page request: %w", err)
	}

	columns, err := sqlbuilder.BuildSelectColumns(req.Columns)
	if err != nil {
		return nil, err
	}
	// The financial columns derive from PricingPreTaxTotal, so a narrowed
	// selection must still fetch it; it is removed again before returning.
	syntheticPricing := false
	if columns[0] != "*" && !containsFold(columns, "PricingPreTaxTotal") {
		columns = append(columns, "PricingPreTaxTotal")
		syntheticPricing = true
	}

	pred, err := s.buildPredicate(req.Search, req.Filters)
	if err != nil {
		return nil, err
	}

	view := sqlbuilder.ViewName(uploadID)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY UsageDate DESC NULLS LAST",
		strings.Join(columns, ", "), view, pred.Where)
	args := append([]any{}, pred.Args...)

	if !req.AllRecords && req.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, req.Limit, req.Offset)
	}

	result, err := s.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("page query: %w", err)
	}

	countResult, err := s.store.Query(ctx,
		fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", view, pred.Where), pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("count query: %w", err)
	}
	var total int64
	if len(countResult.Rows) > 0 {
		total = countOf(countResult.Rows[0]["total"])
	}

	p := s.params(req.Financial)
	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		raw := money.ParseOrZero(textOf(row["PricingPreTaxTotal"]))
		b := p.Apply(raw)
		if syntheticPricing {
			delete(row, "PricingPreTaxTotal")
		}
		row["Forex"] = p.Forex
		row["PreTaxWithForex"] = b.PreTaxWithForex
		row["Margin"] = p.Margin
		row["TotalVATEx"] = b.VATExclusive
		row["VAT"] = p.VAT
		row["TotalVATInc"] = b.VATInclusive
		records = append(records, row)
	}

	return &DataPage{Records: records, Total: total}, nil
}

// Summarize sums the matching rows' pretax totals and applies the financial
// transform once, to the aggregates.
func (s *billingQueryService) Summarize(ctx context.Context, uploadID int64, req *SummaryRequest) (*Summary, error) {
	pred, err := s.buildPredicate(req.Search, req.Filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT
		CAST(COALESCE(SUM(TRY_CAST(PricingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS total_pricing,
		CAST(COALESCE(SUM(TRY_CAST(BillingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS total_billing,
		COUNT(*) AS total_records
	FROM %s%s`, sqlbuilder.ViewName(uploadID), pred.Where)

	result, err := s.store.Query(ctx, query, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	if len(result.Rows) == 0 {
		return nil, fmt.Errorf("summary query returned no rows")
	}
	row := result.Rows[0]

	p := s.params(req.Financial)
	b := p.Apply(money.ParseOrZero(textOf(row["total_pricing"])))

	return &Summary{
		TotalPricing: b.PreTaxWithForex,
		TotalBilling: money.ParseOrZero(textOf(row["total_billing"])),
		TotalRecords: countOf(row["total_records"]),
		TotalVATEx:   b.VATExclusive,
		TotalVATInc:  b.VATInclusive,
	}, nil
}

// TopCustomers ranks customers by summed pricing pretax total, descending.
// A NULL customer name is labeled "Unknown".
func (s *billingQueryService) TopCustomers(ctx context.Context, uploadID int64, req *TopCustomersRequest) ([]TopEntity, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid top-customers request: %w", err)
	}

	pred, err := s.buildPredicate(req.Search, req.Filters)
	if err != nil {
		return nil, err
	}

	// The ORDER BY repeats the numeric aggregate: the VARCHAR projection
	// exists only for decimal-exact scanning and would sort lexically.
	query := fmt.Sprintf(`SELECT
		CustomerName,
		CAST(COALESCE(SUM(TRY_CAST(PricingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS total_cost
	FROM %s%s
	GROUP BY CustomerName
	ORDER BY SUM(TRY_CAST(PricingPreTaxTotal AS DECIMAL(38, 12))) DESC NULLS LAST
	LIMIT ?`, sqlbuilder.ViewName(uploadID), pred.Where)

	args := append(append([]any{}, pred.Args...), req.Limit)
	result, err := s.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("top customers query: %w", err)
	}

	entities := make([]TopEntity, 0, len(result.Rows))
	for _, row := range result.Rows {
		label := textOf(row["CustomerName"])
		if label == "" {
			label = "Unknown"
		}
		entities = append(entities, TopEntity{
			Label: label,
			Value: money.ParseOrZero(textOf(row["total_cost"])),
		})
	}
	return entities, nil
}

// ListInvoices returns the distinct non-empty invoice numbers under the
// predicate, ascending, optionally capped.
func (s *billingQueryService) ListInvoices(ctx context.Context, uploadID int64, req *InvoiceListRequest) ([]string, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid invoice list request: %w", err)
	}

	pred, err := s.buildPredicate(req.Search, req.Filters)
	if err != nil {
		return nil, err
	}
	pred = pred.And("TRIM(COALESCE(InvoiceNumber, '')) <> ''")

	query := fmt.Sprintf("SELECT DISTINCT InvoiceNumber FROM %s%s ORDER BY InvoiceNumber",
		sqlbuilder.ViewName(uploadID), pred.Where)
	args := append([]any{}, pred.Args...)
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	result, err := s.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoice list query: %w", err)
	}

	invoices := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if invoice := textOf(row["InvoiceNumber"]); invoice != "" {
			invoices = append(invoices, invoice)
		}
	}
	return invoices, nil
}

// containsFold reports whether names contains name, case-insensitively.
func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
