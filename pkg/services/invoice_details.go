package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cspdata/billing-engine/pkg/money"
	sqlbuilder "github.com/cspdata/billing-engine/pkg/sql"
)

// InvoiceDetails rolls one invoice up into meter-level line items plus
// invoice totals and the covered usage period. Quantities and amounts are
// aggregated as exact decimals in the store and the financial transform is
// applied once per group in Go, so the line items sum to the invoice totals.
func (s *billingQueryService) InvoiceDetails(ctx context.Context, uploadID int64, req *InvoiceDetailRequest) (*InvoiceDetail, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid invoice detail request: %w", err)
	}

	pred, err := s.buildPredicate(req.Search, req.Filters)
	if err != nil {
		return nil, err
	}
	pred = pred.And("lower(InvoiceNumber) = lower(?)")
	pred.Args = append(pred.Args, req.InvoiceNumber)

	view := sqlbuilder.ViewName(uploadID)
	p := s.params(req.Financial)

	groupQuery := fmt.Sprintf(`SELECT
		COALESCE(MeterCategory, '') AS MeterCategory,
		COALESCE(MeterSubCategory, '') AS MeterSubCategory,
		COALESCE(MeterName, '') AS MeterName,
		COALESCE(MeterType, '') AS MeterType,
		COALESCE(Unit, '') AS Unit,
		COALESCE(EntitlementDescription, '') AS EntitlementDescription,
		COALESCE(EntitlementId, '') AS EntitlementId,
		STRING_AGG(DISTINCT NULLIF(TRIM(Tags), ''), ', ') AS Tags,
		CAST(COALESCE(SUM(TRY_CAST(Quantity AS DECIMAL(38, 12))), 0) AS VARCHAR) AS quantity,
		CAST(COALESCE(SUM(TRY_CAST(PricingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS pricing_pretax,
		CAST(COALESCE(SUM(TRY_CAST(BillingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS billing_pretax
	FROM %s%s
	GROUP BY MeterCategory, MeterSubCategory, MeterName, MeterType, Unit,
		EntitlementDescription, EntitlementId
	ORDER BY MeterCategory, MeterSubCategory, MeterName, EntitlementDescription`,
		view, pred.Where)

	groups, err := s.store.Query(ctx, groupQuery, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("invoice line items query: %w", err)
	}

	items := make([]InvoiceLineItem, 0, len(groups.Rows))
	for _, row := range groups.Rows {
		quantity := money.ParseOrZero(textOf(row["quantity"]))
		pricing := money.ParseOrZero(textOf(row["pricing_pretax"]))
		billing := money.ParseOrZero(textOf(row["billing_pretax"]))
		b := p.Apply(pricing)
		unitPrice := money.WeightedUnitPrice(pricing, quantity)

		items = append(items, InvoiceLineItem{
			MeterCategory:          textOf(row["MeterCategory"]),
			MeterSubCategory:       textOf(row["MeterSubCategory"]),
			MeterName:              textOf(row["MeterName"]),
			MeterType:              textOf(row["MeterType"]),
			Unit:                   textOf(row["Unit"]),
			EntitlementDescription: textOf(row["EntitlementDescription"]),
			EntitlementID:          textOf(row["EntitlementId"]),
			Tags:                   textOf(row["Tags"]),

			Quantity:        quantity,
			QuantityDisplay: money.Format(quantity, 0),

			UnitPrice:        unitPrice,
			UnitPriceDisplay: money.Format(unitPrice, money.CurrencyFractionDigits),

			PricingPreTaxTotal:        pricing,
			PricingPreTaxTotalDisplay: money.Format(pricing, money.CurrencyFractionDigits),

			BillingPreTaxTotal:        billing,
			BillingPreTaxTotalDisplay: money.Format(billing, money.CurrencyFractionDigits),

			TotalVATInc:        b.VATInclusive,
			TotalVATIncDisplay: money.Format(b.VATInclusive, money.CurrencyFractionDigits),
		})
	}

	totalsQuery := fmt.Sprintf(`SELECT
		CAST(COALESCE(SUM(TRY_CAST(Quantity AS DECIMAL(38, 12))), 0) AS VARCHAR) AS quantity,
		CAST(COALESCE(SUM(TRY_CAST(PricingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS pricing_pretax,
		CAST(COALESCE(SUM(TRY_CAST(BillingPreTaxTotal AS DECIMAL(38, 12))), 0) AS VARCHAR) AS billing_pretax
	FROM %s%s`, view, pred.Where)

	totals, err := s.store.Query(ctx, totalsQuery, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("invoice totals query: %w", err)
	}
	totalQuantity, totalPricing, totalBilling := decimal.Zero, decimal.Zero, decimal.Zero
	if len(totals.Rows) > 0 {
		totalQuantity = money.ParseOrZero(textOf(totals.Rows[0]["quantity"]))
		totalPricing = money.ParseOrZero(textOf(totals.Rows[0]["pricing_pretax"]))
		totalBilling = money.ParseOrZero(textOf(totals.Rows[0]["billing_pretax"]))
	}
	tb := p.Apply(totalPricing)
	totalUnitPrice := money.WeightedUnitPrice(totalPricing, totalQuantity)

	periodQuery := fmt.Sprintf(`SELECT
		MIN(TRY_CAST(COALESCE(UsageDate, ChargeStartDate) AS DATE)) AS period_start,
		MAX(TRY_CAST(COALESCE(UsageDate, ChargeEndDate) AS DATE)) AS period_end
	FROM %s%s`, view, pred.Where)

	period, err := s.store.Query(ctx, periodQuery, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("invoice period query: %w", err)
	}

	detail := &InvoiceDetail{
		Items: items,

		TotalQuantity:        totalQuantity,
		TotalQuantityDisplay: money.Format(totalQuantity, 0),

		TotalUnitPrice:        totalUnitPrice,
		TotalUnitPriceDisplay: money.Format(totalUnitPrice, money.CurrencyFractionDigits),

		TotalPricing:        tb.PreTaxWithForex,
		TotalPricingDisplay: money.Format(tb.PreTaxWithForex, money.CurrencyFractionDigits),

		TotalBilling:        totalBilling,
		TotalBillingDisplay: money.Format(totalBilling, money.CurrencyFractionDigits),

		TotalVATInc:        tb.VATInclusive,
		TotalVATIncDisplay: money.Format(tb.VATInclusive, money.CurrencyFractionDigits),
	}
	if len(period.Rows) > 0 {
		detail.PeriodStart = timeOf(period.Rows[0]["period_start"])
		detail.PeriodEnd = timeOf(period.Rows[0]["period_end"])
	}
	return detail, nil
}
