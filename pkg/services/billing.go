// Package services implements the analytical query operations exposed to
// the embedding application: paginated listing, summary aggregation, top-N
// grouping, invoice listing, and per-invoice rollups. Every operation is a
// pure function of (upload id, filters, financial parameters, pagination);
// no state is carried between calls.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cspdata/billing-engine/pkg/adapters/columnstore"
	"github.com/cspdata/billing-engine/pkg/logging"
	"github.com/cspdata/billing-engine/pkg/money"
	sqlbuilder "github.com/cspdata/billing-engine/pkg/sql"
)

// FinancialInput carries the raw financial parameters of a request. Zero,
// negative, and absent values normalize to the engine defaults before any
// computation.
type FinancialInput struct {
	Forex  decimal.Decimal `json:"forex"`
	Margin decimal.Decimal `json:"margin"`
	VAT    decimal.Decimal `json:"vat"`
}

// PageRequest selects one window of a dataset.
type PageRequest struct {
	Limit      int  `json:"limit" validate:"gte=0,lte=5000"`
	Offset     int  `json:"offset" validate:"gte=0"`
	AllRecords bool `json:"all_records"`

	Financial FinancialInput      `json:"financial"`
	Search    string              `json:"search"`
	Filters   []sqlbuilder.Filter `json:"filters"`
	// Columns optionally narrows the selected columns. Names outside the
	// billing schema are rejected; names colliding with computed financial
	// columns are stripped.
	Columns []string `json:"columns"`
}

// DataPage is one page of records plus the total match count, which is
// independent of the page window.
type DataPage struct {
	Records []map[string]any `json:"records"`
	Total   int64            `json:"total"`
}

// SummaryRequest aggregates a dataset under a predicate.
type SummaryRequest struct {
	Financial FinancialInput      `json:"financial"`
	Search    string              `json:"search"`
	Filters   []sqlbuilder.Filter `json:"filters"`
}

// Summary holds the aggregate financial figures for the matching rows.
// TotalPricing is forex-adjusted; TotalBilling stays in billing currency.
type Summary struct {
	TotalPricing decimal.Decimal `json:"total_pricing"`
	TotalBilling decimal.Decimal `json:"total_billing"`
	TotalRecords int64           `json:"total_records"`
	TotalVATEx   decimal.Decimal `json:"total_vat_ex"`
	TotalVATInc  decimal.Decimal `json:"total_vat_inc"`
}

// TopCustomersRequest ranks customers by summed pricing pretax total.
type TopCustomersRequest struct {
	Limit   int                 `json:"limit" validate:"gte=1,lte=50"`
	Search  string              `json:"search"`
	Filters []sqlbuilder.Filter `json:"filters"`
}

// TopEntity is one label/value pair of a ranking.
type TopEntity struct {
	Label string          `json:"label"`
	Value decimal.Decimal `json:"value"`
}

// InvoiceListRequest lists the distinct invoice numbers under a predicate.
type InvoiceListRequest struct {
	// Limit caps the result; 0 means no cap.
	Limit   int                 `json:"limit" validate:"gte=0,lte=2000"`
	Search  string              `json:"search"`
	Filters []sqlbuilder.Filter `json:"filters"`
}

// InvoiceDetailRequest rolls up the line items of one invoice.
type InvoiceDetailRequest struct {
	InvoiceNumber string              `json:"invoice_number" validate:"required"`
	Financial     FinancialInput      `json:"financial"`
	Search        string              `json:"search"`
	Filters       []sqlbuilder.Filter `json:"filters"`
}

// InvoiceLineItem is one meter-dimension group of an invoice rollup.
// Display fields carry the canonical string rendering: trailing zeros
// stripped, currency amounts padded to two fraction digits.
type InvoiceLineItem struct {
	MeterCategory          string `json:"meter_category"`
	MeterSubCategory       string `json:"meter_sub_category"`
	MeterName              string `json:"meter_name"`
	MeterType              string `json:"meter_type"`
	Unit                   string `json:"unit"`
	EntitlementDescription string `json:"entitlement_description"`
	EntitlementID          string `json:"entitlement_id"`
	Tags                   string `json:"tags"`

	Quantity        decimal.Decimal `json:"quantity"`
	QuantityDisplay string          `json:"quantity_display"`

	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitPriceDisplay string          `json:"unit_price_display"`

	PricingPreTaxTotal        decimal.Decimal `json:"pricing_pretax_total"`
	PricingPreTaxTotalDisplay string          `json:"pricing_pretax_total_display"`

	BillingPreTaxTotal        decimal.Decimal `json:"billing_pretax_total"`
	BillingPreTaxTotalDisplay string          `json:"billing_pretax_total_display"`

	TotalVATInc        decimal.Decimal `json:"total_vat_inc"`
	TotalVATIncDisplay string          `json:"total_vat_inc_display"`
}

// InvoiceDetail is the rollup of all rows matching an invoice scope. Zero
// matching rows yield empty Items and zeroed totals; whether that is "not
// found" is the caller's decision.
type InvoiceDetail struct {
	Items []InvoiceLineItem `json:"items"`

	TotalQuantity        decimal.Decimal `json:"total_quantity"`
	TotalQuantityDisplay string          `json:"total_quantity_display"`

	TotalUnitPrice        decimal.Decimal `json:"total_unit_price"`
	TotalUnitPriceDisplay string          `json:"total_unit_price_display"`

	TotalPricing        decimal.Decimal `json:"total_pricing"`
	TotalPricingDisplay string          `json:"total_pricing_display"`

	TotalBilling        decimal.Decimal `json:"total_billing"`
	TotalBillingDisplay string          `json:"total_billing_display"`

	TotalVATInc        decimal.Decimal `json:"total_vat_inc"`
	TotalVATIncDisplay string          `json:"total_vat_inc_display"`

	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// BillingQueryService answers the analytical queries over one upload's
// dataset. The upload's ingestion must have completed before any of these
// are called; the pending/processing status tracked by the caller is the
// synchronization signal.
type BillingQueryService interface {
	FetchPage(ctx context.Context, uploadID int64, req *PageRequest) (*DataPage, error)
	Summarize(ctx context.Context, uploadID int64, req *SummaryRequest) (*Summary, error)
	TopCustomers(ctx context.Context, uploadID int64, req *TopCustomersRequest) ([]TopEntity, error)
	ListInvoices(ctx context.Context, uploadID int64, req *InvoiceListRequest) ([]string, error)
	InvoiceDetails(ctx context.Context, uploadID int64, req *InvoiceDetailRequest) (*InvoiceDetail, error)
}

type billingQueryService struct {
	store      columnstore.Store
	defaultVAT decimal.Decimal
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewBillingQueryService creates a query service over the given store.
// defaultVAT is the VAT multiplier applied when callers supply none.
func NewBillingQueryService(store columnstore.Store, defaultVAT decimal.Decimal, logger *zap.Logger) BillingQueryService {
	return &billingQueryService{
		store:      store,
		defaultVAT: defaultVAT,
		validate:   validator.New(),
		logger:     logger,
	}
}

// params normalizes a request's financial input against the configured
// defaults.
func (s *billingQueryService) params(in FinancialInput) money.Params {
	return money.Normalize(in.Forex, in.Margin, in.VAT, s.defaultVAT)
}

// buildPredicate composes the shared predicate and audits its bound values.
// A value matching an injection fingerprint is logged but still bound; it
// cannot reach the statement text.
func (s *billingQueryService) buildPredicate(search string, filters []sqlbuilder.Filter) (sqlbuilder.Predicate, error) {
	pred, err := sqlbuilder.BuildPredicate(search, filters)
	if err != nil {
		return sqlbuilder.Predicate{}, err
	}
	for _, r := range sqlbuilder.ScreenArgs(pred.Args) {
		s.logger.Warn("Bound filter value matched injection fingerprint",
			zap.String("fingerprint", r.Fingerprint),
			zap.String("value", logging.SanitizeTerm(r.Value)),
		)
	}
	return pred, nil
}

// textOf renders a scanned cell as text. NULL becomes the empty string.
func textOf(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}

// timeOf extracts a date cell, which the engine returns as a time.Time.
func timeOf(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}

// countOf extracts an integer aggregate.
func countOf(v any) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case int32:
		return int64(value)
	case int:
		return int64(value)
	case uint64:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
