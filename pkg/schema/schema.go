// Package schema owns the fixed billing extract schema and the allow-list
// lookups used before any column name is interpolated into SQL.
package schema

import "strings"

// Columns is the ordered list of columns in a partner billing extract.
// Ingestion is order-insensitive but every column must be present for the
// accelerated conversion path; downstream filtering and aggregation assume
// these names exist on every dataset.
var Columns = []string{
	"PartnerId",
	"PartnerName",
	"CustomerId",
	"CustomerName",
	"CustomerDomainName",
	"CustomerCountry",
	"MpnId",
	"Tier2MpnId",
	"InvoiceNumber",
	"ProductId",
	"SkuId",
	"AvailabilityId",
	"SkuName",
	"ProductName",
	"PublisherName",
	"PublisherId",
	"SubscriptionDescription",
	"SubscriptionId",
	"ChargeStartDate",
	"ChargeEndDate",
	"UsageDate",
	"MeterType",
	"MeterCategory",
	"MeterId",
	"MeterSubCategory",
	"MeterName",
	"MeterRegion",
	"Unit",
	"ResourceLocation",
	"ConsumedService",
	"ResourceGroup",
	"ResourceURI",
	"ChargeType",
	"UnitPrice",
	"Quantity",
	"UnitType",
	"BillingPreTaxTotal",
	"BillingCurrency",
	"PricingPreTaxTotal",
	"PricingCurrency",
	"ServiceInfo1",
	"ServiceInfo2",
	"Tags",
	"AdditionalInfo",
	"EffectiveUnitPrice",
	"PCToBCExchangeRate",
	"PCToBCExchangeRateDate",
	"EntitlementId",
	"EntitlementDescription",
	"PartnerEarnedCreditPercentage",
	"CreditPercentage",
	"CreditType",
	"BenefitId",
	"BenefitOrderId",
	"BenefitType",
}

// ComputedColumns are the financial output columns appended to page results.
// Caller-requested column subsets are stripped of any name colliding with
// these before the select list is built.
var ComputedColumns = []string{
	"Forex",
	"PreTaxWithForex",
	"Margin",
	"TotalVATEx",
	"VAT",
	"TotalVATInc",
}

var (
	columnsByLower  map[string]string
	computedByLower map[string]struct{}
)

func init() {
	columnsByLower = make(map[string]string, len(Columns))
	for _, c := range Columns {
		columnsByLower[strings.ToLower(c)] = c
	}
	computedByLower = make(map[string]struct{}, len(ComputedColumns))
	for _, c := range ComputedColumns {
		computedByLower[strings.ToLower(c)] = struct{}{}
	}
}

// Resolve maps a caller-supplied column name onto the canonical schema name.
// The lookup is case-insensitive. The returned name, not the input, is what
// may be interpolated into SQL.
func Resolve(name string) (string, bool) {
	canonical, ok := columnsByLower[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// IsComputed reports whether a name collides with one of the financial
// output columns, case-insensitively.
func IsComputed(name string) bool {
	_, ok := computedByLower[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
