package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"github.com/zeebo/xxh3"

	"github.com/cspdata/billing-engine/pkg/schema"
)

// billingRow is the parquet schema of a converted billing extract. Every
// column is optional text; type inference is deliberately disabled so the
// accelerated path never guesses wrong, and queries cast on demand. Field
// order matches schema.Columns.
type billingRow struct {
	PartnerId                     *string `parquet:"name=PartnerId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PartnerName                   *string `parquet:"name=PartnerName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CustomerId                    *string `parquet:"name=CustomerId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CustomerName                  *string `parquet:"name=CustomerName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CustomerDomainName            *string `parquet:"name=CustomerDomainName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CustomerCountry               *string `parquet:"name=CustomerCountry, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MpnId                         *string `parquet:"name=MpnId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Tier2MpnId                    *string `parquet:"name=Tier2MpnId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	InvoiceNumber                 *string `parquet:"name=InvoiceNumber, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ProductId                     *string `parquet:"name=ProductId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SkuId                         *string `parquet:"name=SkuId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AvailabilityId                *string `parquet:"name=AvailabilityId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SkuName                       *string `parquet:"name=SkuName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ProductName                   *string `parquet:"name=ProductName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PublisherName                 *string `parquet:"name=PublisherName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PublisherId                   *string `parquet:"name=PublisherId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SubscriptionDescription       *string `parquet:"name=SubscriptionDescription, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SubscriptionId                *string `parquet:"name=SubscriptionId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ChargeStartDate               *string `parquet:"name=ChargeStartDate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ChargeEndDate                 *string `parquet:"name=ChargeEndDate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UsageDate                     *string `parquet:"name=UsageDate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterType                     *string `parquet:"name=MeterType, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterCategory                 *string `parquet:"name=MeterCategory, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterId                       *string `parquet:"name=MeterId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterSubCategory              *string `parquet:"name=MeterSubCategory, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterName                     *string `parquet:"name=MeterName, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MeterRegion                   *string `parquet:"name=MeterRegion, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Unit                          *string `parquet:"name=Unit, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ResourceLocation              *string `parquet:"name=ResourceLocation, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ConsumedService               *string `parquet:"name=ConsumedService, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ResourceGroup                 *string `parquet:"name=ResourceGroup, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ResourceURI                   *string `parquet:"name=ResourceURI, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ChargeType                    *string `parquet:"name=ChargeType, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UnitPrice                     *string `parquet:"name=UnitPrice, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Quantity                      *string `parquet:"name=Quantity, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UnitType                      *string `parquet:"name=UnitType, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BillingPreTaxTotal            *string `parquet:"name=BillingPreTaxTotal, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BillingCurrency               *string `parquet:"name=BillingCurrency, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PricingPreTaxTotal            *string `parquet:"name=PricingPreTaxTotal, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PricingCurrency               *string `parquet:"name=PricingCurrency, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ServiceInfo1                  *string `parquet:"name=ServiceInfo1, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ServiceInfo2                  *string `parquet:"name=ServiceInfo2, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Tags                          *string `parquet:"name=Tags, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AdditionalInfo                *string `parquet:"name=AdditionalInfo, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	EffectiveUnitPrice            *string `parquet:"name=EffectiveUnitPrice, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PCToBCExchangeRate            *string `parquet:"name=PCToBCExchangeRate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PCToBCExchangeRateDate        *string `parquet:"name=PCToBCExchangeRateDate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	EntitlementId                 *string `parquet:"name=EntitlementId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	EntitlementDescription        *string `parquet:"name=EntitlementDescription, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PartnerEarnedCreditPercentage *string `parquet:"name=PartnerEarnedCreditPercentage, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CreditPercentage              *string `parquet:"name=CreditPercentage, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	CreditType                    *string `parquet:"name=CreditType, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BenefitId                     *string `parquet:"name=BenefitId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BenefitOrderId                *string `parquet:"name=BenefitOrderId, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BenefitType                   *string `parquet:"name=BenefitType, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// acceleratedResult summarizes a successful accelerated conversion.
type acceleratedResult struct {
	Rows     int64
	Checksum uint64 // xxh3 of the raw CSV bytes
}

// convertAccelerated stream-parses the CSV at csvPath and writes a
// ZSTD-compressed parquet file at outPath, preserving row order and keeping
// every field as text. The header is matched by name, order-insensitively;
// every schema column must be present. Any parse or write error aborts the
// conversion so the tolerant fallback can take over.
func convertAccelerated(csvPath, outPath string, rowGroupSize int64) (*acceleratedResult, error) {
	in, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer in.Close()

	hasher := xxh3.New()
	reader := csv.NewReader(io.TeeReader(in, hasher))

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	fieldIndex, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(out)
	pw, err := writer.NewParquetWriter(fw, new(billingRow), 1)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = rowGroupSize
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	var rows int64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			pw.WriteStop()
			out.Close()
			return nil, fmt.Errorf("row %d: %w", rows+1, err)
		}

		row := new(billingRow)
		rv := reflect.ValueOf(row).Elem()
		for i, csvIdx := range fieldIndex {
			value := strings.TrimSpace(record[csvIdx])
			if value == "" {
				continue // empty stays NULL
			}
			v := value
			rv.Field(i).Set(reflect.ValueOf(&v))
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			out.Close()
			return nil, fmt.Errorf("write row %d: %w", rows+1, err)
		}
		rows++
	}

	if err := pw.WriteStop(); err != nil {
		out.Close()
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close parquet: %w", err)
	}

	return &acceleratedResult{Rows: rows, Checksum: hasher.Sum64()}, nil
}

// mapHeader maps each schema column, in order, onto its index in the CSV
// header. The match is case-insensitive and tolerates a UTF-8 BOM on the
// first cell. A missing column fails the accelerated path.
func mapHeader(header []string) ([]int, error) {
	byName := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		byName[strings.ToLower(strings.TrimSpace(name))] = i
	}

	index := make([]int, len(schema.Columns))
	for i, column := range schema.Columns {
		csvIdx, ok := byName[strings.ToLower(column)]
		if !ok {
			return nil, fmt.Errorf("csv header missing column %s", column)
		}
		index[i] = csvIdx
	}
	return index, nil
}
