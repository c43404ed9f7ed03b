package ingest

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/cspdata/billing-engine/pkg/schema"
)

func TestBillingRowMatchesSchema(t *testing.T) {
	rt := reflect.TypeOf(billingRow{})
	require.Equal(t, len(schema.Columns), rt.NumField())

	for i, column := range schema.Columns {
		tag := rt.Field(i).Tag.Get("parquet")
		assert.True(t, strings.HasPrefix(tag, "name="+column+","), "field %d should map to %s", i, column)
	}
}

func TestMapHeader(t *testing.T) {
	t.Run("schema order", func(t *testing.T) {
		index, err := mapHeader(schema.Columns)
		require.NoError(t, err)
		for i := range schema.Columns {
			assert.Equal(t, i, index[i])
		}
	})

	t.Run("shuffled header is order-insensitive", func(t *testing.T) {
		header := make([]string, len(schema.Columns))
		for i, col := range schema.Columns {
			header[len(header)-1-i] = col
		}
		index, err := mapHeader(header)
		require.NoError(t, err)
		for i := range schema.Columns {
			assert.Equal(t, len(header)-1-i, index[i])
		}
	})

	t.Run("case-insensitive with BOM", func(t *testing.T) {
		header := make([]string, len(schema.Columns))
		for i, col := range schema.Columns {
			header[i] = strings.ToUpper(col)
		}
		header[0] = "\uFEFF" + header[0]
		_, err := mapHeader(header)
		assert.NoError(t, err)
	})

	t.Run("missing column rejected", func(t *testing.T) {
		header := append([]string{}, schema.Columns[:len(schema.Columns)-1]...)
		_, err := mapHeader(header)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BenefitType")
	})
}

func TestConvertAccelerated_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeValidCSV(t, dir)
	outPath := filepath.Join(dir, "out.parquet")

	result, err := convertAccelerated(csvPath, outPath, 128*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Rows)
	assert.NotZero(t, result.Checksum)

	fr, err := local.NewLocalFileReader(outPath)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(billingRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(3), pr.GetNumRows())
	rows := make([]billingRow, 3)
	require.NoError(t, pr.Read(&rows))

	// Row order preserved; the uncastable value kept verbatim as text.
	expected := []string{"10.00", "20.00", "bad"}
	for i, row := range rows {
		require.NotNil(t, row.PricingPreTaxTotal, "row %d", i)
		assert.Equal(t, expected[i], *row.PricingPreTaxTotal)
		require.NotNil(t, row.CustomerName)
		assert.Equal(t, "Contoso", *row.CustomerName)
		// Unset fields stay NULL, not empty strings.
		assert.Nil(t, row.PartnerId)
	}
}

func TestConvertAccelerated_SameBytesSameChecksum(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeValidCSV(t, dir)

	first, err := convertAccelerated(csvPath, filepath.Join(dir, "a.parquet"), 128*1024*1024)
	require.NoError(t, err)
	second, err := convertAccelerated(csvPath, filepath.Join(dir, "b.parquet"), 128*1024*1024)
	require.NoError(t, err)

	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestConvertAccelerated_RaggedRowFails(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "ragged.csv")

	content := strings.Join(schema.Columns, ",") + "\nonly,three,fields\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0o644))

	_, err := convertAccelerated(csvPath, filepath.Join(dir, "out.parquet"), 128*1024*1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
}

func TestConvertAccelerated_MissingFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := convertAccelerated(filepath.Join(dir, "nope.csv"), filepath.Join(dir, "out.parquet"), 1024)
	assert.Error(t, err)
}
