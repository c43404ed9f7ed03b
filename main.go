package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cspdata/billing-engine/pkg/adapters/columnstore"
	"github.com/cspdata/billing-engine/pkg/config"
	"github.com/cspdata/billing-engine/pkg/ingest"
	"github.com/cspdata/billing-engine/pkg/logging"
	"github.com/cspdata/billing-engine/pkg/money"
	"github.com/cspdata/billing-engine/pkg/services"
	sqlbuilder "github.com/cspdata/billing-engine/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const usageText = `Usage: billing-engine <command> [flags]

Commands:
  ingest          Convert CSV files into queryable datasets
  delete          Remove a dataset and its view
  datasets        List datasets, or describe one with -id
  page            Fetch one page of a dataset
  summary         Aggregate totals for a dataset
  top-customers   Rank customers by pricing total
  invoices        List distinct invoice numbers
  invoice-detail  Roll one invoice up into line items

Run "billing-engine <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "billing-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return fmt.Errorf("no command given")
	}

	command, args := args[0], args[1:]
	switch command {
	case "ingest":
		return runIngest(ctx, args)
	case "delete":
		return runDelete(ctx, args)
	case "datasets":
		return runDatasets(ctx, args)
	case "page":
		return runPage(ctx, args)
	case "summary":
		return runSummary(ctx, args)
	case "top-customers":
		return runTopCustomers(ctx, args)
	case "invoices":
		return runInvoices(ctx, args)
	case "invoice-detail":
		return runInvoiceDetail(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usageText)
		return nil
	default:
		fmt.Fprint(os.Stderr, usageText)
		return fmt.Errorf("unknown command %q", command)
	}
}

// app wires the store, the ingestion pipeline, and the query service from
// one loaded configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *columnstore.DuckDB
	pipeline *ingest.Pipeline
	queries  services.BillingQueryService
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	store, err := columnstore.Open(ctx, cfg.Warehouse.DatabasePath, cfg.Warehouse.Threads, logger)
	if err != nil {
		return nil, err
	}

	defaultVAT := money.ParseOrZero(cfg.Financial.DefaultVAT)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		pipeline: ingest.NewPipeline(store, cfg.Warehouse, cfg.Ingest, logger),
		queries:  services.NewBillingQueryService(store, defaultVAT, logger),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// commonFlags are the flags every command shares.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "config.yaml", "path to configuration file")
}

// filterFlags collects repeated -filter Column=Value constraints.
type filterFlags []sqlbuilder.Filter

func (f *filterFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, filter := range *f {
		parts = append(parts, filter.Column+"="+filter.Value)
	}
	return strings.Join(parts, ",")
}

func (f *filterFlags) Set(value string) error {
	column, val, found := strings.Cut(value, "=")
	if !found || column == "" {
		return fmt.Errorf("filter %q: want Column=Value", value)
	}
	*f = append(*f, sqlbuilder.Filter{Column: column, Value: val})
	return nil
}

// financialFlags parse the optional forex, margin, and VAT overrides.
// Absent flags stay zero and normalize to the configured defaults.
type financialFlags struct {
	forex  string
	margin string
	vat    string
}

func (f *financialFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.forex, "forex", "", "forex multiplier (default from config)")
	fs.StringVar(&f.margin, "margin", "", "margin divisor (default from config)")
	fs.StringVar(&f.vat, "vat", "", "VAT multiplier (default from config)")
}

func (f *financialFlags) input() (services.FinancialInput, error) {
	var in services.FinancialInput
	for _, p := range []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"forex", f.forex, &in.Forex},
		{"margin", f.margin, &in.Margin},
		{"vat", f.vat, &in.VAT},
	} {
		if p.value == "" {
			continue
		}
		d, err := decimal.NewFromString(p.value)
		if err != nil {
			return in, fmt.Errorf("invalid -%s %q: %w", p.name, p.value, err)
		}
		*p.dst = d
	}
	return in, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id of the first file; later files count up from it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("ingest: no CSV files given")
	}
	if *id <= 0 {
		return fmt.Errorf("ingest: -id must be a positive upload id")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	results := make([]*ingest.Stats, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			stats, err := a.pipeline.Ingest(gctx, path, *id+int64(i))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return printJSON(results)
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("delete: -id must be a positive upload id")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.pipeline.Delete(ctx, *id); err != nil {
		return err
	}
	a.logger.Info("Dataset deleted", zap.Int64("upload_id", *id))
	return nil
}

func runDatasets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "describe this upload id instead of listing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if *id > 0 {
		stats, err := a.pipeline.DescribeDataset(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}

	datasets, err := a.pipeline.ListDatasets()
	if err != nil {
		return err
	}
	return printJSON(datasets)
}

func runPage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("page", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to query")
	limit := fs.Int("limit", 100, "page size")
	offset := fs.Int("offset", 0, "page offset")
	all := fs.Bool("all", false, "return every matching row, ignoring limit and offset")
	search := fs.String("search", "", "substring match on customer or product name")
	columns := fs.String("columns", "", "comma-separated columns to select")
	var filters filterFlags
	fs.Var(&filters, "filter", "Column=Value constraint, repeatable")
	var fin financialFlags
	fin.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("page: -id must be a positive upload id")
	}
	input, err := fin.input()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	page, err := a.queries.FetchPage(ctx, *id, &services.PageRequest{
		Limit:      *limit,
		Offset:     *offset,
		AllRecords: *all,
		Financial:  input,
		Search:     *search,
		Filters:    filters,
		Columns:    splitColumns(*columns),
	})
	if err != nil {
		return err
	}
	return printJSON(page)
}

func runSummary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to query")
	search := fs.String("search", "", "substring match on customer or product name")
	var filters filterFlags
	fs.Var(&filters, "filter", "Column=Value constraint, repeatable")
	var fin financialFlags
	fin.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("summary: -id must be a positive upload id")
	}
	input, err := fin.input()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.queries.Summarize(ctx, *id, &services.SummaryRequest{
		Financial: input,
		Search:    *search,
		Filters:   filters,
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runTopCustomers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top-customers", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to query")
	limit := fs.Int("limit", 10, "number of customers to return")
	search := fs.String("search", "", "substring match on customer or product name")
	var filters filterFlags
	fs.Var(&filters, "filter", "Column=Value constraint, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("top-customers: -id must be a positive upload id")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	entities, err := a.queries.TopCustomers(ctx, *id, &services.TopCustomersRequest{
		Limit:   *limit,
		Search:  *search,
		Filters: filters,
	})
	if err != nil {
		return err
	}
	return printJSON(entities)
}

func runInvoices(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("invoices", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to query")
	limit := fs.Int("limit", 0, "cap on invoice numbers returned, 0 for all")
	search := fs.String("search", "", "substring match on customer or product name")
	var filters filterFlags
	fs.Var(&filters, "filter", "Column=Value constraint, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("invoices: -id must be a positive upload id")
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	invoices, err := a.queries.ListInvoices(ctx, *id, &services.InvoiceListRequest{
		Limit:   *limit,
		Search:  *search,
		Filters: filters,
	})
	if err != nil {
		return err
	}
	return printJSON(invoices)
}

func runInvoiceDetail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("invoice-detail", flag.ExitOnError)
	configPath := commonFlags(fs)
	id := fs.Int64("id", 0, "upload id to query")
	invoice := fs.String("invoice", "", "invoice number to roll up")
	search := fs.String("search", "", "substring match on customer or product name")
	var filters filterFlags
	fs.Var(&filters, "filter", "Column=Value constraint, repeatable")
	var fin financialFlags
	fin.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("invoice-detail: -id must be a positive upload id")
	}
	if *invoice == "" {
		return fmt.Errorf("invoice-detail: -invoice is required")
	}
	input, err := fin.input()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	detail, err := a.queries.InvoiceDetails(ctx, *id, &services.InvoiceDetailRequest{
		InvoiceNumber: *invoice,
		Financial:     input,
		Search:        *search,
		Filters:       filters,
	})
	if err != nil {
		return err
	}
	return printJSON(detail)
}

func splitColumns(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			columns = append(columns, trimmed)
		}
	}
	return columns
}
