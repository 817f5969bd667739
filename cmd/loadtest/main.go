package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Steank-29/tawakkol/internal/catalog"
	"github.com/Steank-29/tawakkol/internal/checkout"
	"github.com/Steank-29/tawakkol/internal/client/orderapi"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/pricing"
	grpctransport "github.com/Steank-29/tawakkol/internal/transport/grpc"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateLookup loadMode = "create-lookup"
	modeCreateReplay loadMode = "create-replay"
)

const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

const (
	stepScenario = "scenario"
	stepSubmit   = "submit"
	stepLookup   = "lookup"
	stepReplay   = "replay"
)

const (
	outcomeInvalid     = "invalid"
	outcomeRejected    = "rejected"
	outcomeUnreachable = "unreachable"
	outcomeNotFound    = "not_found"
	outcomeMismatch    = "mismatch"
	outcomeDuplicate   = "duplicate_number"
	outcomeError       = "error"
)

var (
	errNumberMismatch  = errors.New("order number mismatch")
	errDuplicateNumber = errors.New("duplicate order number")
)

type config struct {
	transport   string
	addr        string
	token       string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	catalogPath string
	maxItems    int
	outputPath  string
}

// orderClient — общая часть HTTP- и gRPC-клиентов сервиса заказов.
type orderClient interface {
	checkout.OrderClient
	OrderByNumber(ctx context.Context, number string) (domain.Order, error)
}

func parseMode(raw string) (loadMode, error) {
	switch loadMode(strings.ToLower(strings.TrimSpace(raw))) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateLookup:
		return modeCreateLookup, nil
	case modeCreateReplay:
		return modeCreateReplay, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	var modeValue string

	fs.StringVar(&cfg.transport, "transport", transportHTTP, "order service transport: http | grpc")
	fs.StringVar(&cfg.addr, "addr", "", "order service address (default http://localhost:8080 or localhost:50051)")
	fs.StringVar(&cfg.token, "token", "", "bearer token for gRPC calls")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 4, "number of client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-call timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-lookup | create-replay")
	fs.StringVar(&cfg.catalogPath, "catalog", "", "catalog JSON file; embedded catalog when empty")
	fs.IntVar(&cfg.maxItems, "max-items", 3, "maximum lines per order")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.transport = strings.ToLower(strings.TrimSpace(cfg.transport))
	switch cfg.transport {
	case transportHTTP:
		if cfg.addr == "" {
			cfg.addr = "http://localhost:8080"
		}
	case transportGRPC:
		if cfg.addr == "" {
			cfg.addr = "localhost:50051"
		}
	default:
		return cfg, fmt.Errorf("unsupported transport %q", cfg.transport)
	}

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.maxItems <= 0:
		return cfg, errors.New("max-items must be > 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	products, err := loadProducts(cfg.catalogPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(1)
	}

	clients, closeClients, err := dialClients(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create order service clients: %v\n", err)
		os.Exit(1)
	}
	defer closeClients()

	result, failures := run(context.Background(), cfg, clients, products)
	printReport(os.Stdout, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if failures > 0 {
		os.Exit(2)
	}
}

func loadProducts(path string) ([]domain.Product, error) {
	static, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	products, err := static.List(context.Background())
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, errors.New("catalog is empty")
	}
	return products, nil
}

func dialClients(cfg config) ([]orderClient, func(), error) {
	clients := make([]orderClient, 0, cfg.connections)
	closers := make([]func() error, 0, cfg.connections)
	closeAll := func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}

	for i := 0; i < cfg.connections; i++ {
		switch cfg.transport {
		case transportGRPC:
			client, err := grpctransport.Dial(cfg.addr, cfg.token)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			clients = append(clients, client)
			closers = append(closers, client.Close)
		default:
			client, err := orderapi.New(cfg.addr, orderapi.WithTimeout(cfg.timeout))
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			clients = append(clients, client)
		}
	}
	return clients, closeAll, nil
}

// run гоняет сценарии на пуле воркеров и возвращает отчёт и число упавших сценариев.
func run(ctx context.Context, cfg config, clients []orderClient, products []domain.Product) (report, int64) {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func(cli orderClient) {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(ctx, cli, cfg, products, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(client)
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), atomic.LoadInt64(&failures)
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(
	ctx context.Context,
	client orderClient,
	cfg config,
	products []domain.Product,
	index int,
	runID string,
	col *collector,
) (err error) {
	scenarioStart := time.Now()
	defer func() {
		col.record(stepScenario, time.Since(scenarioStart), outcomeOf(err))
	}()

	req := buildRequest(products, index, cfg.maxItems, runID)
	key := fmt.Sprintf("lt-%s-%d", runID, index)
	scenario := key

	created, err := callSubmit(ctx, client, cfg.timeout, req, key, stepSubmit, col)
	if err != nil {
		return err
	}
	if !col.trackNumber(created.OrderNumber, scenario) {
		return fmt.Errorf("%w: %s issued twice", errDuplicateNumber, created.OrderNumber)
	}

	switch cfg.mode {
	case modeCreateLookup:
		return callLookup(ctx, client, cfg.timeout, created.OrderNumber, req.Total, col)
	case modeCreateReplay:
		replayed, err := callSubmit(ctx, client, cfg.timeout, req, key, stepReplay, col)
		if err != nil {
			return err
		}
		if replayed.OrderNumber != created.OrderNumber {
			return fmt.Errorf("%w: replay returned %s, want %s", errNumberMismatch, replayed.OrderNumber, created.OrderNumber)
		}
	}
	return nil
}

func callSubmit(
	ctx context.Context,
	client orderClient,
	timeout time.Duration,
	req domain.OrderRequest,
	key string,
	step string,
	col *collector,
) (checkout.SubmitResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := client.SubmitOrder(callCtx, req, key)
	if err == nil && strings.TrimSpace(res.OrderNumber) == "" {
		err = fmt.Errorf("%w: empty order number", domain.ErrOrderRejected)
	}
	col.record(step, time.Since(start), outcomeOf(err))
	return res, err
}

func callLookup(
	ctx context.Context,
	client orderClient,
	timeout time.Duration,
	number string,
	total decimal.Decimal,
	col *collector,
) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	order, err := client.OrderByNumber(callCtx, number)
	if err == nil && (order.Number != number || !order.Total.Equal(total)) {
		err = fmt.Errorf("%w: lookup %s returned %s total %s", errNumberMismatch, number, order.Number, order.Total)
	}
	col.record(stepLookup, time.Since(start), outcomeOf(err))
	return err
}

// buildRequest собирает заказ из товаров каталога по кругу. Суммы считаются политикой по умолчанию.
func buildRequest(products []domain.Product, index, maxItems int, runID string) domain.OrderRequest {
	count := 1 + index%maxItems
	if count > len(products) {
		count = len(products)
	}

	lines := make([]domain.CartLine, 0, count)
	for i := 0; i < count; i++ {
		p := products[(index+i)%len(products)]
		lines = append(lines, domain.CartLine{
			ProductID:  p.ID,
			Name:       p.Name,
			UnitPrice:  p.Price,
			Quantity:   1 + (index+i)%3,
			ImageRef:   p.ImageRef,
			VariantKey: domain.VariantKey(p.ID, "", ""),
		})
	}
	totals := pricing.ComputeTotals(lines, pricing.DefaultPolicy()).Rounded()

	items := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderLineFromCart(line))
	}

	return domain.OrderRequest{
		Customer: domain.ShippingDetails{
			Name:    fmt.Sprintf("Load Customer %d", index),
			Email:   fmt.Sprintf("load+%s-%d@example.com", runID, index),
			Phone:   "20000000",
			Address: "1 Avenue Habib Bourguiba",
			City:    "Tunis",
			Country: checkout.DefaultCountry,
		},
		Items:         items,
		PaymentMethod: domain.PaymentCashOnDelivery,
		Subtotal:      totals.Subtotal,
		ShippingCost:  totals.Shipping,
		Tax:           totals.Tax,
		Total:         totals.Total,
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeOK
	}
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return outcomeInvalid
	case errors.Is(err, errDuplicateNumber):
		return outcomeDuplicate
	case errors.Is(err, errNumberMismatch):
		return outcomeMismatch
	case errors.Is(err, domain.ErrOrderNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrOrderServiceUnreachable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return outcomeUnreachable
	case errors.Is(err, domain.ErrOrderRejected):
		return outcomeRejected
	default:
		return outcomeError
	}
}
