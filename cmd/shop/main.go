// Команда shop реализует консольную витрину: каталог, корзину и оформление заказа.
//
//	shop catalog
//	shop cart add TS-010 -qty 2 -size L
//	shop cart show
//	shop checkout -name "Amira Ben Salah" -email amira@example.com -phone 22123456 -address "12 Rue de Marseille" -city Tunis
//	shop order ORD2601011234
//
// Корзина хранится в каталоге -cart-dir или в Redis (-redis-addr) между запусками.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/cart"
	"github.com/Steank-29/tawakkol/internal/catalog"
	"github.com/Steank-29/tawakkol/internal/checkout"
	"github.com/Steank-29/tawakkol/internal/pricing"
)

const usage = `usage: shop [flags] <command> [args]

commands:
  catalog                              list products
  cart show                            show cart lines and totals
  cart add <product> [-qty N] [-size S] [-color C]
  cart set <product> <qty> [-size S] [-color C]
  cart remove <product> [-size S] [-color C]
  cart clear                           empty the cart
  checkout -name -email -phone -address -city [-country] [-payment]
  order <number>                       look up a placed order`

var errUsage = errors.New(usage)

type options struct {
	transport        string
	server           string
	grpcAddr         string
	token            string
	timeout          time.Duration
	cartDir          string
	redisAddr        string
	redisTTL         time.Duration
	session          string
	catalogPath      string
	shippingFee      string
	taxRate          string
	freeShippingFrom string
	logLevel         string
}

func parseOptions(args []string, output io.Writer) (options, []string, error) {
	fs := flag.NewFlagSet("shop", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { _, _ = fmt.Fprintln(output, usage) }

	var opts options
	fs.StringVar(&opts.transport, "transport", transportHTTP, "order service transport: http|grpc")
	fs.StringVar(&opts.server, "server", "http://localhost:8080", "order service HTTP base URL")
	fs.StringVar(&opts.grpcAddr, "grpc-addr", "localhost:50051", "order service gRPC address")
	fs.StringVar(&opts.token, "token", "", "bearer token for gRPC calls")
	fs.DurationVar(&opts.timeout, "timeout", checkout.DefaultTimeout, "order submission timeout")
	fs.StringVar(&opts.cartDir, "cart-dir", defaultCartDir(), "directory for the cart snapshot")
	fs.StringVar(&opts.redisAddr, "redis-addr", "", "keep the cart in Redis at this address instead of -cart-dir")
	fs.DurationVar(&opts.redisTTL, "redis-ttl", 7*24*time.Hour, "cart snapshot TTL in Redis")
	fs.StringVar(&opts.session, "session", cart.DefaultKey, "cart snapshot key")
	fs.StringVar(&opts.catalogPath, "catalog", "", "catalog JSON file; embedded catalog when empty")
	fs.StringVar(&opts.shippingFee, "shipping-fee", "7", "flat shipping fee")
	fs.StringVar(&opts.taxRate, "tax-rate", "0", "tax rate applied to the subtotal")
	fs.StringVar(&opts.freeShippingFrom, "free-shipping-threshold", "0", "subtotal shown as the free-shipping goal; 0 hides the hint")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if fs.NArg() == 0 {
		return opts, nil, errUsage
	}
	return opts, fs.Args(), nil
}

func (o options) policy() (pricing.Policy, error) {
	fee, err := decimal.NewFromString(o.shippingFee)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("shipping-fee: %w", err)
	}
	rate, err := decimal.NewFromString(o.taxRate)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("tax-rate: %w", err)
	}
	threshold, err := decimal.NewFromString(o.freeShippingFrom)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("free-shipping-threshold: %w", err)
	}
	policy := pricing.Policy{FlatShippingFee: fee, TaxRate: rate, FreeShippingThreshold: threshold}
	if err := policy.Validate(); err != nil {
		return pricing.Policy{}, err
	}
	return policy, nil
}

func defaultCartDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tawakkol")
	}
	return ".tawakkol"
}

func setupLogger(level string, output io.Writer) {
	log.SetOutput(output)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.WarnLevel
	}
	log.SetLevel(parsed)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

// run разбирает аргументы и выполняет одну команду.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}
	setupLogger(opts.logLevel, stderr)

	policy, err := opts.policy()
	if err != nil {
		return err
	}
	products, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	sh := &shop{out: stdout, catalog: products, policy: policy, opts: opts}

	command, cmdArgs := rest[0], rest[1:]
	switch command {
	case "catalog":
		return sh.listCatalog(ctx)
	case "order":
		return sh.withClient(func(client orderClient) error {
			return sh.lookupOrder(ctx, client, cmdArgs)
		})
	case "cart", "checkout":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	storage, closeStorage, err := openStorage(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStorage()
	sh.cart = cart.New(ctx, storage, policy, cart.WithKey(opts.session))

	if command == "checkout" {
		return sh.withClient(func(client orderClient) error {
			return sh.checkout(ctx, client, cmdArgs)
		})
	}
	return sh.cartCommand(ctx, cmdArgs)
}
