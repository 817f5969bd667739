package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/cart"
	"github.com/Steank-29/tawakkol/internal/catalog"
	"github.com/Steank-29/tawakkol/internal/checkout"
	"github.com/Steank-29/tawakkol/internal/client/orderapi"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/pricing"
	"github.com/Steank-29/tawakkol/internal/retry"
	grpctransport "github.com/Steank-29/tawakkol/internal/transport/grpc"
)

const (
	transportHTTP = "http"
	transportGRPC = "grpc"

	submitRetryDelay = 300 * time.Millisecond
)

// orderClient — клиент сервиса заказов, которым пользуется витрина.
type orderClient interface {
	checkout.OrderClient
	OrderByNumber(ctx context.Context, number string) (domain.Order, error)
}

type shop struct {
	out     io.Writer
	catalog *catalog.Static
	policy  pricing.Policy
	opts    options
	cart    *cart.Store
}

func (s *shop) listCatalog(ctx context.Context) error {
	products, err := s.catalog.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tPRICE")
	for _, p := range products {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2))
	}
	return tw.Flush()
}

// withClient открывает клиент выбранного транспорта на время fn.
func (s *shop) withClient(fn func(client orderClient) error) error {
	switch s.opts.transport {
	case transportHTTP:
		client, err := orderapi.New(s.opts.server, orderapi.WithTimeout(s.opts.timeout),
			orderapi.WithLogger(log.WithField("component", "orderapi")))
		if err != nil {
			return err
		}
		return fn(client)
	case transportGRPC:
		client, err := grpctransport.Dial(s.opts.grpcAddr, s.opts.token)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.opts.grpcAddr, err)
		}
		defer func() { _ = client.Close() }()
		return fn(client)
	default:
		return fmt.Errorf("unsupported transport %q (use http|grpc)", s.opts.transport)
	}
}

type variantFlags struct {
	qty   int
	size  string
	color string
}

func newVariantFlagSet(name string, out io.Writer, withQty bool) (*flag.FlagSet, *variantFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	v := &variantFlags{}
	if withQty {
		fs.IntVar(&v.qty, "qty", 1, "quantity")
	}
	fs.StringVar(&v.size, "size", "", "size")
	fs.StringVar(&v.color, "color", "", "color")
	return fs, v
}

func (s *shop) cartCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return s.showCart()
	}

	switch sub, rest := args[0], args[1:]; sub {
	case "show":
		return s.showCart()
	case "add":
		if len(rest) == 0 {
			return errors.New("usage: cart add <product> [-qty N] [-size S] [-color C]")
		}
		fs, v := newVariantFlagSet("cart add", s.out, true)
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
		product, err := s.catalog.Product(ctx, rest[0])
		if err != nil {
			return err
		}
		if v.qty <= 0 {
			return domain.NewValidationError("quantity", "must be positive")
		}
		if err := s.cart.AddItem(ctx, product, v.qty, v.size, v.color); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(s.out, "Added %d x %s\n", v.qty, product.Name)
		return s.showCart()
	case "set":
		if len(rest) < 2 {
			return errors.New("usage: cart set <product> <qty> [-size S] [-color C]")
		}
		qty, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("quantity %q: %w", rest[1], err)
		}
		fs, v := newVariantFlagSet("cart set", s.out, false)
		if err := fs.Parse(rest[2:]); err != nil {
			return err
		}
		if err := s.cart.SetQuantity(ctx, rest[0], qty, v.size, v.color); err != nil {
			return err
		}
		return s.showCart()
	case "remove":
		if len(rest) == 0 {
			return errors.New("usage: cart remove <product> [-size S] [-color C]")
		}
		fs, v := newVariantFlagSet("cart remove", s.out, false)
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
		if err := s.cart.RemoveItem(ctx, rest[0], v.size, v.color); err != nil {
			return err
		}
		return s.showCart()
	case "clear":
		if err := s.cart.Clear(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(s.out, "Cart cleared")
		return nil
	default:
		return fmt.Errorf("unknown cart command %q\n%s", sub, usage)
	}
}

func (s *shop) showCart() error {
	snap := s.cart.Snapshot()
	if snap.Empty() {
		_, _ = fmt.Fprintln(s.out, "Your cart is empty")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tNAME\tVARIANT\tQTY\tPRICE\tLINE TOTAL")
	for _, l := range snap.Lines {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			l.ProductID, l.Name, variantLabel(l), l.Quantity,
			l.UnitPrice.StringFixed(2), l.LineTotal().StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	printTotals(s.out, snap.Totals.Rounded())
	if remaining, ok := s.policy.FreeShippingRemaining(snap.Totals.Subtotal); ok {
		if remaining.IsZero() {
			_, _ = fmt.Fprintln(s.out, "Free-shipping threshold reached")
		} else {
			_, _ = fmt.Fprintf(s.out, "Add %s more to reach free shipping\n", remaining.StringFixed(2))
		}
	}
	return nil
}

func variantLabel(l domain.CartLine) string {
	parts := make([]string, 0, 2)
	if l.Size != "" {
		parts = append(parts, l.Size)
	}
	if l.Color != "" {
		parts = append(parts, l.Color)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "/")
}

func printTotals(w io.Writer, t pricing.Totals) {
	_, _ = fmt.Fprintf(w, "Subtotal: %s\n", t.Subtotal.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Shipping: %s\n", t.Shipping.StringFixed(2))
	if !t.Tax.IsZero() {
		_, _ = fmt.Fprintf(w, "Tax:      %s\n", t.Tax.StringFixed(2))
	}
	_, _ = fmt.Fprintf(w, "Total:    %s\n", t.Total.StringFixed(2))
}

// checkout проводит оформление за один вызов: доставка, оплата, отправка.
// Недоступность сервиса и ответ «ключ ещё исполняется» повторяются с тем же ключом идемпотентности.
func (s *shop) checkout(ctx context.Context, client orderClient, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(s.out)
	var (
		details domain.ShippingDetails
		payment string
		retries int
	)
	fs.StringVar(&details.Name, "name", "", "full name")
	fs.StringVar(&details.Email, "email", "", "email for the confirmation")
	fs.StringVar(&details.Phone, "phone", "", "8-digit phone number")
	fs.StringVar(&details.Address, "address", "", "street address")
	fs.StringVar(&details.City, "city", "", "city")
	fs.StringVar(&details.PostalCode, "postal-code", "", "postal code")
	fs.StringVar(&details.Country, "country", "", "country; "+checkout.DefaultCountry+" when empty")
	fs.StringVar(&details.Notes, "notes", "", "delivery notes")
	fs.StringVar(&payment, "payment", string(domain.PaymentCashOnDelivery), "payment method")
	fs.IntVar(&retries, "retries", 2, "extra attempts when the order service is unreachable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if s.cart.Snapshot().Empty() {
		return errors.New("your cart is empty")
	}

	wf := checkout.New(s.cart, client,
		checkout.WithTimeout(s.opts.timeout),
		checkout.WithLogger(log.WithField("component", "checkout")))

	if err := wf.SubmitShipping(details); err != nil {
		return fieldErrors(err)
	}
	if err := wf.SelectPayment(domain.PaymentMethod(payment)); err != nil {
		if errors.Is(err, checkout.ErrPaymentMethodDisabled) {
			return fmt.Errorf("%s is not available yet, use %s", payment, domain.PaymentCashOnDelivery)
		}
		return fieldErrors(err)
	}

	retrier := retry.New(
		retry.Config{MaxAttempts: max(retries, 0) + 1, InitialDelay: submitRetryDelay, MaxDelay: 5 * time.Second},
		retry.WithRetryIf(func(err error) bool {
			var serr *checkout.SubmissionError
			return errors.As(err, &serr) && serr.Retryable()
		}),
		retry.WithOnRetry(func(attempt int, _ time.Duration, err error) {
			reason := "Order service unreachable"
			var serr *checkout.SubmissionError
			if errors.As(err, &serr) && serr.Kind == checkout.KindInFlight {
				reason = "Order is still being processed"
			}
			_, _ = fmt.Fprintf(s.out, "%s, retrying (%d/%d)\n", reason, attempt, retries)
		}),
		retry.WithLogger(log.WithField("component", "checkout-retry")),
	)

	var conf checkout.Confirmation
	err := retrier.Do(ctx, "place_order", func(ctx context.Context) error {
		var err error
		conf, err = wf.PlaceOrder(ctx)
		return err
	})
	if err != nil {
		var serr *checkout.SubmissionError
		if errors.As(err, &serr) && len(serr.Fields) > 0 {
			return fieldErrors(&domain.ValidationError{Fields: serr.Fields})
		}
		return err
	}

	_, _ = fmt.Fprintf(s.out, "Order placed: %s\n", conf.OrderNumber)
	printTotals(s.out, conf.Totals)
	_, _ = fmt.Fprintf(s.out, "Payment: %s\n", conf.PaymentMethod)
	if conf.EmailSent {
		_, _ = fmt.Fprintf(s.out, "A confirmation email was sent to %s\n", conf.Shipping.Email)
	} else {
		_, _ = fmt.Fprintln(s.out, "The confirmation email could not be sent. Keep your order number.")
	}
	return nil
}

// fieldErrors сворачивает ошибки полей в одно сообщение, по строке на поле.
func fieldErrors(err error) error {
	verr, ok := domain.AsValidation(err)
	if !ok {
		return err
	}
	lines := make([]string, 0, len(verr.Fields)+1)
	lines = append(lines, "please fix the following fields:")
	for _, f := range verr.Fields {
		lines = append(lines, "  "+f.Field+": "+f.Message)
	}
	return errors.New(strings.Join(lines, "\n"))
}

func (s *shop) lookupOrder(ctx context.Context, client orderClient, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: order <number>")
	}
	order, err := client.OrderByNumber(ctx, args[0])
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return fmt.Errorf("order %s not found", args[0])
		}
		return err
	}

	_, _ = fmt.Fprintf(s.out, "Order %s\n", order.Number)
	_, _ = fmt.Fprintf(s.out, "Status:  %s\n", order.Status)
	_, _ = fmt.Fprintf(s.out, "Placed:  %s\n", order.CreatedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(s.out, "Items:   %d\n", len(order.Items))
	_, _ = fmt.Fprintf(s.out, "Total:   %s\n", order.Total.StringFixed(2))
	return nil
}
