// Command shop is a terminal storefront: it browses the catalog, keeps a
// local cart file and checks out and pays against the API.
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
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront-api/internal/cart"
	"github.com/flicky/go-storefront-api/internal/client"
	"github.com/flicky/go-storefront-api/internal/dto"
	"github.com/flicky/go-storefront-api/internal/logger"
)

type config struct {
	APIURL   string `env:"SHOP_API_URL" envDefault:"http://localhost:8080"`
	Token    string `env:"SHOP_TOKEN"`
	CartFile string `env:"SHOP_CART_FILE"`
	LogLevel string `env:"SHOP_LOG_LEVEL" envDefault:"warn"`
}

const usage = `usage: shop <command> [args]

commands:
  products [-search s] [-category c] [-in-stock] [-sort name|price|stock|created_at] [-order asc|desc]
  cart show | add <product-id> [qty] | set <product-id> <qty> | remove <product-id> | clear
  checkout [-method MOCK|STRIPE|PAYOS]
  orders
  order <order-id>
  pay <order-id> [-method MOCK|STRIPE|PAYOS]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	api  *client.Client
	cart *cart.Cart
	out  io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.CartFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("locate home dir: %w", err)
		}
		cfg.CartFile = filepath.Join(home, ".shop", "cart.json")
	}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	log := logger.New(logger.Options{Service: "shop", Level: cfg.LogLevel, Output: stderr})
	a := &app{
		api:  client.New(cfg.APIURL, cfg.Token),
		cart: cart.New(ctx, cart.NewFileStore(cfg.CartFile), log),
		out:  stdout,
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "products":
		return a.products(ctx, rest)
	case "cart":
		return a.cartCmd(ctx, rest)
	case "checkout":
		return a.checkout(ctx, rest)
	case "orders":
		return a.orders(ctx)
	case "order":
		return a.order(ctx, rest)
	case "pay":
		return a.pay(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func (a *app) products(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("products", flag.ContinueOnError)
	search := fs.String("search", "", "name or description contains")
	var categories multiFlag
	fs.Var(&categories, "category", "category (repeatable)")
	inStock := fs.Bool("in-stock", false, "only products with stock")
	sortBy := fs.String("sort", "name", "sort field")
	order := fs.String("order", "asc", "asc or desc")
	page := fs.Int("page", 1, "page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := client.ListProductsParams{
		Search: *search, Categories: categories, Sort: *sortBy, Order: *order, Page: *page,
	}
	if *inStock {
		params.InStock = inStock
	}
	resp, err := a.api.ListProducts(ctx, params)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK\tCATEGORY")
	for _, p := range resp.Products {
		category := ""
		if p.Category != nil {
			category = *p.Category
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, p.Price.StringFixed(2), p.Stock, category)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d of %d products\n", len(resp.Products), resp.Total)
	return nil
}

func (a *app) cartCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.showCart()
	}
	switch args[0] {
	case "show":
		return a.showCart()
	case "add":
		if len(args) < 2 {
			return errors.New("usage: cart add <product-id> [qty]")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid product id: %w", err)
		}
		qty := 1
		if len(args) > 2 {
			if qty, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("invalid quantity: %w", err)
			}
		}
		p, err := a.api.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := a.cart.Add(ctx, cart.Item{
			ProductID: p.ID, Name: p.Name, Price: p.Price, Quantity: qty, Stock: p.Stock, Image: p.Image,
		}); err != nil {
			return err
		}
		return a.showCart()
	case "set":
		if len(args) < 3 {
			return errors.New("usage: cart set <product-id> <qty>")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid product id: %w", err)
		}
		qty, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid quantity: %w", err)
		}
		if err := a.cart.UpdateQuantity(ctx, id, qty); err != nil {
			return err
		}
		return a.showCart()
	case "remove":
		if len(args) < 2 {
			return errors.New("usage: cart remove <product-id>")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid product id: %w", err)
		}
		if err := a.cart.Remove(ctx, id); err != nil {
			return err
		}
		return a.showCart()
	case "clear":
		return a.cart.Clear(ctx)
	default:
		return fmt.Errorf("unknown cart command %q", args[0])
	}
}

func (a *app) showCart() error {
	items := a.cart.Items()
	if len(items) == 0 {
		fmt.Fprintln(a.out, "cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tPRICE\tQTY\tSUBTOTAL")
	for _, it := range items {
		subtotal := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", it.ProductID, it.Name, it.Price.StringFixed(2), it.Quantity, subtotal.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d items, total %s\n", a.cart.TotalItems(), a.cart.TotalAmount().StringFixed(2))
	return nil
}

func (a *app) checkout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	method := fs.String("method", "", "pay right away with this method")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := a.cart.Checkout()
	if err != nil {
		return err
	}
	order, err := a.api.CreateOrder(ctx, req)
	if err != nil {
		return err
	}
	if err := a.cart.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "order %s created: %s, total %s\n", order.ID, order.Status, order.TotalAmount.StringFixed(2))
	if *method == "" {
		return nil
	}
	return a.payOrder(ctx, order, *method)
}

func (a *app) orders(ctx context.Context) error {
	resp, err := a.api.ListOrders(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTATUS\tTOTAL\tITEMS\tCREATED")
	for _, o := range resp.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", o.ID, o.Status, o.TotalAmount.StringFixed(2), len(o.Items), o.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func (a *app) order(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: order <order-id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	o, err := a.api.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	printOrder(a.out, o)
	return nil
}

func printOrder(w io.Writer, o *dto.OrderResponse) {
	fmt.Fprintf(w, "order %s  %s  total %s\n", o.ID, o.Status, o.TotalAmount.StringFixed(2))
	for _, it := range o.Items {
		name := it.ProductID.String()
		if it.Product != nil {
			name = it.Product.Name
		}
		fmt.Fprintf(w, "  %d x %s @ %s\n", it.Quantity, name, it.Price.StringFixed(2))
	}
}

func (a *app) pay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pay", flag.ContinueOnError)
	method := fs.String("method", "MOCK", "payment method")
	if len(args) < 1 {
		return errors.New("usage: pay <order-id> [-method MOCK|STRIPE|PAYOS]")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	o, err := a.api.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	return a.payOrder(ctx, o, *method)
}

func (a *app) payOrder(ctx context.Context, o *dto.OrderResponse, method string) error {
	resp, err := a.api.Pay(ctx, dto.PaymentRequest{
		OrderID: o.ID, Amount: o.TotalAmount, PaymentMethod: strings.ToUpper(method),
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("payment declined: %s", resp.Error)
	}
	fmt.Fprintf(a.out, "paid: %s (%s)\n", resp.PaymentID, resp.Message)
	if resp.Order != nil {
		printOrder(a.out, resp.Order)
	}
	return nil
}
