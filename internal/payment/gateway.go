// Package payment holds the gateway adapters the payment service charges
// through. Every adapter reports a uniform Result; a declined charge is a
// Result with Success false, not an error.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodMock   Method = "MOCK"
	MethodStripe Method = "STRIPE"
	MethodPayOS  Method = "PAYOS"
)

var ErrUnknownMethod = errors.New("invalid payment method")

type Charge struct {
	OrderID uuid.UUID
	Amount  decimal.Decimal
}

type Result struct {
	Success   bool
	PaymentID string
	Message   string
}

type Gateway interface {
	Method() Method
	Charge(ctx context.Context, c Charge) (Result, error)
}

// Registry resolves a method tag to its gateway.
type Registry struct {
	gateways map[Method]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Method]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Lookup(tag string) (Gateway, error) {
	g, ok := r.gateways[Method(strings.TrimSpace(tag))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tag)
	}
	return g, nil
}

func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MockSettings configure the MOCK gateway when it is enabled.
type MockSettings struct {
	Latency     time.Duration
	SuccessRate float64
}

// NewRegistryFor builds a registry holding only the listed methods.
func NewRegistryFor(methods []string, mock MockSettings, log *slog.Logger) (*Registry, error) {
	var gateways []Gateway
	for _, m := range methods {
		switch Method(strings.ToUpper(strings.TrimSpace(m))) {
		case MethodMock:
			gateways = append(gateways, NewMockGateway(mock.Latency, mock.SuccessRate))
		case MethodStripe:
			gateways = append(gateways, NewStripeGateway(log))
		case MethodPayOS:
			gateways = append(gateways, NewPayOSGateway(log))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
		}
	}
	return NewRegistry(gateways...), nil
}
