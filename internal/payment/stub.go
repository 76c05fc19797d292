package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StubGateway stands in for a provider integration that has not been built.
// It approves every charge without calling out.
type StubGateway struct {
	method Method
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

func NewStripeGateway(log *slog.Logger) *StubGateway {
	return &StubGateway{method: MethodStripe, prefix: "stripe", log: log, now: time.Now}
}

func NewPayOSGateway(log *slog.Logger) *StubGateway {
	return &StubGateway{method: MethodPayOS, prefix: "payos", log: log, now: time.Now}
}

func (g *StubGateway) Method() Method { return g.method }

func (g *StubGateway) Charge(ctx context.Context, c Charge) (Result, error) {
	g.log.InfoContext(ctx, "processing placeholder payment",
		"method", g.method, "order_id", c.OrderID, "amount", c.Amount.String())
	return Result{
		Success:   true,
		PaymentID: fmt.Sprintf("%s_payment_%d", g.prefix, g.now().UnixMilli()),
		Message:   fmt.Sprintf("%s payment successful (placeholder)", g.method),
	}, nil
}
