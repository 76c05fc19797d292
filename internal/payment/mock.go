package payment

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockGateway simulates a processor: it waits, then approves with the
// configured probability.
type MockGateway struct {
	latency     time.Duration
	successRate float64
	roll        func() float64
	now         func() time.Time
}

type MockOption func(*MockGateway)

// WithRoll replaces the random source; roll must return a value in [0, 1).
func WithRoll(roll func() float64) MockOption {
	return func(g *MockGateway) { g.roll = roll }
}

func WithClock(now func() time.Time) MockOption {
	return func(g *MockGateway) { g.now = now }
}

func NewMockGateway(latency time.Duration, successRate float64, opts ...MockOption) *MockGateway {
	g := &MockGateway{
		latency:     latency,
		successRate: successRate,
		roll:        rand.Float64,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MockGateway) Method() Method { return MethodMock }

func (g *MockGateway) Charge(ctx context.Context, _ Charge) (Result, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	if g.roll() >= g.successRate {
		return Result{Success: false, Message: "Mock payment failed"}, nil
	}
	return Result{
		Success:   true,
		PaymentID: fmt.Sprintf("mock_payment_%d", g.now().UnixMilli()),
		Message:   "Mock payment successful",
	}, nil
}
