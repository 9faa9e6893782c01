package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

// ErrClosed is returned by Charge after Close.
var ErrClosed = errors.New("payment gateway closed")

// ResultHandler receives the asynchronous outcome of a charge.
type ResultHandler func(ctx context.Context, result loyalty.PaymentResult)

// SimulatedConfig controls the simulated provider.
type SimulatedConfig struct {
	// Delay between accepting a charge and reporting its result.
	Delay time.Duration
	// FailingCustomers are declined; everyone else is charged successfully.
	FailingCustomers []string
	// DeclineReason is reported for declined charges.
	DeclineReason string
}

// SimulatedGateway stands in for a real payment provider in local and test
// setups. Charges are accepted immediately and resolved after Delay through
// the result handler, the way a provider webhook would report them.
type SimulatedGateway struct {
	cfg     SimulatedConfig
	failing map[string]struct{}

	mu      sync.Mutex
	handler ResultHandler
	closed  bool
	charges map[string]*simulatedCharge
	wg      sync.WaitGroup
}

type simulatedCharge struct {
	result    loyalty.PaymentResult
	delivered bool
}

// NewSimulatedGateway creates a gateway that reports to handler. The handler
// can be set later with OnResult.
func NewSimulatedGateway(cfg SimulatedConfig, handler ResultHandler) *SimulatedGateway {
	if cfg.DeclineReason == "" {
		cfg.DeclineReason = "card declined"
	}
	failing := make(map[string]struct{}, len(cfg.FailingCustomers))
	for _, id := range cfg.FailingCustomers {
		if id = strings.TrimSpace(id); id != "" {
			failing[id] = struct{}{}
		}
	}
	return &SimulatedGateway{
		cfg:     cfg,
		failing: failing,
		handler: handler,
		charges: make(map[string]*simulatedCharge),
	}
}

// OnResult sets the handler for charge outcomes.
func (g *SimulatedGateway) OnResult(handler ResultHandler) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

// Charge accepts a charge. A repeated idempotency key never charges twice:
// while the first result is pending it is ignored, afterwards the stored
// result is reported again.
func (g *SimulatedGateway) Charge(ctx context.Context, req loyalty.ChargeRequest) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	charge, dup := g.charges[req.IdempotencyKey]
	if dup && !charge.delivered {
		g.mu.Unlock()
		log.Infof("[Payment] Duplicate charge %s ignored, result pending", req.IdempotencyKey)
		return nil
	}
	if !dup {
		charge = &simulatedCharge{result: g.resultFor(req)}
		g.charges[req.IdempotencyKey] = charge
	}
	charge.delivered = false
	result := charge.result
	handler := g.handler
	g.wg.Add(1)
	g.mu.Unlock()

	if dup {
		log.Infof("[Payment] Reporting result of charge %s again", req.IdempotencyKey)
	} else {
		log.Infof("[Payment] Accepted charge %s for %s (%d)", req.IdempotencyKey, req.CustomerID, req.Amount)
	}

	resultCtx := context.WithoutCancel(ctx)
	go func() {
		defer g.wg.Done()
		if g.cfg.Delay > 0 {
			time.Sleep(g.cfg.Delay)
		}
		g.mu.Lock()
		charge.delivered = true
		g.mu.Unlock()
		if handler == nil {
			log.Warnf("[Payment] No result handler for charge %s", req.IdempotencyKey)
			return
		}
		handler(resultCtx, result)
	}()
	return nil
}

func (g *SimulatedGateway) resultFor(req loyalty.ChargeRequest) loyalty.PaymentResult {
	result := loyalty.PaymentResult{
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		BillingDate:    req.BillingDate,
		Success:        true,
	}
	if _, fail := g.failing[req.CustomerID]; fail {
		result.Success = false
		result.Reason = g.cfg.DeclineReason
	}
	return result
}

// Close rejects new charges and waits for pending results to be delivered.
func (g *SimulatedGateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}
