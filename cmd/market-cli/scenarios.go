package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/market-ledger-go/internal/market/apiclient"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

type scenario struct {
	Name        string
	Description string
	run         func(ctx context.Context, opts *options, ns string) (string, error)
}

type scenarioResult struct {
	status string
	detail string
	err    error
}

var scenarios = []scenario{
	{"physical", "List, buy, ship and deliver a physical product", runPhysical},
	{"instant", "Buy a service, delivered at checkout", runInstant},
	{"refund", "Deliver, report damage, refund", runRefund},
	{"referral", "Three buyers of a referral item", runReferral},
	{"bench", "Concurrent checkouts for five seconds", runBench},
}

func scenarioNames() []string {
	out := make([]string, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.Name
	}
	return out
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return scenario{}, false
}

// runScenario runs scn with accounts unique to this run, so scenarios can be
// repeated against one server.
func runScenario(ctx context.Context, opts *options, scn scenario) scenarioResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ns := uuid.NewString()[:8]
	detail, err := scn.run(ctx, opts, ns)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("%s failed: %v", scn.Name, err), detail: detail, err: err}
	}
	return scenarioResult{status: fmt.Sprintf("%s OK", scn.Name), detail: detail}
}

func buyOne(ctx context.Context, c *apiclient.Client, item domain.Hash, qty uint64) (domain.Order, error) {
	cart, err := c.AddToCart(ctx, item, qty)
	if err != nil {
		return domain.Order{}, err
	}
	rc, err := c.Checkout(ctx, ledger.CheckoutInput{DeliverToAddress: "1 Demo Street", Tendered: cart.Total}, "")
	if err != nil {
		return domain.Order{}, err
	}
	if len(rc.Orders) != 1 {
		return domain.Order{}, fmt.Errorf("expected one order, got %d", len(rc.Orders))
	}
	return rc.Orders[0], nil
}

func runPhysical(ctx context.Context, opts *options, ns string) (string, error) {
	seller := opts.client().As(domain.AccountID("seller-" + ns))
	buyer := seller.As(domain.AccountID("buyer-" + ns))
	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindProduct, Title: "Desk lamp", Price: 4000, Inventory: 5})
	if err != nil {
		return "", err
	}
	o, err := buyOne(ctx, buyer, it.ID, 2)
	if err != nil {
		return "", err
	}
	if o, err = seller.AdvanceOrder(ctx, o.ID, "TRK-"+ns, true, false); err != nil {
		return "", err
	}
	if o, err = seller.AdvanceOrder(ctx, o.ID, "TRK-"+ns, false, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("order %s %s, paid %s", o.ID.String()[:12], o.Status, apiclient.FormatAmount(o.LineTotal, opts.scale)), nil
}

func runInstant(ctx context.Context, opts *options, ns string) (string, error) {
	seller := opts.client().As(domain.AccountID("tutor-" + ns))
	buyer := seller.As(domain.AccountID("student-" + ns))
	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindService, Online: true, Title: "Guitar lesson", Price: 2500, Inventory: 10})
	if err != nil {
		return "", err
	}
	o, err := buyOne(ctx, buyer, it.ID, 1)
	if err != nil {
		return "", err
	}
	if o.Status != domain.OrderDelivered {
		return "", fmt.Errorf("service order is %s, want delivered", o.Status)
	}
	return fmt.Sprintf("order %s delivered at checkout", o.ID.String()[:12]), nil
}

func runRefund(ctx context.Context, opts *options, ns string) (string, error) {
	seller := opts.client().As(domain.AccountID("seller-" + ns))
	buyer := seller.As(domain.AccountID("buyer-" + ns))
	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindProduct, Title: "Vase", Price: 1800, Inventory: 1})
	if err != nil {
		return "", err
	}
	o, err := buyOne(ctx, buyer, it.ID, 1)
	if err != nil {
		return "", err
	}
	if _, err = seller.AdvanceOrder(ctx, o.ID, "", true, false); err != nil {
		return "", err
	}
	if _, err = seller.AdvanceOrder(ctx, o.ID, "", false, true); err != nil {
		return "", err
	}
	if _, err = buyer.ReportProblem(ctx, o.ID, domain.ProblemDamaged, "arrived in pieces"); err != nil {
		return "", err
	}
	if o, err = seller.Refund(ctx, o.ID, o.LineTotal); err != nil {
		return "", err
	}
	return fmt.Sprintf("order %s %s (%s)", o.ID.String()[:12], o.Status, o.Resolution), nil
}

func runReferral(ctx context.Context, opts *options, ns string) (string, error) {
	seller := opts.client().As(domain.AccountID("author-" + ns))
	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindProduct, Digital: true, Title: "E-book", Price: 1000, Inventory: 100, ZenoPercent: 20, DigitalURL: "https://example.com/ebook"})
	if err != nil {
		return "", err
	}
	var last domain.Order
	for i := 1; i <= 3; i++ {
		buyer := seller.As(domain.AccountID(fmt.Sprintf("reader%d-%s", i, ns)))
		if last, err = buyOne(ctx, buyer, it.ID, 1); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("third order pays %s to %d referrers", apiclient.FormatAmount(last.ZenoTotal, opts.scale), len(last.Referrers)), nil
}

func runBench(ctx context.Context, opts *options, ns string) (string, error) {
	seller := opts.client().As(domain.AccountID("bench-seller-" + ns))
	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindService, Title: "Bench ticket", Price: 100, Inventory: 1 << 40})
	if err != nil {
		return "", err
	}

	const (
		duration = 5 * time.Second
		vus      = 5
	)
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	var (
		mu     sync.Mutex
		total  time.Duration
		count  int
		errors int
		wg     sync.WaitGroup
	)
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := seller.As(domain.AccountID(fmt.Sprintf("bench-buyer%d-%s", i, ns)))
			for ctx.Err() == nil {
				start := time.Now()
				_, err := buyOne(ctx, buyer, it.ID, 1)
				mu.Lock()
				if err != nil {
					if ctx.Err() == nil {
						errors++
					}
				} else {
					count++
					total += time.Since(start)
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f checkouts/s", count, errors, avg, float64(count)/duration.Seconds()), nil
}
