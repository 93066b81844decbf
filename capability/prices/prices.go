// Package prices provides the market-price capability. Quotes come from a
// Quoter; StaticQuoter serves a fixed table for offline runs and tests.
package prices

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/concierge/capability"
)

// Name is the capability identifier exposed to the worker model.
const Name = "get_quote"

// Quote is a last-trade price.
type Quote struct {
	Symbol   string    `json:"symbol" yaml:"symbol"`
	Price    float64   `json:"price" yaml:"price"`
	Currency string    `json:"currency" yaml:"currency"`
	Change   float64   `json:"change_pct" yaml:"change_pct"`
	AsOf     time.Time `json:"as_of" yaml:"-"`
}

func (q Quote) String() string {
	sign := "+"
	if q.Change < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s last traded at %s %s (%s%s%% today)", q.Symbol,
		strconv.FormatFloat(q.Price, 'f', 2, 64), q.Currency,
		sign, strconv.FormatFloat(q.Change, 'f', 2, 64))
}

// Quoter looks up quotes by ticker symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// StaticQuoter serves quotes from an in-memory table.
type StaticQuoter struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticQuoter creates a quoter over quotes.
func NewStaticQuoter(quotes ...Quote) *StaticQuoter {
	s := &StaticQuoter{quotes: make(map[string]Quote, len(quotes))}
	for _, q := range quotes {
		s.Set(q)
	}
	return s
}

// DefaultQuotes is the demo table.
func DefaultQuotes() []Quote {
	return []Quote{
		{Symbol: "ACME", Price: 123.45, Currency: "USD", Change: 1.2},
		{Symbol: "GLOBEX", Price: 58.10, Currency: "USD", Change: -0.4},
		{Symbol: "INITECH", Price: 17.92, Currency: "EUR", Change: 0.05},
	}
}

// Set inserts or replaces a quote.
func (s *StaticQuoter) Set(q Quote) {
	q.Symbol = strings.ToUpper(q.Symbol)
	if q.AsOf.IsZero() {
		q.AsOf = time.Now().UTC()
	}
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
}

// Symbols lists the known symbols, sorted.
func (s *StaticQuoter) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for k := range s.quotes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Quote implements Quoter.
func (s *StaticQuoter) Quote(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[strings.ToUpper(strings.TrimSpace(symbol))]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, capability.NewError(Name, fmt.Sprintf("unknown symbol %q", symbol), capability.CodeNotFound)
	}
	return q, nil
}

// Args is the argument struct of the capability.
type Args struct {
	Symbol string `json:"symbol" description:"Ticker symbol, e.g. ACME"`
}

// New returns the price capability over quoter.
func New(quoter Quoter, serviceName string) *capability.FunctionCapability {
	if serviceName == "" {
		serviceName = "market data service"
	}
	return capability.NewFunctionFromStruct(Name, serviceName,
		"Get the latest traded price of a stock by ticker symbol.",
		Args{},
		func(ctx context.Context, args map[string]any) (string, error) {
			sym, _ := args["symbol"].(string)
			q, err := quoter.Quote(ctx, sym)
			if err != nil {
				return "", err
			}
			return q.String(), nil
		})
}
