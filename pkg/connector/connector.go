package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erain9/pairflow/pkg/book"
)

// Errors
var (
	ErrUnknownConnector = errors.New("unknown connector type")
	ErrAlreadyStarted   = errors.New("connector already started")
)

// MarketDataConnector is implemented by venue feed handlers. Wire-level
// decoding and session management live behind this interface; the
// strategy core only sees ordered book updates and trading events
// through MDCallbacks.
type MarketDataConnector interface {
	Name() string
	IsActive() bool

	// Subscribe attaches a book that the connector will maintain for
	// the given instrument. Must be called before Start.
	Subscribe(secID int, b *book.Book) error

	Start() error
	Stop() error
}

// SideFlags marks which sides of a book an update touched
type SideFlags int

// Update side flags
const (
	SideBid SideFlags = 1 << iota
	SideAsk
)

// Has reports whether flag f is set
func (s SideFlags) Has(f SideFlags) bool { return s&f != 0 }

// Trade is one public trade print on an instrument
type Trade struct {
	SecID  int
	Px     float64
	Qty    float64
	IsBuy  bool
	TsExch time.Time
	TsRecv time.Time
}

// MDCallbacks is the market-data callback interface consumed by the
// strategy engine. All invocations arrive on the engine's single event
// thread.
type MDCallbacks interface {
	// OnTradingEvent signals connector or per-instrument up/down
	// transitions. secID == 0 scopes the event to the whole connector.
	OnTradingEvent(conn MarketDataConnector, isActive bool, secID int, tsExch, tsRecv time.Time)

	// OnOrderBookUpdate fires after a book changed. isError marks an
	// update the book could not apply consistently.
	OnOrderBookUpdate(b *book.Book, isError bool, sides SideFlags, tsExch, tsRecv, tsStrat time.Time)

	// OnTradeUpdate reports a public trade
	OnTradeUpdate(tr Trade)
}

// Factory builds one connector from its configuration section
type Factory func(name string, params map[string]string, cb MDCallbacks) (MarketDataConnector, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a connector factory under a configuration type key.
// Called from package init functions; a duplicate key panics.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[typ]; dup {
		panic(fmt.Sprintf("connector: duplicate registration of %q", typ))
	}
	registry[typ] = f
}

// New builds a connector of the configured type
func New(typ, name string, params map[string]string, cb MDCallbacks) (MarketDataConnector, error) {
	registryMu.RLock()
	f, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, typ)
	}
	return f(name, params, cb)
}

// Types returns the registered connector type keys, sorted
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
