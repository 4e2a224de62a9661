// Command replay runs the quoting engine against a synthetic random
// walk on both legs and reports quote-cycle latency percentiles. No
// network, no venue: everything runs through the sim connectors.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	zlog "github.com/rs/zerolog/log"

	"github.com/erain9/pairflow/config"
	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/connector"
	"github.com/erain9/pairflow/pkg/logging"
	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/strategy"
)

var (
	rounds = flag.Int("rounds", 10000, "Number of book updates to replay")
	seed   = flag.Int64("seed", 42, "Random walk seed")
)

const (
	passSec = 1001
	aggrSec = 2001
)

func main() {
	flag.Parse()

	logging.Setup(logging.Config{Level: "warn", Output: os.Stderr})
	logger := zlog.Logger

	cfg := &config.Config{}
	cfg.Engine.StatusFile = ""
	cfg.Pairs = []config.PairConfig{replayPair()}

	eng := strategy.NewEngine(cfg, logger)

	feed := connector.NewSimFeed("replay-md", eng)
	omc := oms.NewSimConnector("replay-om", nil)
	omc.SetCallbacks(eng)
	eng.AddMarketDataConnector(feed)
	eng.AddOrderConnector(omc)

	if err := eng.InitPairs(); err != nil {
		log.Fatalf("Pair setup failed: %v", err)
	}
	pair := eng.Pairs()[0]
	omc.SetBook(passSec, pair.PassLeg().Book)
	omc.SetBook(aggrSec, pair.AggrLeg().Book)

	if err := feed.Start(); err != nil {
		log.Fatalf("Feed start failed: %v", err)
	}
	if err := omc.Start(); err != nil {
		log.Fatalf("Order connector start failed: %v", err)
	}

	hist := hdrhistogram.New(1, 10_000_000, 3)
	rng := rand.New(rand.NewSource(*seed))
	passMid, aggrMid := 100.0, 10.0

	for i := 0; i < *rounds; i++ {
		passMid = walk(rng, passMid, 0.01)
		aggrMid = walk(rng, aggrMid, 0.001)

		feed.PushSnapshot(passSec, ladder(passMid, 0.01, true), ladder(passMid, 0.01, false))
		feed.PushSnapshot(aggrSec, ladder(aggrMid, 0.001, true), ladder(aggrMid, 0.001, false))

		started := time.Now()
		eng.Drain()
		omc.Deliver()
		eng.Drain()
		hist.RecordValue(time.Since(started).Microseconds())
	}

	fmt.Printf("rounds:        %d\n", *rounds)
	fmt.Printf("cycle p50:     %d us\n", hist.ValueAtQuantile(50))
	fmt.Printf("cycle p99:     %d us\n", hist.ValueAtQuantile(99))
	fmt.Printf("cycle p99.9:   %d us\n", hist.ValueAtQuantile(99.9))
	fmt.Printf("cycle max:     %d us\n", hist.Max())
	fmt.Printf("pass position: %.0f\n", pair.PassPos())
	fmt.Printf("aggr position: %.0f\n", pair.AggrPos())
}

func replayPair() config.PairConfig {
	return config.PairConfig{
		Pass: config.LegConfig{
			MDC: "replay-md", OMC: "replay-om",
			SecID: passSec, Symbol: "PASS", PxStep: 0.01, LotSize: 1, Depth: 10,
		},
		Aggr: config.LegConfig{
			MDC: "replay-md", OMC: "replay-om",
			SecID: aggrSec, Symbol: "AGGR", PxStep: 0.001, LotSize: 1, Depth: 10,
		},
		QuotedQty:        10,
		PassPosSoftLimit: 100,
		ReQuoteDelayMSec: 1,
		EMACoeff:         0.1,
		AggrQtyFact:      10,
		AggrQtyReserve:   1.2,
		AggrMode:         "DeepAggr",
		MarkUp:           0.02,
	}
}

func walk(rng *rand.Rand, mid, step float64) float64 {
	return math.Max(mid+float64(rng.Intn(3)-1)*step, step*10)
}

func ladder(mid, step float64, isBid bool) []book.Entry {
	out := make([]book.Entry, 5)
	for i := range out {
		px := mid - float64(i+1)*step
		if !isBid {
			px = mid + float64(i+1)*step
		}
		out[i] = book.Entry{Px: px, Qty: float64(50 * (i + 1))}
	}
	return out
}
