package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/erain9/pairflow/pkg/book"
	"github.com/erain9/pairflow/pkg/logging"
)

func init() {
	Register("wsfeed", NewWSFeed)
}

// wireMsg is the JSON depth-feed message layout. Wire-level binary
// protocols (FAST, ITCH) terminate in gateway processes that re-publish
// over this websocket framing.
type wireMsg struct {
	Type   string  `json:"type"` // depth, clear, trade, status
	SecID  int     `json:"secId"`
	Seq    uint64  `json:"seq"`
	Init   bool    `json:"init,omitempty"`
	Bid    bool    `json:"bid,omitempty"`
	Px     float64 `json:"px,omitempty"`
	Qty    float64 `json:"qty,omitempty"`
	IsBuy  bool    `json:"isBuy,omitempty"`
	Active bool    `json:"active,omitempty"`
	TsExch int64   `json:"tsExch,omitempty"` // unix nanos
}

// resyncReq asks the gateway to replay a snapshot for one instrument
type resyncReq struct {
	Type  string `json:"type"`
	SecID int    `json:"secId"`
}

// WSFeed maintains books from a websocket JSON depth feed, running each
// instrument's updates through a sequence-number buffer before they
// reach the book.
type WSFeed struct {
	name   string
	url    string
	bufCap int
	cb     MDCallbacks
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	active bool
	done   chan struct{}

	books map[int]*book.Book
	bufs  map[int]*book.SeqNumBuffer
}

// NewWSFeed is the registry factory for the websocket depth feed.
// Params: "url" (required), "buffer" (seq buffer capacity).
func NewWSFeed(name string, params map[string]string, cb MDCallbacks) (MarketDataConnector, error) {
	url, ok := params["url"]
	if !ok || url == "" {
		return nil, fmt.Errorf("wsfeed %s: missing url param", name)
	}
	bufCap := 1024
	if v, ok := params["buffer"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("wsfeed %s: bad buffer param %q: %w", name, v, err)
		}
		bufCap = n
	}
	return &WSFeed{
		name:   name,
		url:    url,
		bufCap: bufCap,
		cb:     cb,
		logger: logging.FromContext(logging.WithConnector(context.Background(), name)),
		books:  make(map[int]*book.Book),
		bufs:   make(map[int]*book.SeqNumBuffer),
	}, nil
}

// Name implements MarketDataConnector
func (f *WSFeed) Name() string { return f.name }

// IsActive implements MarketDataConnector
func (f *WSFeed) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Subscribe implements MarketDataConnector
func (f *WSFeed) Subscribe(secID int, b *book.Book) error {
	if f.done != nil {
		return ErrAlreadyStarted
	}
	f.books[secID] = b
	f.bufs[secID] = book.NewSeqNumBuffer(1, f.bufCap, func(upd book.BufferedUpdate) {
		f.applyUpdate(b, upd)
	})
	return nil
}

// Start implements MarketDataConnector
func (f *WSFeed) Start() error {
	if f.done != nil {
		return ErrAlreadyStarted
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("wsfeed %s: dial %s: %w", f.name, f.url, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.active = true
	f.mu.Unlock()
	f.done = make(chan struct{})

	f.logger.Info().Str("url", f.url).Msg("Feed connected")
	now := time.Now()
	f.cb.OnTradingEvent(f, true, 0, now, now)

	go f.readLoop()
	return nil
}

// Stop implements MarketDataConnector
func (f *WSFeed) Stop() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.active = false
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if f.done != nil {
		<-f.done
	}
	return nil
}

func (f *WSFeed) readLoop() {
	defer close(f.done)
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			wasActive := f.active
			f.active = false
			f.mu.Unlock()
			if wasActive {
				f.logger.Warn().Err(err).Msg("Feed disconnected")
				now := time.Now()
				// Books cannot be trusted across a reconnect
				for _, b := range f.books {
					b.Invalidate(b.LastUpdate() + 1)
				}
				f.cb.OnTradingEvent(f, false, 0, now, now)
			}
			return
		}

		var msg wireMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn().Err(err).Msg("Malformed feed message")
			continue
		}
		f.handle(&msg)
	}
}

func (f *WSFeed) handle(msg *wireMsg) {
	tsRecv := time.Now()
	tsExch := time.Unix(0, msg.TsExch)

	switch msg.Type {
	case "status":
		f.cb.OnTradingEvent(f, msg.Active, msg.SecID, tsExch, tsRecv)

	case "trade":
		f.cb.OnTradeUpdate(Trade{
			SecID:  msg.SecID,
			Px:     msg.Px,
			Qty:    msg.Qty,
			IsBuy:  msg.IsBuy,
			TsExch: tsExch,
			TsRecv: tsRecv,
		})

	case "depth", "clear":
		buf, ok := f.bufs[msg.SecID]
		if !ok {
			return // not subscribed
		}
		upd := book.BufferedUpdate{
			Seq:      book.SeqNum(msg.Seq),
			Kind:     book.KindLevel,
			IsBid:    msg.Bid,
			Px:       msg.Px,
			Qty:      msg.Qty,
			InitMode: msg.Init,
			TsExch:   tsExch,
			TsRecv:   tsRecv,
		}
		if msg.Type == "clear" {
			upd.Kind = book.KindClear
		}
		if err := buf.Push(upd); err != nil {
			f.resync(msg.SecID, buf)
		}

	default:
		f.logger.Warn().Str("type", msg.Type).Msg("Unknown feed message type")
	}
}

// applyUpdate is the exactly-once, in-order sink of the sequence buffer
func (f *WSFeed) applyUpdate(b *book.Book, upd book.BufferedUpdate) {
	isError := false
	sides := SideAsk
	if upd.IsBid {
		sides = SideBid
	}

	switch upd.Kind {
	case book.KindClear:
		b.Clear(upd.Seq)
		sides = SideBid | SideAsk
	default:
		if b.Update(upd.IsBid, upd.Px, upd.Qty, upd.Seq, upd.TsExch, upd.TsRecv) < 0 {
			isError = true
			f.logger.Warn().
				Int("sec_id", b.SecID()).
				Uint64("seq", uint64(upd.Seq)).
				Float64("px", upd.Px).
				Msg("Book update failed")
		}
		if upd.InitMode {
			// Snapshot replay confirms consistency through this seq even
			// when an individual level fell outside the configured depth.
			b.SetUpToDateAs(upd.Seq)
		}
	}

	f.cb.OnOrderBookUpdate(b, isError, sides, upd.TsExch, upd.TsRecv, time.Now())
}

// resync invalidates one instrument and asks the gateway for a fresh
// snapshot after a sequence-buffer overflow.
func (f *WSFeed) resync(secID int, buf *book.SeqNumBuffer) {
	b := f.books[secID]
	b.Invalidate(b.LastUpdate() + 1)
	buf.Reset(buf.Next()) // drops held updates, snapshot restarts numbering via init msgs

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(resyncReq{Type: "resync", SecID: secID}); err != nil {
		f.logger.Error().Err(err).Int("sec_id", secID).Msg("Resync request failed")
	}
}
