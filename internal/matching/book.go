package matching

import (
	"sort"
	"sync"

	"github.com/klingon-exchange/exchanged/internal/storage"
)

// Book holds the resting orders for one symbol, split by side. Every
// mutation (insert, peek, remove) is a critical section guarded by mu —
// only one writer touches a symbol's book at a time.
type Book struct {
	mu     sync.Mutex
	Symbol string
	buys   []*storage.Order
	sells  []*storage.Order
}

// NewBook creates an empty book for a symbol.
func NewBook(symbol string) *Book {
	return &Book{Symbol: symbol}
}

// Load seeds the book from resting orders read at startup, sorted into
// priority order per side.
func (b *Book) Load(orders []*storage.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if IsBuy(o) {
			b.buys = append(b.buys, o)
		} else {
			b.sells = append(b.sells, o)
		}
	}
	sort.SliceStable(b.buys, func(i, j int) bool { return Less(b.buys[i], b.buys[j]) })
	sort.SliceStable(b.sells, func(i, j int) bool { return Less(b.sells[i], b.sells[j]) })
}

func (b *Book) sideFor(o *storage.Order) *[]*storage.Order {
	if IsBuy(o) {
		return &b.buys
	}
	return &b.sells
}

func (b *Book) oppositeSide(side string) *[]*storage.Order {
	if side == storage.SideBuy {
		return &b.sells
	}
	return &b.buys
}

// insert places o into its side's book at its priority position. Caller
// must hold mu.
func (b *Book) insert(o *storage.Order) {
	side := b.sideFor(o)
	idx := sort.Search(len(*side), func(i int) bool { return Less(o, (*side)[i]) || o == (*side)[i] })
	*side = append(*side, nil)
	copy((*side)[idx+1:], (*side)[idx:])
	(*side)[idx] = o
}

// peekHead returns the head order of the opposite side to s, or nil if empty.
// Caller must hold mu.
func (b *Book) peekHead(s string) *storage.Order {
	side := b.oppositeSide(s)
	if len(*side) == 0 {
		return nil
	}
	return (*side)[0]
}

// removeHead removes the current head of the opposite side to s. Caller
// must hold mu.
func (b *Book) removeHead(s string) {
	side := b.oppositeSide(s)
	if len(*side) == 0 {
		return
	}
	*side = (*side)[1:]
}

// bestHeadPrice returns the head price of the side opposite to s (the
// side an order on s would match against) without locking; used
// internally by the matcher, which already holds the book lock for the
// duration of the placement algorithm.
func (b *Book) bestHeadPrice(s string) (price int64, ok bool) {
	side := b.oppositeSide(s)
	if len(*side) == 0 {
		return 0, false
	}
	return (*side)[0].Price, true
}

// remove deletes o from its resting side, if present. Caller must hold mu.
func (b *Book) remove(o *storage.Order) {
	side := b.sideFor(o)
	for i, r := range *side {
		if r.ID == o.ID {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return
		}
	}
}

// BestPrice returns the best resting price on the opposite side to s,
// used to cap a market order's self-affordability check. ok is false if
// the opposite side is empty.
func (b *Book) BestPrice(s string) (price int64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.peekHead(s)
	if h == nil {
		return 0, false
	}
	return h.Price, true
}

// Lock/Unlock expose the book's critical section to the matcher, which
// must hold it across the whole match-decision-to-settlement sequence
// rather than just around individual book mutations.
func (b *Book) Lock()   { b.mu.Lock() }
func (b *Book) Unlock() { b.mu.Unlock() }

// Snapshot returns a shallow copy of both sides, for reporting/testing.
func (b *Book) Snapshot() (buys, sells []*storage.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buys = append(buys, b.buys...)
	sells = append(sells, b.sells...)
	return
}
