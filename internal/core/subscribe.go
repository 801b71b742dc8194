package core

import (
	"sync"

	"github.com/olyamironova/token-exchange/internal/domain"
)

// Update is emitted after every state change that touched the book.
type Update struct {
	Depth      domain.Depth
	MarketData domain.MarketData
	Trades     []domain.Trade
}

type subscribers struct {
	mu      sync.Mutex
	next    int
	chans   map[int]chan Update
	dropped uint64
}

// Subscribe registers a listener. Slow listeners lose updates rather than
// stall matching; Depth.Seq tells them how far they are behind. The returned
// func unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	s := &e.subs
	s.mu.Lock()
	if s.chans == nil {
		s.chans = make(map[int]chan Update)
	}
	id := s.next
	s.next++
	s.chans[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.chans, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *subscribers) notify(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- u:
		default:
			s.dropped++
		}
	}
}
