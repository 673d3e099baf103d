package feed

import "sync"

// sequencer hands out turns in issue order. A fetch takes a ticket before
// it starts and waits for its turn before committing, so results commit in
// the order the calls were made whatever order the network answers in.
type sequencer struct {
	mu   sync.Mutex
	tail chan struct{}
}

var closedTurn = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// ticket returns a channel closed when every earlier ticket was released,
// and the release of this ticket. Release is idempotent and never lets a
// later ticket run before an earlier one.
func (s *sequencer) ticket() (<-chan struct{}, func()) {
	mine := make(chan struct{})
	s.mu.Lock()
	prev := s.tail
	if prev == nil {
		prev = closedTurn
	}
	s.tail = mine
	s.mu.Unlock()

	var once sync.Once
	return prev, func() {
		once.Do(func() {
			select {
			case <-prev:
				close(mine)
			default:
				go func() {
					<-prev
					close(mine)
				}()
			}
		})
	}
}
