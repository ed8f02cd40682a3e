package actions

import "time"

// Observer receives engine measurements. Implementations must be safe for
// concurrent use: ActionDone is called from worker goroutines.
type Observer interface {
	StateChanged(from, to State)
	Scheduled(pending int)
	ActionDone(elapsed time.Duration, err error)
	TickDone(tick uint64, elapsed time.Duration, ran int)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) Scheduled(int) {}
func (nopObserver) ActionDone(time.Duration, error) {}
func (nopObserver) TickDone(uint64, time.Duration, int) {}
