package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Step builds one component. Run returns once the component is usable.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequencer runs steps strictly one after another. A step that fails, panics
// or outlives ctx halts the chain.
type Sequencer struct {
	steps []Step

	mu   sync.Mutex
	done []string
}

func NewSequencer(steps ...Step) *Sequencer { return &Sequencer{steps: steps} }

// Run executes the steps in order and returns the first failure.
func (s *Sequencer) Run(ctx context.Context) error {
	for _, st := range s.steps {
		if err := s.runStep(ctx, st); err != nil {
			zap.L().Error("component failed", zap.String("component", st.Name), zap.Error(err))
			return fmt.Errorf("%s: %w", st.Name, err)
		}
		s.mu.Lock()
		s.done = append(s.done, st.Name)
		s.mu.Unlock()
		zap.L().Debug("component ready", zap.String("component", st.Name))
	}
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, st Step) error {
	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("panic: %v", r)
			}
		}()
		errc <- st.Run(ctx)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed lists the steps that finished, in order.
func (s *Sequencer) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.done...)
}
