package provision

import (
	"sync"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/types"
)

type progressSubscriber struct {
	ch      chan types.InstallationProgress
	once    sync.Once
	dropped int
}

func (p *progressSubscriber) close() {
	p.once.Do(func() { close(p.ch) })
}

// SubscribeProgress returns an ordered stream of tool's install progress.
// The channel is closed when the install finishes or is cancelled, or when
// the returned func is called. Events are dropped, never blocking the
// install, when the subscriber falls behind.
func (s *Service) SubscribeProgress(tool types.Tool) (<-chan types.InstallationProgress, func()) {
	sub := &progressSubscriber{ch: make(chan types.InstallationProgress, s.subscriberBuffer)}
	s.subsMu.Lock()
	if s.subscribers[tool] == nil {
		s.subscribers[tool] = map[*progressSubscriber]struct{}{}
	}
	s.subscribers[tool][sub] = struct{}{}
	s.subsMu.Unlock()

	return sub.ch, func() {
		s.subsMu.Lock()
		delete(s.subscribers[tool], sub)
		s.subsMu.Unlock()
		sub.close()
	}
}

func (s *Service) publish(p types.InstallationProgress) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subscribers[p.Tool] {
		select {
		case sub.ch <- p:
		default:
			sub.dropped++
			if sub.dropped == 1 {
				logger.V(3).Infof("%s progress subscriber is behind, dropping events", p.Tool)
			}
		}
	}
}

func (s *Service) closeSubscribers(tool types.Tool) {
	s.subsMu.Lock()
	subs := s.subscribers[tool]
	delete(s.subscribers, tool)
	s.subsMu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (s *Service) closeAllSubscribers() {
	s.subsMu.Lock()
	all := s.subscribers
	s.subscribers = map[types.Tool]map[*progressSubscriber]struct{}{}
	s.subsMu.Unlock()
	for _, subs := range all {
		for sub := range subs {
			sub.close()
		}
	}
}
