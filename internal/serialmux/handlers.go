package serialmux

import "context"

// ForwardTicks copies tick payloads from s to out until ctx is cancelled or
// the mux closes the subscription.
func ForwardTicks(ctx context.Context, s SerialMuxInterface, out chan<- string) {
	id, ticks := s.SubscribeTicks()
	defer s.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ticks:
			if !ok {
				return
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}
