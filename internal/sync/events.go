package sync

import "github.com/Latermedia/linearbot-sub003/internal/domain"

// Event is one progress update published while a sync runs. Presentation
// layers subscribe to the orchestrator's event channel instead of passing
// callbacks into it.
type Event struct {
	Phase   domain.SyncPhase `json:"phase"`
	Message string           `json:"message"`
	Current int              `json:"current"`
	Total   int              `json:"total"`
	Percent int              `json:"percent"`
}

// publish sends without blocking: a slow or absent subscriber never stalls the
// sync itself.
func (o *Orchestrator) publish(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// Events returns the progress stream. The channel is never closed; subscribers
// select on it alongside their own cancellation.
func (o *Orchestrator) Events() <-chan Event { return o.events }
