package label

import "log/slog"

// State is the (status, image) pair in effect for newly acquired samples
type State struct {
	Status Status
	Image  int32
}

// Initial is the label state of every new session
func Initial() State {
	return State{Status: StatusTransition, Image: ImageNone}
}

// Apply returns the state after ev. Fields are updated independently.
// Unknown status codes and status changes after Done are ignored.
func (s State) Apply(ev Event) State {
	next := s
	if ev.HasImage {
		next.Image = ev.Image
	}
	if ev.HasStatus {
		switch {
		case !ev.Status.Known():
			slog.Warn("Ignoring unknown status in event", "status", int32(ev.Status))
		case s.Status.Terminal() && ev.Status != s.Status:
			slog.Warn("Ignoring status change after terminal status", "current", s.Status, "requested", ev.Status)
		default:
			next.Status = ev.Status
		}
	}
	return next
}
