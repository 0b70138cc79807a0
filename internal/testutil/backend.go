package testutil

import (
	"context"

	"github.com/pennaio/penna/internal/model"
)

// StubBackend replays fixed backend events, then returns Err.
type StubBackend struct {
	Events []model.Event
	Err    error
}

func (b *StubBackend) Generate(ctx context.Context, _ model.Request, emit model.EmitFunc) error {
	for _, ev := range b.Events {
		if err := emit(ctx, ev); err != nil {
			return err
		}
	}
	return b.Err
}

// TextEvents builds a delta sequence whose concatenation is the given
// parts, with the last event marked final.
func TextEvents(parts ...string) []model.Event {
	events := make([]model.Event, 0, len(parts))
	var cum string
	for i, p := range parts {
		cum += p
		events = append(events, model.TextDelta{Delta: p, Cumulative: cum, Final: i == len(parts)-1})
	}
	return events
}
