package events

import (
	"context"
	"errors"
)

// FeedRelay turns domain events into change notices. Every event pokes the
// participants' inbox topics; appends also poke the thread topic.
type FeedRelay struct {
	feed Feed
}

// NewFeedRelay builds a relay over feed.
func NewFeedRelay(feed Feed) *FeedRelay {
	return &FeedRelay{feed: feed}
}

// Register subscribes the relay to every messaging event.
func (r *FeedRelay) Register(dispatcher Dispatcher) {
	for _, t := range []EventType{EventThreadStarted, EventMessageAppended, EventThreadRead} {
		dispatcher.Subscribe(t, r.Handle)
	}
}

// Handle publishes the notices for one event.
func (r *FeedRelay) Handle(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range event.Participants {
		if err := r.feed.Notify(ctx, InboxTopic(p)); err != nil {
			errs = append(errs, err)
		}
	}
	if event.Type == EventMessageAppended {
		if err := r.feed.Notify(ctx, ThreadTopic(event.ThreadID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
