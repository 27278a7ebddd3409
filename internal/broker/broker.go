// Package broker fans workspace events out to every live subscriber.
//
// Delivery is best-effort: publishes from one publisher arrive in order,
// nothing is ordered across publishers, and a subscriber that falls too far
// behind may miss events. The transcript store stays the only authority.
package broker

import (
	"context"
	"errors"

	"gopherai-cochat/internal/model"
)

const DefaultTopicPrefix = "workspace:"

var ErrClosed = errors.New("broker closed")

type Broker interface {
	Publish(ctx context.Context, topic string, event model.Event) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is bound to one connection. Events is closed once the
// subscription ends, either through Close or the subscribe context.
type Subscription interface {
	Events() <-chan model.Event
	Close() error
}

// Topic returns the channel name for a workspace, e.g. "workspace:42".
func Topic(prefix, workspaceID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + workspaceID
}

// subscriberBuffer bounds how far a subscriber may lag before events are
// dropped for it.
const subscriberBuffer = 256
