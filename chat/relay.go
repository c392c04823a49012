package chat

import (
	"context"
	"encoding/json"
)

// Relay carries room frames between server nodes so members connected to
// different nodes see one room. Implementations give no cross-node ordering.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, calling fn for each envelope, until ctx is done.
	Subscribe(ctx context.Context, fn func(Envelope)) error
	Close() error
}

type Envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}
