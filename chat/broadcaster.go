package chat

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// DeliveryReport is the outcome of one room broadcast on this node.
type DeliveryReport struct {
	Room      string
	Delivered []string
	Failed    map[string]error
}

// Broadcaster fans frames out to the current members of a room.
type Broadcaster struct {
	rooms  *RoomRegistry
	log    logrus.FieldLogger
	relay  Relay
	nodeID string

	// onFailure is told about every member a delivery failed for.
	onFailure func(c *Connection, err error)
}

type BroadcasterOption func(*Broadcaster)

// WithRelay shares every room frame with other nodes through relay.
func WithRelay(relay Relay, nodeID string) BroadcasterOption {
	return func(b *Broadcaster) {
		b.relay = relay
		b.nodeID = nodeID
	}
}

func NewBroadcaster(rooms *RoomRegistry, log logrus.FieldLogger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{rooms: rooms, log: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Deliver sends msg to every member of roomID except sender, who has
// already rendered its own message.
func (b *Broadcaster) Deliver(ctx context.Context, roomID string, msg Message, sender string) DeliveryReport {
	return b.broadcast(ctx, roomID, EventReceiveMessage, msg, sender)
}

// NotifyJoin announces username to the members of roomID. It must be called
// once per successful RoomRegistry.Join and never otherwise.
func (b *Broadcaster) NotifyJoin(ctx context.Context, roomID, username, excluding string) DeliveryReport {
	return b.broadcast(ctx, roomID, EventUserJoined, joinedEvent(username), excluding)
}

func (b *Broadcaster) NotifyLeave(ctx context.Context, roomID, username, excluding string) DeliveryReport {
	return b.broadcast(ctx, roomID, EventUserLeft, leftEvent(username), excluding)
}

// Run forwards frames published by other nodes to local members until ctx
// is done. Without a relay it just waits.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.relay == nil {
		<-ctx.Done()
		return nil
	}
	return b.relay.Subscribe(ctx, b.handleRelayed)
}

func (b *Broadcaster) handleRelayed(env Envelope) {
	if env.Origin == b.nodeID {
		return
	}
	relayCounter.WithLabelValues("received").Inc()
	b.fanout(env.Room, env.Frame, env.Exclude)
}

func (b *Broadcaster) broadcast(ctx context.Context, roomID, event string, data any, excluding string) DeliveryReport {
	frame, err := encodeFrame(event, data)
	if err != nil {
		b.log.WithFields(logrus.Fields{
			"room":  roomID,
			"event": event,
			"error": err.Error(),
		}).Error("failed to encode frame")
		return DeliveryReport{Room: roomID}
	}

	report := b.fanout(roomID, frame, excluding)

	if b.relay != nil {
		env := Envelope{Origin: b.nodeID, Room: roomID, Exclude: excluding, Frame: frame}
		if err := b.relay.Publish(ctx, env); err != nil {
			relayCounter.WithLabelValues("failed").Inc()
			b.log.WithFields(logrus.Fields{
				"room":  roomID,
				"error": err.Error(),
			}).Warn("failed to publish frame to relay")
		} else {
			relayCounter.WithLabelValues("published").Inc()
		}
	}
	return report
}

// fanout delivers frame to the current entry for roomID.
func (b *Broadcaster) fanout(roomID string, frame []byte, excluding string) DeliveryReport {
	room := b.rooms.lookup(roomID)
	if room == nil {
		return DeliveryReport{Room: roomID}
	}
	return b.fanoutRoom(room, frame, excluding)
}

// fanoutRoom snapshots the membership, then delivers outside the membership
// lock. A failed member never stops delivery to the others. Only members
// attached to this very entry receive the frame, so a fan-out still running
// on a pruned entry cannot interleave with one on its replacement.
func (b *Broadcaster) fanoutRoom(room *Room, frame []byte, excluding string) DeliveryReport {
	report := DeliveryReport{Room: room.Name}

	room.order.Lock()
	defer room.order.Unlock()

	for _, c := range room.snapshot() {
		if c.ID() == excluding {
			continue
		}
		err := c.deliverTo(room, frame)
		switch {
		case err == nil:
			report.Delivered = append(report.Delivered, c.ID())
			deliveriesCounter.WithLabelValues("delivered").Inc()
		case errors.Is(err, ErrNotMember):
			// left between the snapshot and now
		default:
			if report.Failed == nil {
				report.Failed = make(map[string]error)
			}
			report.Failed[c.ID()] = err
			deliveriesCounter.WithLabelValues("failed").Inc()
			b.log.WithFields(logrus.Fields{
				"room":    room.Name,
				"conn_id": c.ID(),
				"error":   err.Error(),
			}).Warn("delivery failed")
			if b.onFailure != nil {
				b.onFailure(c, err)
			}
		}
	}
	return report
}
