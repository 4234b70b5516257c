package supervisor

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/abdoElHodaky/exchange-core/internal/matching"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"go.uber.org/zap"
)

// Topics the notification bus publishes on. Both are one-way: no caller
// ever blocks on delivery order here, which is why this is the one place in
// the core that uses a pub/sub fan-out instead of the supervisor's own
// ordered, backpressured inbound channel (spec.md §5's ordering guarantees
// apply to the inbound command path, not to this outbound side-channel).
const (
	TopicStateChange = "engine.state"
	TopicFill        = "engine.fill"
)

// stateChangeEvent is published whenever an asset's engine transitions.
type stateChangeEvent struct {
	Asset coretypes.Asset `json:"asset"`
	State string          `json:"state"`
}

// fillEvent is published for every successful Place command, whatever its
// fill outcome — a notification-only projection of PlaceResult for
// collaborators (market data fan-out, risk) that is explicitly out of this
// core's scope to consume, but whose wiring point the core still owns.
type fillEvent struct {
	Asset         coretypes.Asset      `json:"asset"`
	TakerOutcome  matching.FillKind    `json:"taker_outcome"`
	MakerFills    []matching.MakerFill `json:"maker_fills"`
	TakerCanceled bool                 `json:"taker_canceled"`
}

// NotificationBus is a thin watermill gochannel pub/sub wrapper the
// supervisor publishes engine lifecycle events onto. Grounded on the
// teacher's internal/architecture/cqrs/eventbus/watermill_adapter.go
// (WatermillEventBus), narrowed to publish-only: the core has no in-process
// subscriber of its own, so the router/handler-registration half of that
// file has no home here and is left behind in the teacher's own package.
type NotificationBus struct {
	pub    *gochannel.GoChannel
	logger *zap.Logger
}

// NewNotificationBus returns a bus backed by an in-process gochannel
// pub/sub with a 1024-message output buffer. Persistence is off: a message
// published while a topic has no subscriber is dropped.
func NewNotificationBus(logger *zap.Logger) *NotificationBus {
	wmLogger := watermill.NopLogger{}
	pub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
		Persistent:          false,
	}, wmLogger)
	return &NotificationBus{pub: pub, logger: logger}
}

// Subscribe exposes the underlying subscriber for a collaborator to
// register against topic; the core itself never subscribes to its own
// notifications.
func (b *NotificationBus) Subscribe(topic string) (<-chan *message.Message, error) {
	return b.pub.Subscribe(context.Background(), topic)
}

// Close shuts down the pub/sub.
func (b *NotificationBus) Close() error {
	return b.pub.Close()
}

func (b *NotificationBus) publish(topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to marshal notification payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.NewString(), body)
	if err := b.pub.Publish(topic, msg); err != nil {
		b.logger.Warn("failed to publish notification", zap.String("topic", topic), zap.Error(err))
	}
}

// PublishStateChange notifies collaborators that asset's engine moved to
// state.
func (b *NotificationBus) PublishStateChange(asset coretypes.Asset, state matching.State) {
	b.publish(TopicStateChange, stateChangeEvent{Asset: asset, State: state.String()})
}

// PublishFill notifies collaborators of a Place command's outcome. A result
// with TakerOutcome == NoFill and no makers is still published — market
// data fan-out out-of-scope collaborators decide what, if anything, to do
// with a no-op placement.
func (b *NotificationBus) PublishFill(asset coretypes.Asset, result *matching.PlaceResult) {
	b.publish(TopicFill, fillEvent{
		Asset:         asset,
		TakerOutcome:  result.TakerOutcome,
		MakerFills:    result.Makers,
		TakerCanceled: result.TakerCanceled,
	})
}
