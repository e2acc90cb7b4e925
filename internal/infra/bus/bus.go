// Package bus implements the in-process publish/subscribe fan-out used to
// decouple the engines from each other and from the API surface.
//
// Delivery is at-most-once per subscriber per publish: a subscriber whose
// buffer is full simply misses the event. The bus carries no business
// authority — ledger mutations are always durable before the matching
// event is published, so a lost event can never leave state inconsistent.
package bus

import "sync"

// Topic names.
const (
	TopicBalanceUpdate = "balance:update"
	TopicForcedUpdate  = "balance:forced-update"
	TopicDailyLimit    = "daily-limit:reached"
	TopicBotState      = "bot:state"
	TopicDormancy      = "dormancy:penalty"
)

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
}

// BalanceUpdate is the payload for TopicBalanceUpdate and TopicForcedUpdate.
type BalanceUpdate struct {
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`  // signed delta
	Balance   float64 `json:"balance"` // resulting local balance
	Animate   bool    `json:"animate"`
}

// DailyLimitReached is the payload for TopicDailyLimit.
type DailyLimitReached struct {
	AccountID    string  `json:"account_id"`
	Subscription string  `json:"subscription"`
	Limit        float64 `json:"limit"`
	CurrentGains float64 `json:"current_gains"`
}

// BotState is the payload for TopicBotState.
type BotState struct {
	AccountID string `json:"account_id"`
	Active    bool   `json:"active"`
	Reason    string `json:"reason"`
}

// DormancyPenalty is the payload for TopicDormancy.
type DormancyPenalty struct {
	AccountID string  `json:"account_id"`
	Stage     int     `json:"stage"`
	Amount    float64 `json:"amount"`
	Remaining float64 `json:"remaining"`
}

// ─── Bus ────────────────────────────────────────────────────────────────────

type subscriber struct {
	id int
	ch chan Event
}

// Bus is a synchronous, single-process topic fan-out.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Publish delivers an event to every current subscriber of the topic.
// Never blocks: a subscriber whose buffer is full drops the event.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Subscriber too slow — drop message
		}
	}
}

// Subscribe registers a handler channel for a topic. Returns the channel
// and an unsubscribe func. There is no replay: events published before
// Subscribe are not seen.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := subscriber{id: b.nextID, ch: make(chan Event, 32)}
	b.subs[topic] = append(b.subs[topic], s)

	id := s.id
	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, sub := range list {
			if sub.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
