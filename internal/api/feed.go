package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/yieldloop/yieldloop/internal/infra/bus"
)

// feedTopics are the event topics relayed to SSE clients.
var feedTopics = []string{
	bus.TopicBalanceUpdate,
	bus.TopicForcedUpdate,
	bus.TopicDailyLimit,
	bus.TopicBotState,
	bus.TopicDormancy,
}

// Feed relays bus events to dashboard clients via Server-Sent Events.
// SSE is used instead of WebSocket for simplicity and HTTP/2
// compatibility.
type Feed struct {
	bus *bus.Bus
	log *logrus.Logger
}

// NewFeed creates the live event feed.
func NewFeed(b *bus.Bus, log *logrus.Logger) *Feed {
	return &Feed{bus: b, log: log}
}

// sseEvent is the wire shape of one feed message.
type sseEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// HandleSSE serves the live event feed. Each client gets its own bus
// subscriptions; a slow client drops events rather than backing up the
// publishers.
func (f *Feed) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	merged := make(chan bus.Event, 32)
	for _, topic := range feedTopics {
		ch, unsub := f.bus.Subscribe(topic)
		defer unsub()
		go func(ch <-chan bus.Event) {
			for ev := range ch {
				select {
				case merged <- ev:
				default:
				}
			}
		}(ch)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-merged:
			data, err := json.Marshal(sseEvent{Topic: ev.Topic, Payload: ev.Payload})
			if err != nil {
				f.log.WithError(err).Warn("feed: event marshal failed")
				continue
			}
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
