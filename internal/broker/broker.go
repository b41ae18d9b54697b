// Package broker republishes the event channel's raw topic streams as
// four typed broadcast streams, one per quiz lifecycle kind. Any number
// of view reactors may listen on each; a malformed inbound event is
// dropped and logged, never fatal to the stream.
package broker

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

// TopicSource yields one FIFO stream of raw payloads per named topic.
// The event channel implements it; topic channels close on teardown.
type TopicSource interface {
	Topic(name string) <-chan json.RawMessage
}

type Broker struct {
	log      zerolog.Logger
	created  *Stream
	approved *Stream
	rejected *Stream
	deleted  *Stream
}

// New wires a broker to the source and starts one pump per lifecycle
// topic. The pumps exit when the source closes its topic channels.
func New(src TopicSource, log zerolog.Logger) *Broker {
	b := &Broker{
		log:      log,
		created:  NewStream(),
		approved: NewStream(),
		rejected: NewStream(),
		deleted:  NewStream(),
	}
	for _, topic := range quiz.Topics() {
		kind, _ := quiz.KindForTopic(topic)
		go b.pump(topic, kind, src.Topic(topic))
	}
	return b
}

func (b *Broker) OnCreated() *Stream  { return b.created }
func (b *Broker) OnApproved() *Stream { return b.approved }
func (b *Broker) OnRejected() *Stream { return b.rejected }
func (b *Broker) OnDeleted() *Stream  { return b.deleted }

// StreamFor returns the broadcast stream for the given kind.
func (b *Broker) StreamFor(kind quiz.Kind) *Stream {
	switch kind {
	case quiz.Created:
		return b.created
	case quiz.Approved:
		return b.approved
	case quiz.Rejected:
		return b.rejected
	default:
		return b.deleted
	}
}

func (b *Broker) pump(topic string, kind quiz.Kind, in <-chan json.RawMessage) {
	stream := b.StreamFor(kind)
	for raw := range in {
		ev, err := decode(kind, raw)
		if err != nil {
			b.log.Warn().Str("topic", topic).Err(err).Msg("dropping malformed event")
			continue
		}
		stream.Publish(ev)
	}
}

// wirePayload is the inbound lifecycle payload: at least a quiz ID
// (under either key the gateway uses), optionally a title and timestamp.
type wirePayload struct {
	QuizID     quiz.ID   `json:"quizId"`
	AltID      quiz.ID   `json:"_id"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurredAt"`
}

type malformedEventError struct{ reason string }

func (e *malformedEventError) Error() string { return "malformed event: " + e.reason }

func decode(kind quiz.Kind, raw json.RawMessage) (quiz.LifecycleEvent, error) {
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return quiz.LifecycleEvent{}, err
	}
	id := p.QuizID
	if id == "" {
		id = p.AltID
	}
	if id == "" {
		return quiz.LifecycleEvent{}, &malformedEventError{reason: "missing quiz id"}
	}
	occurred := p.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	// A missing title stays empty; filling in a display value is a
	// presentation concern.
	return quiz.LifecycleEvent{
		Kind:       kind,
		QuizID:     id,
		Title:      p.Title,
		OccurredAt: occurred,
	}, nil
}
