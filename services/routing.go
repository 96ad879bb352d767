package services

import (
	"context"
	"fmt"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/google/uuid"
)

// RoutingMode selects how a turn reaches the answer producer
type RoutingMode string

const (
	// RoutingDirectChat sends the turn without topic scoping
	RoutingDirectChat RoutingMode = "direct_chat"
	// RoutingTopicRouted scopes retrieval to a resolved topic
	RoutingTopicRouted RoutingMode = "topic_routed"
)

// AnswerProducer is the downstream service that writes answers
type AnswerProducer interface {
	Produce(ctx context.Context, req answer.Request) (*answer.Answer, error)
}

// TopicResolver maps a hint to a topic; nil topic means no match
type TopicResolver interface {
	Resolve(ctx context.Context, hint string) (*model.Topic, error)
}

// Route is decided once per turn and does not change mid-flight
type Route struct {
	Mode  RoutingMode
	Topic *model.Topic
}

// TopicID returns the routed topic id, nil for direct chat
func (r Route) TopicID() *uint {
	if r.Mode != RoutingTopicRouted || r.Topic == nil {
		return nil
	}
	id := r.Topic.ID
	return &id
}

// routeFor picks topic-routed mode when a topic resolved, direct chat otherwise
func routeFor(topic *model.Topic) Route {
	if topic != nil {
		return Route{Mode: RoutingTopicRouted, Topic: topic}
	}
	return Route{Mode: RoutingDirectChat}
}

// producerCall carries what every routing strategy sends
type producerCall struct {
	Query     string
	Context   *ConversationContext
	UserID    string
	SessionID uuid.UUID
}

// invoke calls the producer with the request shape of the route's mode
func (r Route) invoke(ctx context.Context, producer AnswerProducer, call producerCall) (*answer.Answer, error) {
	req := answer.Request{
		Query:       call.Query,
		RoutingMode: string(r.Mode),
		UserID:      call.UserID,
		SessionID:   call.SessionID.String(),
	}
	if call.Context != nil {
		req.Context = call.Context
	}

	switch r.Mode {
	case RoutingDirectChat:
		return producer.Produce(ctx, req)
	case RoutingTopicRouted:
		if r.Topic == nil {
			return nil, fmt.Errorf("topic-routed turn has no topic")
		}
		req.TopicID = r.TopicID()
		req.TopicName = r.Topic.Name
		return producer.Produce(ctx, req)
	default:
		return nil, fmt.Errorf("unknown routing mode %q", r.Mode)
	}
}
