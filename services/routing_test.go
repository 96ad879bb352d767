package services

import (
	"context"
	"testing"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteFor(t *testing.T) {
	direct := routeFor(nil)
	assert.Equal(t, RoutingDirectChat, direct.Mode)
	assert.Nil(t, direct.TopicID())

	routed := routeFor(&model.Topic{ID: 4, Name: "Billing"})
	assert.Equal(t, RoutingTopicRouted, routed.Mode)
	require.NotNil(t, routed.TopicID())
	assert.EqualValues(t, 4, *routed.TopicID())
}

func TestRouteInvoke(t *testing.T) {
	producer := replyWith("ok")
	ctx := context.Background()
	call := producerCall{Query: "q", UserID: "u1", SessionID: uuid.New()}

	_, err := routeFor(nil).invoke(ctx, producer, call)
	require.NoError(t, err)
	req := producer.lastCall(t)
	assert.Equal(t, "direct_chat", req.RoutingMode)
	assert.Nil(t, req.Context, "no context is sent when assembly failed")
	assert.Empty(t, req.TopicName)

	call.Context = &ConversationContext{SessionID: call.SessionID}
	_, err = routeFor(&model.Topic{ID: 9, Name: "Sales"}).invoke(ctx, producer, call)
	require.NoError(t, err)
	req = producer.lastCall(t)
	assert.Equal(t, "topic_routed", req.RoutingMode)
	assert.Equal(t, "Sales", req.TopicName)
	assert.NotNil(t, req.Context)

	_, err = Route{Mode: "broadcast"}.invoke(ctx, producer, call)
	assert.Error(t, err)
	_, err = Route{Mode: RoutingTopicRouted}.invoke(ctx, producer, call)
	assert.Error(t, err)
}
