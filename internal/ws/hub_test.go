package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-realtime/internal/auth"
	"social-realtime/internal/chat"
	"social-realtime/internal/mocks"
	"social-realtime/internal/models"
	"social-realtime/internal/repositories"
)

func testClient(connID, userID string, buffer int) *Client {
	return newClient(nil, ConnInfo{ConnID: connID, UserID: userID}, auth.Identity{UserID: userID, Username: userID}, buffer)
}

func nextFrame(t *testing.T, c *Client) models.Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	default:
		t.Fatalf("expected a queued frame for %s", c.ConnID())
		return models.Envelope{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame for %s: %s", c.ConnID(), frame)
	default:
	}
}

func TestHubJoinChecksMembership(t *testing.T) {
	repo := new(mocks.ChatRepositoryMock)
	repo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	repo.On("IsParticipant", mock.Anything, "c1", "mallory").Return(false, nil).Once()
	repo.On("IsParticipant", mock.Anything, "missing", "alice").Return(false, repositories.ErrChatNotFound).Once()

	hub := NewHub(repo, nil)
	alice := testClient("a1", "alice", 4)
	mallory := testClient("m1", "mallory", 4)
	hub.Register(alice)
	hub.Register(mallory)

	require.NoError(t, hub.Join(context.Background(), alice, "c1"))
	assert.ErrorIs(t, hub.Join(context.Background(), mallory, "c1"), chat.ErrForbidden)
	assert.ErrorIs(t, hub.Join(context.Background(), alice, "missing"), chat.ErrNotFound)

	assert.True(t, hub.InRoom(alice, "c1"))
	assert.False(t, hub.InRoom(mallory, "c1"))

	hub.Broadcast("c1", models.EventNewMessage, map[string]string{"text": "hi"}, "")
	assert.Equal(t, models.EventNewMessage, nextFrame(t, alice).Event)
	assertNoFrame(t, mallory)

	repo.AssertExpectations(t)
}

func TestHubBroadcastExcludesOrigin(t *testing.T) {
	repo := new(mocks.ChatRepositoryMock)
	repo.On("IsParticipant", mock.Anything, "c1", mock.Anything).Return(true, nil)

	hub := NewHub(repo, nil)
	phone := testClient("a1", "alice", 4)
	laptop := testClient("a2", "alice", 4)
	bob := testClient("b1", "bob", 4)
	for _, c := range []*Client{phone, laptop, bob} {
		hub.Register(c)
		require.NoError(t, hub.Join(context.Background(), c, "c1"))
	}

	hub.Broadcast("c1", models.EventNewMessage, map[string]string{"text": "hi"}, phone.ConnID())
	assertNoFrame(t, phone)
	assert.Equal(t, models.EventNewMessage, nextFrame(t, laptop).Event)
	assert.Equal(t, models.EventNewMessage, nextFrame(t, bob).Event)

	hub.SendToUser("alice", models.EventNewNotification, map[string]string{})
	assert.Equal(t, models.EventNewNotification, nextFrame(t, phone).Event)
	assert.Equal(t, models.EventNewNotification, nextFrame(t, laptop).Event)
	assertNoFrame(t, bob)

	hub.BroadcastAll(models.EventUserOnline, []string{"alice", "bob"})
	for _, c := range []*Client{phone, laptop, bob} {
		assert.Equal(t, models.EventUserOnline, nextFrame(t, c).Event)
	}
}

func TestHubLeaveAndUnregister(t *testing.T) {
	repo := new(mocks.ChatRepositoryMock)
	repo.On("IsParticipant", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	hub := NewHub(repo, nil)
	alice := testClient("a1", "alice", 4)
	hub.Register(alice)
	require.NoError(t, hub.Join(context.Background(), alice, "c1"))
	require.NoError(t, hub.Join(context.Background(), alice, "c2"))

	hub.Leave(alice, "c1")
	hub.Leave(alice, "c1")
	hub.Leave(alice, "never-joined")
	assert.False(t, hub.InRoom(alice, "c1"))
	assert.True(t, hub.UserInRoom("alice", "c2"))

	hub.Unregister(alice)
	assert.False(t, hub.UserInRoom("alice", "c2"))
	assert.Equal(t, 0, hub.ClientCount())
	assert.Empty(t, hub.rooms)

	assert.ErrorIs(t, hub.Join(context.Background(), alice, "c1"), chat.ErrValidation)
}

func TestHubClosesSlowConsumer(t *testing.T) {
	hub := NewHub(new(mocks.ChatRepositoryMock), nil)
	slow := testClient("s1", "slow", 1)
	hub.Register(slow)

	hub.SendToUser("slow", models.EventUserOnline, []string{})
	hub.SendToUser("slow", models.EventUserOnline, []string{})

	require.Eventually(t, func() bool {
		select {
		case <-slow.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "slow consumer", slow.closeReason())
}
