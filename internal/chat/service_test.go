package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-realtime/internal/models"
	"social-realtime/internal/observability"
	"social-realtime/internal/repositories"
	"social-realtime/internal/storage"
)

type recordedEvent struct {
	Target  string
	Event   string
	Payload any
	Exclude string
}

type fakeRooms struct {
	mu     sync.Mutex
	events []recordedEvent
	inRoom map[string]bool
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{inRoom: map[string]bool{}}
}

func (f *fakeRooms) Broadcast(chatID, event string, payload any, exclude string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Target: "room:" + chatID, Event: event, Payload: payload, Exclude: exclude})
}

func (f *fakeRooms) SendToUser(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Target: "user:" + userID, Event: event, Payload: payload})
}

func (f *fakeRooms) UserInRoom(userID, chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inRoom[userID+"|"+chatID]
}

func (f *fakeRooms) join(userID, chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inRoom[userID+"|"+chatID] = true
}

func (f *fakeRooms) byEvent(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakePresence map[string]bool

func (p fakePresence) IsOnline(userID string) bool { return p[userID] }

type capturedPublish struct {
	RoutingKey string
	Event      any
}

type fakePublisher struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedPublish{RoutingKey: routingKey, Event: event})
	return nil
}

type fixture struct {
	svc      *Service
	chats    *repositories.MemoryChatRepo
	users    *repositories.MemoryUserRepo
	media    *storage.MemoryStore
	rooms    *fakeRooms
	presence fakePresence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		chats: repositories.NewMemoryChatRepo(),
		users: repositories.NewMemoryUserRepo(
			models.User{ID: "alice", Username: "alice", AvatarURL: "https://cdn/alice.png"},
			models.User{ID: "bob", Username: "bob"},
			models.User{ID: "carol", Username: "carol"},
			models.User{ID: "dave", Username: "dave"},
		),
		media:    storage.NewMemoryStore(),
		rooms:    newFakeRooms(),
		presence: fakePresence{},
	}
	f.svc = NewService(Options{
		Chats:    f.chats,
		Users:    f.users,
		Media:    f.media,
		Rooms:    f.rooms,
		Presence: f.presence,
	})

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func (f *fixture) direct(t *testing.T, a, b string) string {
	t.Helper()
	chat, _, err := f.svc.StartDirect(context.Background(), a, b)
	require.NoError(t, err)
	return chat.ID
}

func (f *fixture) sendText(t *testing.T, chatID, sender, text string) models.MessageView {
	t.Helper()
	view, err := f.svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Text: &text, Origin: "conn-" + sender})
	require.NoError(t, err)
	return view
}

func (f *fixture) stored(t *testing.T, chatID, messageID string) models.Message {
	t.Helper()
	chat, err := f.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	idx := chat.MessageIndex(messageID)
	require.GreaterOrEqual(t, idx, 0)
	return chat.Messages[idx]
}

func strPtr(s string) *string { return &s }

func TestSendAppendsAndBroadcastsExcludingOrigin(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")

	first := f.sendText(t, chatID, "alice", "hi")
	second := f.sendText(t, chatID, "bob", "hey")

	assert.Equal(t, "alice", first.Sender)
	assert.Equal(t, "alice", first.SenderInfo.Username)
	assert.Equal(t, "https://cdn/alice.png", first.SenderInfo.AvatarURL)
	assert.False(t, first.IsEdited)
	assert.True(t, first.ReadByUser("alice"))
	assert.NotEqual(t, first.ID, second.ID)

	chat, err := f.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, first.ID, chat.Messages[0].ID)
	assert.Equal(t, second.ID, chat.Messages[1].ID)
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, second.ID, chat.LastMessage.MessageID)

	events := f.rooms.byEvent(models.EventNewMessage)
	require.Len(t, events, 2)
	assert.Equal(t, "room:"+chatID, events[0].Target)
	assert.Equal(t, "conn-alice", events[0].Exclude)
	payload := events[0].Payload.(models.NewMessagePayload)
	assert.Equal(t, "hi", *payload.Message.Text)
	assert.Equal(t, "alice", payload.Message.SenderInfo.ID)
}

func TestSendFailures(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendInput{ChatID: chatID, SenderID: "carol", Text: strPtr("hi")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Send(ctx, SendInput{ChatID: "missing", SenderID: "alice", Text: strPtr("hi")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Send(ctx, SendInput{ChatID: chatID, SenderID: "alice", Text: strPtr("   ")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Send(ctx, SendInput{ChatID: chatID, SenderID: "alice", Text: strPtr("hi"), PostID: "p1"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, f.rooms.byEvent(models.EventNewMessage))
}

func TestSendPostAndImage(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")

	post, err := f.svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: "alice", PostID: "post-1"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypePost, post.MessageType)
	assert.Nil(t, post.Text)

	image, err := f.svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: "bob", Image: &models.MediaRef{URL: "https://cdn/cat.png"}})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, image.MessageType)
}

func TestEditTwiceKeepsHistory(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	msg := f.sendText(t, chatID, "alice", "hi")
	ctx := context.Background()

	edited, err := f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: msg.ID, UserID: "alice", Text: "hello", Origin: "conn-alice"})
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "hello", *edited.Text)
	require.Len(t, edited.EditHistory, 1)
	assert.Equal(t, "hi", edited.EditHistory[0].Text)

	edited, err = f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: msg.ID, UserID: "alice", Text: "hello there"})
	require.NoError(t, err)
	require.Len(t, edited.EditHistory, 2)
	assert.Equal(t, "hi", edited.EditHistory[0].Text)
	assert.Equal(t, "hello", edited.EditHistory[1].Text)
	assert.True(t, edited.EditHistory[0].EditedAt.Before(edited.EditHistory[1].EditedAt))

	events := f.rooms.byEvent(models.EventMessageEdited)
	require.Len(t, events, 2)
	assert.Equal(t, "conn-alice", events[0].Exclude)
	assert.Equal(t, "hello", *events[0].Payload.(models.MessageEditedPayload).Message.Text)
}

func TestOnlySenderMayEditOrDelete(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	msg := f.sendText(t, chatID, "alice", "hi")
	ctx := context.Background()

	_, err := f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Text: "hacked"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Delete(ctx, DeleteInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: msg.ID, UserID: "carol", Text: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: "nope", UserID: "alice", Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	stored := f.stored(t, chatID, msg.ID)
	assert.Equal(t, "hi", *stored.Text)
	assert.False(t, stored.IsEdited)
	assert.False(t, stored.IsDeleted)
	assert.Empty(t, f.rooms.byEvent(models.EventMessageEdited))
	assert.Empty(t, f.rooms.byEvent(models.EventMessageDeleted))
}

func TestReactReplacesAndClears(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	msg := f.sendText(t, chatID, "alice", "hi")
	ctx := context.Background()

	_, err := f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Emoji: strPtr("👍")})
	require.NoError(t, err)
	update, err := f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Emoji: strPtr("❤️")})
	require.NoError(t, err)
	require.Len(t, update.Reactions, 1)
	assert.Equal(t, "bob", update.Reactions[0].User)
	assert.Equal(t, "❤️", update.Reactions[0].Emoji)

	_, err = f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "alice", Emoji: strPtr("😂")})
	require.NoError(t, err)

	update, err = f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Emoji: nil})
	require.NoError(t, err)
	require.Len(t, update.Reactions, 1)
	assert.Equal(t, "alice", update.Reactions[0].User)

	_, err = f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "carol", Emoji: strPtr("👍")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Emoji: strPtr("  ")})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Len(t, f.rooms.byEvent(models.EventReactionUpdate), 4)
}

func TestDeleteTombstonesInPlace(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	first := f.sendText(t, chatID, "alice", "secret")
	second := f.sendText(t, chatID, "bob", "reply")
	ctx := context.Background()

	_, err := f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: first.ID, UserID: "bob", Emoji: strPtr("👍")})
	require.NoError(t, err)

	payload, err := f.svc.Delete(ctx, DeleteInput{ChatID: chatID, MessageID: first.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, payload.MessageID)

	chat, err := f.chats.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, first.ID, chat.Messages[0].ID)
	assert.Equal(t, second.ID, chat.Messages[1].ID)
	assert.True(t, chat.Messages[0].IsDeleted)
	assert.Nil(t, chat.Messages[0].Text)
	assert.Empty(t, chat.Messages[0].Reactions)
	assert.Equal(t, "alice", chat.Messages[0].Sender)

	_, err = f.svc.MarkRead(ctx, chatID, "bob", "")
	require.NoError(t, err)
	assert.True(t, f.stored(t, chatID, first.ID).ReadByUser("bob"))

	_, err = f.svc.Delete(ctx, DeleteInput{ChatID: chatID, MessageID: first.ID, UserID: "alice"})
	assert.NoError(t, err, "deleting twice is idempotent")

	_, err = f.svc.React(ctx, ReactInput{ChatID: chatID, MessageID: first.ID, UserID: "bob", Emoji: strPtr("👍")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Edit(ctx, EditInput{ChatID: chatID, MessageID: first.ID, UserID: "alice", Text: "again"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMarkReadAddsOneReceiptPerUser(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	msg := f.sendText(t, chatID, "alice", "hi")
	ctx := context.Background()

	payload, err := f.svc.MarkRead(ctx, chatID, "bob", "conn-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", payload.UserID)
	_, err = f.svc.MarkRead(ctx, chatID, "bob", "conn-bob")
	require.NoError(t, err)

	stored := f.stored(t, chatID, msg.ID)
	count := 0
	for _, r := range stored.ReadBy {
		if r.User == "bob" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	_, err = f.svc.MarkRead(ctx, chatID, "carol", "")
	assert.ErrorIs(t, err, ErrForbidden)

	events := f.rooms.byEvent(models.EventMessageRead)
	require.Len(t, events, 2)
	assert.Equal(t, "conn-bob", events[0].Exclude)
}

func TestSearchMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	older := f.sendText(t, chatID, "alice", "Lunch tomorrow?")
	f.sendText(t, chatID, "bob", "sure")
	newer := f.sendText(t, chatID, "bob", "what about LUNCH at noon")
	gone := f.sendText(t, chatID, "alice", "lunch is cancelled")
	ctx := context.Background()

	_, err := f.svc.Delete(ctx, DeleteInput{ChatID: chatID, MessageID: gone.ID, UserID: "alice"})
	require.NoError(t, err)

	results, err := f.svc.Search(ctx, chatID, "bob", "lunch")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].ID)
	assert.Equal(t, older.ID, results[1].ID)

	_, err = f.svc.Search(ctx, chatID, "bob", " ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Search(ctx, chatID, "carol", "lunch")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConcurrentSendsKeepEveryMessage(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				text := fmt.Sprintf("%s-%d", sender, i)
				_, err := f.svc.Send(context.Background(), SendInput{ChatID: chatID, SenderID: sender, Text: &text})
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	chat, err := f.chats.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2*perSender)

	ids := map[string]bool{}
	next := map[string]int{}
	for _, m := range chat.Messages {
		assert.False(t, ids[m.ID], "duplicate id")
		ids[m.ID] = true
		assert.Equal(t, fmt.Sprintf("%s-%d", m.Sender, next[m.Sender]), *m.Text, "per-sender order")
		next[m.Sender]++
	}
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	var sent []models.MessageView
	for i := 0; i < 5; i++ {
		sent = append(sent, f.sendText(t, chatID, "alice", fmt.Sprintf("m%d", i)))
	}
	ctx := context.Background()

	page, err := f.svc.History(ctx, chatID, "bob", 1, 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, sent[3].ID, page.Messages[0].ID)
	assert.Equal(t, sent[4].ID, page.Messages[1].ID)
	assert.Equal(t, "alice", page.Messages[0].SenderInfo.Username)

	page, err = f.svc.History(ctx, chatID, "bob", 3, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent[0].ID, page.Messages[0].ID)

	page, err = f.svc.History(ctx, chatID, "bob", 1, 5)
	require.NoError(t, err)
	assert.False(t, page.HasMore, "exactly limit messages means no more")

	page, err = f.svc.History(ctx, chatID, "bob", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Messages, 5)

	_, err = f.svc.History(ctx, chatID, "carol", 1, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHistoryRejectsOverflowingPage(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	f.sendText(t, chatID, "alice", "hi")
	ctx := context.Background()

	_, err := f.svc.History(ctx, chatID, "alice", 4611686018427387904, 4)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.History(ctx, chatID, "alice", math.MaxInt, 100)
	assert.ErrorIs(t, err, ErrValidation)

	page, err := f.svc.History(ctx, chatID, "alice", 1000, 100)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestSendNotifiesParticipantsOutsideRoom(t *testing.T) {
	f := newFixture(t)
	pub := &fakePublisher{}
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	group, err := f.svc.CreateGroup(context.Background(), "alice", "team", []string{"bob", "carol", "dave"})
	require.NoError(t, err)

	f.presence["bob"] = true
	f.presence["carol"] = true
	f.rooms.join("carol", group.ID)

	f.sendText(t, group.ID, "alice", "standup")

	var notified []string
	for _, e := range f.rooms.byEvent(models.EventNewNotification) {
		notified = append(notified, e.Target)
	}
	assert.Equal(t, []string{"user:bob"}, notified)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.published, 1)
	assert.Equal(t, "notifications.message", pub.published[0].RoutingKey)
	envelope := pub.published[0].Event.(observability.EventEnvelope)
	body := envelope.Payload.(map[string]interface{})
	assert.Equal(t, []string{"dave"}, body["recipients"])
}

func TestSendVoiceUploadsAudio(t *testing.T) {
	f := newFixture(t)
	chatID := f.direct(t, "alice", "bob")
	data := "data:audio/ogg;base64," + base64.StdEncoding.EncodeToString([]byte("OggS-voice"))

	view, err := f.svc.SendVoice(context.Background(), VoiceInput{ChatID: chatID, SenderID: "alice", AudioData: data})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeAudio, view.MessageType)
	require.NotNil(t, view.Audio)
	assert.Contains(t, view.Audio.Key, "chats/"+chatID+"/audio/")
	assert.Contains(t, view.Audio.Key, ".ogg")
	assert.True(t, f.media.Has(view.Audio.Key))

	_, err = f.svc.SendVoice(context.Background(), VoiceInput{ChatID: chatID, SenderID: "alice", AudioData: "%%%"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SendVoice(context.Background(), VoiceInput{ChatID: chatID, SenderID: "carol", AudioData: data})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Delete(context.Background(), DeleteInput{ChatID: chatID, MessageID: view.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, f.media.Has(view.Audio.Key))
}

func TestStartDirectIsUniquePerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, created, err := f.svc.StartDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, chat.IsGroup)
	assert.ElementsMatch(t, []string{"alice", "bob"}, chat.Participants)

	again, created, err := f.svc.StartDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, again.ID)

	_, _, err = f.svc.StartDirect(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrValidation)
	_, _, err = f.svc.StartDirect(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChatsMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	older := f.direct(t, "alice", "bob")
	newer := f.direct(t, "alice", "carol")
	f.sendText(t, newer, "carol", "ping")
	f.sendText(t, older, "bob", "pong")

	chats, err := f.svc.ListChats(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, older, chats[0].ID)
	assert.Empty(t, chats[0].Messages)
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGroup(ctx, "alice", "team", []string{"bob", "alice"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateGroup(ctx, "alice", " ", []string{"bob", "carol"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateGroup(ctx, "alice", "team", []string{"bob", "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	group, err := f.svc.CreateGroup(ctx, "alice", "team", []string{"bob", "carol", "bob"})
	require.NoError(t, err)
	assert.True(t, group.IsGroup)
	assert.Equal(t, []string{"alice", "bob", "carol"}, group.Participants)
	assert.Equal(t, []string{"alice"}, group.Admins)
	require.Len(t, group.Messages, 1)
	assert.Equal(t, models.MessageTypeSystem, group.Messages[0].MessageType)
	assert.Len(t, f.rooms.byEvent(models.EventGroupUpdated), 2)
}

func TestUpdateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, "alice", "team", []string{"bob", "carol"})
	require.NoError(t, err)

	_, err = f.svc.UpdateGroup(ctx, GroupUpdate{ChatID: group.ID, UserID: "bob", Name: strPtr("mine")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateGroup(ctx, GroupUpdate{ChatID: group.ID, UserID: "alice", RemoveParticipants: []string{"alice"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateGroup(ctx, GroupUpdate{ChatID: group.ID, UserID: "alice"})
	assert.ErrorIs(t, err, ErrValidation)

	avatar := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	updated, err := f.svc.UpdateGroup(ctx, GroupUpdate{
		ChatID:             group.ID,
		UserID:             "alice",
		Name:               strPtr("renamed"),
		AvatarData:         "data:image/png;base64," + avatar,
		AddParticipants:    []string{"dave"},
		RemoveParticipants: []string{"carol"},
		Origin:             "conn-alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.GroupName)
	assert.ElementsMatch(t, []string{"alice", "bob", "dave"}, updated.Participants)
	require.NotNil(t, updated.GroupAvatar)
	assert.True(t, f.media.Has(updated.GroupAvatar.Key))

	var targets []string
	for _, e := range f.rooms.byEvent(models.EventGroupUpdated) {
		targets = append(targets, e.Target)
	}
	assert.Contains(t, targets, "room:"+group.ID)
	assert.Contains(t, targets, "user:dave")
	assert.Contains(t, targets, "user:carol")

	_, err = f.svc.Send(ctx, SendInput{ChatID: group.ID, SenderID: "carol", Text: strPtr("still here?")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteChatRemovesMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatID := f.direct(t, "alice", "bob")
	voice, err := f.svc.SendVoice(ctx, VoiceInput{ChatID: chatID, SenderID: "alice", AudioData: base64.StdEncoding.EncodeToString([]byte("voice"))})
	require.NoError(t, err)

	group, err := f.svc.CreateGroup(ctx, "alice", "team", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteChat(ctx, group.ID, "bob"), ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteChat(ctx, chatID, "carol"), ErrForbidden)

	require.NoError(t, f.svc.DeleteChat(ctx, chatID, "bob"))
	assert.False(t, f.media.Has(voice.Audio.Key))
	_, err = f.chats.GetChat(ctx, chatID)
	assert.ErrorIs(t, err, repositories.ErrChatNotFound)

	assert.ErrorIs(t, f.svc.DeleteChat(ctx, chatID, "bob"), ErrNotFound)
}

func TestPublicMessageHidesPersistenceCause(t *testing.T) {
	assert.Equal(t, "operation failed", PublicMessage(ErrPersistence))
	assert.Equal(t, "operation failed", PublicMessage(fmt.Errorf("boom")))
	assert.Equal(t, "forbidden: nope", PublicMessage(fmt.Errorf("%w: nope", ErrForbidden)))
}
