package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social-realtime/internal/models"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
)

// GroupChanges describes an admin update of a group chat. Nil/empty fields are left untouched.
type GroupChanges struct {
	Name               *string
	Avatar             *models.MediaRef
	AddParticipants    []string
	RemoveParticipants []string
	UpdatedAt          time.Time
}

// ChatRepository abstracts conversation persistence. Every mutation is a
// single-document atomic update guarded by the membership or ownership
// condition it depends on; a guard miss reports ErrChatNotFound or
// ErrMessageNotFound.
type ChatRepository interface {
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	GetChatSummary(ctx context.Context, chatID string) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID string, userID string) (bool, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	CreateOrGetDirect(ctx context.Context, chat models.Chat) (models.Chat, bool, error)
	CreateChat(ctx context.Context, chat models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error
	AppendMessage(ctx context.Context, chatID string, msg models.Message) error
	MarkRead(ctx context.Context, chatID string, userID string, readAt time.Time) error
	SetReaction(ctx context.Context, chatID, messageID, userID string, emoji *string, at time.Time) (models.Message, error)
	EditMessage(ctx context.Context, chatID, messageID, editorID, text string, at time.Time) (models.Message, error)
	TombstoneMessage(ctx context.Context, chatID, messageID, requesterID string, at time.Time) (models.Message, error)
	MessagesPage(ctx context.Context, chatID string, skip, n int) ([]models.Message, error)
	UpdateGroup(ctx context.Context, chatID, adminID string, changes GroupChanges) (models.Chat, error)
}

// MongoChatRepo stores chats as documents with embedded messages.
type MongoChatRepo struct {
	col *mongo.Collection
}

// NewMongoChatRepo constructs a MongoChatRepo on the "chats" collection.
func NewMongoChatRepo(db *mongo.Database) *MongoChatRepo {
	return &MongoChatRepo{col: db.Collection("chats")}
}

var withoutMessages = bson.M{"messages": 0}

// GetChat fetches a chat with all of its messages.
func (r *MongoChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.col.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChatSummary fetches a chat without its embedded messages.
func (r *MongoChatRepo) GetChatSummary(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	opts := options.FindOne().SetProjection(withoutMessages)
	err := r.col.FindOne(ctx, bson.M{"_id": chatID}, opts).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsParticipant checks membership against the stored participant list.
func (r *MongoChatRepo) IsParticipant(ctx context.Context, chatID string, userID string) (bool, error) {
	var doc struct {
		Participants []string `bson:"participants"`
	}
	opts := options.FindOne().SetProjection(bson.M{"participants": 1})
	err := r.col.FindOne(ctx, bson.M{"_id": chatID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, ErrChatNotFound
	}
	if err != nil {
		return false, err
	}
	for _, p := range doc.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

// ListChats returns the user's chats, most recently active first, without messages.
func (r *MongoChatRepo) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	opts := options.Find().
		SetProjection(withoutMessages).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	chats := []models.Chat{}
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateOrGetDirect returns the existing direct chat for chat.DirectKey or inserts chat.
// The boolean reports whether a new chat was created.
func (r *MongoChatRepo) CreateOrGetDirect(ctx context.Context, chat models.Chat) (models.Chat, bool, error) {
	existing, err := r.findDirect(ctx, chat.DirectKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrChatNotFound) {
		return models.Chat{}, false, err
	}

	if _, err := r.col.InsertOne(ctx, normalizeChat(chat)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the race against a concurrent create for the same pair
			existing, err := r.findDirect(ctx, chat.DirectKey)
			return existing, false, err
		}
		return models.Chat{}, false, err
	}
	return chat, true, nil
}

func (r *MongoChatRepo) findDirect(ctx context.Context, key string) (models.Chat, error) {
	var chat models.Chat
	opts := options.FindOne().SetProjection(withoutMessages)
	err := r.col.FindOne(ctx, bson.M{"directKey": key}, opts).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// CreateChat inserts a new chat document.
func (r *MongoChatRepo) CreateChat(ctx context.Context, chat models.Chat) error {
	_, err := r.col.InsertOne(ctx, normalizeChat(chat))
	return err
}

// DeleteChat removes the chat document.
func (r *MongoChatRepo) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// AppendMessage pushes msg onto the message sequence if the sender is still a participant.
func (r *MongoChatRepo) AppendMessage(ctx context.Context, chatID string, msg models.Message) error {
	filter := bson.M{"_id": chatID, "participants": msg.Sender}
	update := bson.M{
		"$push": bson.M{"messages": normalizeMessage(msg)},
		"$set": bson.M{
			"lastMessage": msg.Preview(),
			"updatedAt":   msg.CreatedAt,
		},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// MarkRead adds a receipt for userID to every message that lacks one.
func (r *MongoChatRepo) MarkRead(ctx context.Context, chatID string, userID string, readAt time.Time) error {
	filter := bson.M{"_id": chatID, "participants": userID}
	update := bson.M{
		"$push": bson.M{"messages.$[m].readBy": models.ReadReceipt{User: userID, ReadAt: readAt}},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"m.readBy.user": bson.M{"$ne": userID}}},
	})
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// SetReaction replaces userID's reaction on a live message; a nil emoji only removes it.
func (r *MongoChatRepo) SetReaction(ctx context.Context, chatID, messageID, userID string, emoji *string, at time.Time) (models.Message, error) {
	added := bson.A{}
	if emoji != nil {
		added = bson.A{bson.M{
			"user":      bson.M{"$literal": userID},
			"emoji":     bson.M{"$literal": *emoji},
			"createdAt": at,
		}}
	}
	reactions := bson.M{"$concatArrays": bson.A{
		bson.M{"$filter": bson.M{
			"input": bson.M{"$ifNull": bson.A{"$$m.reactions", bson.A{}}},
			"as":    "r",
			"cond":  bson.M{"$ne": bson.A{"$$r.user", bson.M{"$literal": userID}}},
		}},
		added,
	}}

	filter := bson.M{
		"_id":          chatID,
		"participants": userID,
		"messages":     bson.M{"$elemMatch": bson.M{"_id": messageID, "isDeleted": false}},
	}
	return r.updateOneMessage(ctx, filter, messageID, bson.M{"reactions": reactions}, at)
}

// EditMessage archives the current text in the edit history and replaces it.
func (r *MongoChatRepo) EditMessage(ctx context.Context, chatID, messageID, editorID, text string, at time.Time) (models.Message, error) {
	fields := bson.M{
		"text":     bson.M{"$literal": text},
		"isEdited": true,
		"editHistory": bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$$m.editHistory", bson.A{}}},
			bson.A{bson.M{"text": "$$m.text", "editedAt": at}},
		}},
	}
	filter := bson.M{
		"_id":          chatID,
		"participants": editorID,
		"messages": bson.M{"$elemMatch": bson.M{
			"_id":         messageID,
			"sender":      editorID,
			"isDeleted":   false,
			"messageType": models.MessageTypeText,
		}},
	}
	return r.updateOneMessage(ctx, filter, messageID, fields, at)
}

// updateOneMessage merges fields into the embedded message with messageID in one pipeline update
// and returns the message as stored afterwards.
func (r *MongoChatRepo) updateOneMessage(ctx context.Context, filter bson.M, messageID string, fields bson.M, at time.Time) (models.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"updatedAt": at,
			"messages": bson.M{"$map": bson.M{
				"input": "$messages",
				"as":    "m",
				"in": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{"$$m._id", bson.M{"$literal": messageID}}},
					bson.M{"$mergeObjects": bson.A{"$$m", fields}},
					"$$m",
				}},
			}},
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"messages": bson.M{"$elemMatch": bson.M{"_id": messageID}}})

	var doc models.Chat
	err := r.col.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if len(doc.Messages) == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return doc.Messages[0], nil
}

// TombstoneMessage clears the content of a message owned by requesterID, keeping its position.
// It returns the message as it was before the update so callers can release its media.
func (r *MongoChatRepo) TombstoneMessage(ctx context.Context, chatID, messageID, requesterID string, at time.Time) (models.Message, error) {
	filter := bson.M{
		"_id":          chatID,
		"participants": requesterID,
		"messages":     bson.M{"$elemMatch": bson.M{"_id": messageID, "sender": requesterID}},
	}
	update := bson.M{
		"$set": bson.M{
			"messages.$[m].isDeleted": true,
			"messages.$[m].text":      nil,
			"messages.$[m].reactions": bson.A{},
			"updatedAt":               at,
		},
		"$unset": bson.M{
			"messages.$[m].image":  "",
			"messages.$[m].audio":  "",
			"messages.$[m].postId": "",
		},
	}
	opts := options.FindOneAndUpdate().
		SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"m._id": messageID}}}).
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"messages": bson.M{"$elemMatch": bson.M{"_id": messageID}}})

	var doc models.Chat
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if len(doc.Messages) == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return doc.Messages[0], nil
}

// MessagesPage returns up to n messages, newest first, skipping the newest skip messages.
func (r *MongoChatRepo) MessagesPage(ctx context.Context, chatID string, skip, n int) ([]models.Message, error) {
	if skip < 0 {
		// $slice counts a negative position from the end of the array.
		if _, err := r.GetChatSummary(ctx, chatID); err != nil {
			return nil, err
		}
		return []models.Message{}, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": chatID}}},
		{{Key: "$project", Value: bson.M{
			"messages": bson.M{"$slice": bson.A{bson.M{"$reverseArray": "$messages"}, skip, n}},
		}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []struct {
		Messages []models.Message `bson:"messages"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrChatNotFound
	}
	return docs[0].Messages, nil
}

// UpdateGroup applies changes to a group chat administered by adminID.
func (r *MongoChatRepo) UpdateGroup(ctx context.Context, chatID, adminID string, changes GroupChanges) (models.Chat, error) {
	set := bson.M{"updatedAt": changes.UpdatedAt}
	if changes.Name != nil {
		set["groupName"] = bson.M{"$literal": *changes.Name}
	}
	if changes.Avatar != nil {
		set["groupAvatar"] = bson.M{"$literal": changes.Avatar}
	}
	if len(changes.AddParticipants) > 0 || len(changes.RemoveParticipants) > 0 {
		add := nonNil(changes.AddParticipants)
		remove := nonNil(changes.RemoveParticipants)
		set["participants"] = bson.M{"$setDifference": bson.A{
			bson.M{"$setUnion": bson.A{"$participants", bson.M{"$literal": add}}},
			bson.M{"$literal": remove},
		}}
		set["admins"] = bson.M{"$setDifference": bson.A{
			bson.M{"$ifNull": bson.A{"$admins", bson.A{}}},
			bson.M{"$literal": remove},
		}}
	}

	filter := bson.M{"_id": chatID, "isGroup": true, "admins": adminID}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(withoutMessages)

	var chat models.Chat
	err := r.col.FindOneAndUpdate(ctx, filter, mongo.Pipeline{{{Key: "$set", Value: set}}}, opts).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// normalizeChat replaces nil slices so array operators never meet a null field.
func normalizeChat(chat models.Chat) models.Chat {
	if chat.Participants == nil {
		chat.Participants = []string{}
	}
	if chat.Messages == nil {
		chat.Messages = []models.Message{}
	}
	for i := range chat.Messages {
		chat.Messages[i] = normalizeMessage(chat.Messages[i])
	}
	return chat
}

func normalizeMessage(msg models.Message) models.Message {
	if msg.EditHistory == nil {
		msg.EditHistory = []models.EditEntry{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []models.ReadReceipt{}
	}
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	return msg
}
