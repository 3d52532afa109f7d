package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/database"
)

// errNoMatch 条件更新没有命中文档，需要再查一次区分原因
var errNoMatch = errors.New("no document matched")

const mongoWriteConflict = 112

// EnsureIndexes 创建查询依赖的索引
func EnsureIndexes(ctx context.Context, db *database.MongoDB) error {
	if err := db.EnsureIndexes(ctx, model.CollectionMessages,
		mongo.IndexModel{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "created_at", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "author_id", Value: 1}}},
	); err != nil {
		return err
	}
	return db.EnsureIndexes(ctx, model.CollectionNotifications,
		mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	)
}

// wrapMongoErr 写冲突统一转换为 ErrConflict，交给上层重试
func wrapMongoErr(op string, err error) error {
	if isWriteConflict(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isWriteConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == mongoWriteConflict || cmdErr.HasErrorLabel("TransientTransactionError")
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == mongoWriteConflict {
				return true
			}
		}
	}
	return false
}

// ==================== 频道 ====================

type mongoChannelDAO struct {
	collection *mongo.Collection
}

// NewMongoChannelDAO 创建频道DAO
func NewMongoChannelDAO(db *database.MongoDB) ChannelDAO {
	return &mongoChannelDAO{collection: db.GetCollection(model.CollectionChannels)}
}

// CreateChannel 创建频道
func (d *mongoChannelDAO) CreateChannel(ctx context.Context, channel *model.Channel) error {
	normalizeChannel(channel)
	if _, err := d.collection.InsertOne(ctx, channel); err != nil {
		return wrapMongoErr("create channel", err)
	}
	return nil
}

// GetChannel 获取频道
func (d *mongoChannelDAO) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	var channel model.Channel
	err := d.collection.FindOne(ctx, bson.M{"_id": channelID}).Decode(&channel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapMongoErr("get channel", err)
	}
	return &channel, nil
}

// ListChannels 按创建时间升序列出所有频道
func (d *mongoChannelDAO) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := d.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, wrapMongoErr("list channels", err)
	}
	defer cursor.Close(ctx)

	channels := make([]*model.Channel, 0)
	if err := cursor.All(ctx, &channels); err != nil {
		return nil, wrapMongoErr("decode channels", err)
	}
	return channels, nil
}

// DeleteChannel 删除频道
func (d *mongoChannelDAO) DeleteChannel(ctx context.Context, channelID string) error {
	res, err := d.collection.DeleteOne(ctx, bson.M{"_id": channelID})
	if err != nil {
		return wrapMongoErr("delete channel", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember 加入成员
func (d *mongoChannelDAO) AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	filter := bson.M{"_id": channelID, "banned_members": bson.M{"$ne": userID}}
	update := membershipUpdate(bson.M{
		"$addToSet": bson.M{"members": userID},
		"$pull":     bson.M{"pending_requests": userID},
	})
	channel, err := d.update(ctx, filter, update)
	if errors.Is(err, errNoMatch) {
		return nil, d.classify(ctx, channelID, func(*model.Channel) error { return ErrBanned })
	}
	return channel, err
}

// AddPendingRequest 加入待审批列表
func (d *mongoChannelDAO) AddPendingRequest(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	filter := bson.M{
		"_id":              channelID,
		"members":          bson.M{"$ne": userID},
		"pending_requests": bson.M{"$ne": userID},
		"banned_members":   bson.M{"$ne": userID},
	}
	update := membershipUpdate(bson.M{"$addToSet": bson.M{"pending_requests": userID}})
	channel, err := d.update(ctx, filter, update)
	if errors.Is(err, errNoMatch) {
		return nil, d.classify(ctx, channelID, func(ch *model.Channel) error {
			return pendingRefusal(ch, userID)
		})
	}
	return channel, err
}

// RemoveMember 移出成员和待审批
func (d *mongoChannelDAO) RemoveMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	filter := bson.M{"_id": channelID, "creator_id": bson.M{"$ne": userID}}
	update := membershipUpdate(bson.M{
		"$pull": bson.M{"members": userID, "pending_requests": userID},
	})
	channel, err := d.update(ctx, filter, update)
	if errors.Is(err, errNoMatch) {
		return nil, d.classify(ctx, channelID, func(*model.Channel) error { return ErrCreatorImmutable })
	}
	return channel, err
}

// BanMember 封禁成员
func (d *mongoChannelDAO) BanMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	filter := bson.M{"_id": channelID, "creator_id": bson.M{"$ne": userID}}
	update := membershipUpdate(bson.M{
		"$pull":     bson.M{"members": userID, "pending_requests": userID},
		"$addToSet": bson.M{"banned_members": userID},
	})
	channel, err := d.update(ctx, filter, update)
	if errors.Is(err, errNoMatch) {
		return nil, d.classify(ctx, channelID, func(*model.Channel) error { return ErrCreatorImmutable })
	}
	return channel, err
}

func (d *mongoChannelDAO) update(ctx context.Context, filter, update bson.M) (*model.Channel, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var channel model.Channel
	err := d.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&channel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errNoMatch
	}
	if err != nil {
		return nil, wrapMongoErr("update channel", err)
	}
	return &channel, nil
}

// classify 条件更新落空后，频道不存在返回 ErrNotFound，否则由 refusal 给出原因
func (d *mongoChannelDAO) classify(ctx context.Context, channelID string, refusal func(*model.Channel) error) error {
	channel, err := d.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	return refusal(channel)
}

// membershipUpdate 每次成功的成员变更递增一次修订号
func membershipUpdate(update bson.M) bson.M {
	update["$inc"] = bson.M{"version": 1}
	update["$set"] = bson.M{"updated_at": time.Now()}
	return update
}

// ==================== 消息 ====================

type mongoMessageDAO struct {
	collection *mongo.Collection
}

// NewMongoMessageDAO 创建消息DAO
func NewMongoMessageDAO(db *database.MongoDB) MessageDAO {
	return &mongoMessageDAO{collection: db.GetCollection(model.CollectionMessages)}
}

// CreateMessage 保存消息
func (d *mongoMessageDAO) CreateMessage(ctx context.Context, message *model.Message) error {
	normalizeMessage(message)
	if _, err := d.collection.InsertOne(ctx, message); err != nil {
		return wrapMongoErr("create message", err)
	}
	return nil
}

// GetMessage 获取消息
func (d *mongoMessageDAO) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	var message model.Message
	err := d.collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&message)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapMongoErr("get message", err)
	}
	return &message, nil
}

// ListMessages 按创建时间升序列出频道消息
func (d *mongoMessageDAO) ListMessages(ctx context.Context, channelID string) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := d.collection.Find(ctx, bson.M{"channel_id": channelID}, opts)
	if err != nil {
		return nil, wrapMongoErr("list messages", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*model.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, wrapMongoErr("decode messages", err)
	}
	return messages, nil
}

// AddReport 单次条件更新完成去重追加，并返回追加后的举报数
func (d *mongoMessageDAO) AddReport(ctx context.Context, messageID, userID string) (int, error) {
	filter := bson.M{"_id": messageID, "reports": bson.M{"$ne": userID}}
	update := bson.M{
		"$addToSet": bson.M{"reports": userID},
		"$set":      bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"reports": 1})

	var result struct {
		Reports []string `bson:"reports"`
	}
	err := d.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, cerr := d.collection.CountDocuments(ctx, bson.M{"_id": messageID})
		if cerr != nil {
			return 0, wrapMongoErr("count message", cerr)
		}
		if count == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrAlreadyReported
	}
	if err != nil {
		return 0, wrapMongoErr("add report", err)
	}
	return len(result.Reports), nil
}

// SetPinned 设置置顶状态
func (d *mongoMessageDAO) SetPinned(ctx context.Context, messageID string, pinned bool) (*model.Message, error) {
	update := bson.M{"$set": bson.M{"pinned": pinned, "updated_at": time.Now()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var message model.Message
	err := d.collection.FindOneAndUpdate(ctx, bson.M{"_id": messageID}, update, opts).Decode(&message)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapMongoErr("set pinned", err)
	}
	return &message, nil
}

// DeleteMessage 删除单条消息
func (d *mongoMessageDAO) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := d.collection.DeleteOne(ctx, bson.M{"_id": messageID})
	if err != nil {
		return wrapMongoErr("delete message", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChannelMessages 删除频道内全部消息
func (d *mongoMessageDAO) DeleteChannelMessages(ctx context.Context, channelID string) (int64, error) {
	res, err := d.collection.DeleteMany(ctx, bson.M{"channel_id": channelID})
	if err != nil {
		return 0, wrapMongoErr("delete channel messages", err)
	}
	return res.DeletedCount, nil
}

// DeleteAuthorMessages 删除某用户在频道内的全部消息
func (d *mongoMessageDAO) DeleteAuthorMessages(ctx context.Context, channelID, authorID string) (int64, error) {
	res, err := d.collection.DeleteMany(ctx, bson.M{"channel_id": channelID, "author_id": authorID})
	if err != nil {
		return 0, wrapMongoErr("delete author messages", err)
	}
	return res.DeletedCount, nil
}

// ==================== 通知 ====================

type mongoNotificationDAO struct {
	collection *mongo.Collection
}

// NewMongoNotificationDAO 创建通知DAO
func NewMongoNotificationDAO(db *database.MongoDB) NotificationDAO {
	return &mongoNotificationDAO{collection: db.GetCollection(model.CollectionNotifications)}
}

// CreateNotification 写入通知
func (d *mongoNotificationDAO) CreateNotification(ctx context.Context, notification *model.Notification) error {
	if _, err := d.collection.InsertOne(ctx, notification); err != nil {
		return wrapMongoErr("create notification", err)
	}
	return nil
}

// ==================== 用户 ====================

type mongoUserDAO struct {
	collection *mongo.Collection
}

// NewMongoUserDAO 创建用户资料DAO
func NewMongoUserDAO(db *database.MongoDB) UserDAO {
	return &mongoUserDAO{collection: db.GetCollection(model.CollectionUsers)}
}

// GetUsers 批量获取用户资料
func (d *mongoUserDAO) GetUsers(ctx context.Context, userIDs []string) (map[string]*model.UserProfile, error) {
	result := make(map[string]*model.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1, "name": 1, "email": 1, "avatar": 1, "role": 1})
	cursor, err := d.collection.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}}, opts)
	if err != nil {
		return nil, wrapMongoErr("get users", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var profile model.UserProfile
		if err := cursor.Decode(&profile); err != nil {
			return nil, wrapMongoErr("decode user", err)
		}
		result[profile.ID] = &profile
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapMongoErr("iterate users", err)
	}
	return result, nil
}
