package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/clinic-ops/pkg/logging"
)

// userSender is the slice of the realtime bus the chat notifier needs.
type userSender interface {
	SendToUser(userID uuid.UUID, payload any) bool
}

// ChatNotifier pushes unread-count notices over the realtime channel. The
// count lives in redis and the notice text is recomputed from it on every
// trigger, so repeated messages converge on one line instead of stacking.
type ChatNotifier struct {
	rdb    *redis.Client
	bus    userSender
	logger *logging.Logger
}

func NewChatNotifier(rdb *redis.Client, bus userSender, logger *logging.Logger) *ChatNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatNotifier{rdb: rdb, bus: bus, logger: logger}
}

func unreadKey(userID uuid.UUID) string {
	return fmt.Sprintf("chat:unread:%s", userID)
}

type chatNotice struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Unread  int64  `json:"unread"`
}

// MessageReceived bumps the recipient's unread count and sends the refreshed
// notice. Best effort: a redis or delivery failure is logged, never returned.
func (c *ChatNotifier) MessageReceived(ctx context.Context, userID uuid.UUID) {
	if c.rdb == nil {
		return
	}
	count, err := c.rdb.Incr(ctx, unreadKey(userID)).Result()
	if err != nil {
		c.logger.Warn("chat unread increment failed", "user_id", userID, "error", err)
		return
	}
	content := ChatNotice(count)
	delivered := c.bus.SendToUser(userID, chatNotice{
		Type:    "chat.new_message",
		Title:   content.Title,
		Message: content.Message,
		Unread:  count,
	})
	c.logger.Debug("chat notice sent", "user_id", userID, "unread", count, "delivered", delivered)
}

// ConversationRead clears the unread count once the user opens the thread.
func (c *ChatNotifier) ConversationRead(ctx context.Context, userID uuid.UUID) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, unreadKey(userID)).Err(); err != nil {
		c.logger.Warn("chat unread reset failed", "user_id", userID, "error", err)
	}
}

// Unread returns the current unread count.
func (c *ChatNotifier) Unread(ctx context.Context, userID uuid.UUID) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	count, err := c.rdb.Get(ctx, unreadKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("notifications: unread count: %w", err)
	}
	return count, nil
}
