package bot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/hydration-bot/internal/domain"
	"github.com/Proton-105/hydration-bot/internal/reminder"
)

// api is the subset of telebot.Bot used to deliver reminders.
type api interface {
	ChatByID(id int64) (*telebot.Chat, error)
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Messenger delivers reminders over private Telegram chats. Each API call is bounded by
// the bot HTTP client timeout.
type Messenger struct {
	api api
}

var _ reminder.Messenger = (*Messenger)(nil)

// NewMessenger wraps a telebot API client.
func NewMessenger(tb api) *Messenger {
	return &Messenger{api: tb}
}

// OpenPrivateChannel resolves the private chat with user. It fails when the user has never
// started a conversation with the bot.
func (m *Messenger) OpenPrivateChannel(ctx context.Context, user domain.UserID) (reminder.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chat, err := m.api.ChatByID(user.Int64())
	if err != nil {
		return nil, gatewayError("resolve private chat", err)
	}

	return &privateChannel{api: m.api, chat: chat}, nil
}

type privateChannel struct {
	api  api
	chat *telebot.Chat
}

// Send posts text. Without readAloud the message is delivered silently.
func (p *privateChannel) Send(ctx context.Context, text string, readAloud bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var opts []interface{}
	if !readAloud {
		opts = append(opts, telebot.Silent)
	}

	if _, err := p.api.Send(p.chat, text, opts...); err != nil {
		return gatewayError("send message", err)
	}

	return nil
}

// unclassifiedStatus matches the status suffix telebot appends to API errors it has no
// sentinel for, e.g. "telegram: Bad Gateway (502)".
var unclassifiedStatus = regexp.MustCompile(`\((\d{3})\)$`)

// gatewayError wraps err with op and, when the failure lies with Telegram or the network
// rather than the recipient, marks it with reminder.ErrGatewayUnavailable.
func gatewayError(op string, err error) error {
	if isGatewayFailure(err) {
		return fmt.Errorf("%s: %w: %w", op, reminder.ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isGatewayFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return true
	}

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	if m := unclassifiedStatus.FindStringSubmatch(err.Error()); m != nil {
		return m[1] >= "500"
	}

	return false
}
