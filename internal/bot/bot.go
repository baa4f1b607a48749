// Package bot implements the Telegram side of the relay: media and text
// senders and the long-polling command surface.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mediarelay/internal/config"
	"mediarelay/internal/model"
	"mediarelay/internal/source"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Registry is the subscriber and source state the commands operate on.
type Registry interface {
	AddSubscriber(chatID int64, name string, now time.Time) bool
	Subscribers() []model.Subscriber
	Sources() []model.Source
	AddSource(src model.Source) bool
	RemoveSource(src model.Source) bool
	Stats() model.Stats
	PersistDirectory(ctx context.Context) error
}

// Status is a point-in-time view of the relay loop.
type Status struct {
	LastCycle         time.Time
	LastCycleDuration time.Duration
	QueueLen          int
	SeenCount         int
}

// Controller runs operator actions against the relay loop.
type Controller interface {
	Reload(ctx context.Context) error
	Cleanup(ctx context.Context) int
	Status() Status
}

// Bot is the Telegram bot that handles commands and sends media.
type Bot struct {
	api     telegramAPI
	reg     Registry
	ctrl    Controller
	sources source.Client
	cfg     *config.Config
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Bot. client carries the request timeout for every API call.
func New(token string, client *http.Client, reg Registry, sources source.Client, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("telegram authorized", "username", api.Self.UserName)

	return &Bot{
		api:     api,
		reg:     reg,
		sources: sources,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}, nil
}

// SetController wires the relay loop once it exists.
func (b *Bot) SetController(c Controller) {
	b.ctrl = c
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.register(ctx, update.Message)
			if !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// register records the sender of any message as a subscriber.
func (b *Bot) register(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	name := msg.Chat.Title
	if msg.From != nil {
		name = msg.From.UserName
		if name == "" {
			name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	}
	if !b.reg.AddSubscriber(chatID, name, b.now()) {
		return
	}
	b.log.Info("new subscriber", "chat_id", chatID, "name", name)
	if err := b.reg.PersistDirectory(ctx); err != nil {
		b.log.Error("persist subscribers", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendText(context.Background(), chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	if adminOnly[cmd] && !b.cfg.IsAdmin(chatID) {
		b.reply(chatID, "This command is reserved for the operator.")
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "chatid":
		b.reply(chatID, fmt.Sprintf("Your chat id is %d", chatID))
	case "status":
		b.handleStatus(chatID)
	case "stats":
		b.handleStats(chatID)
	case "sources":
		b.handleSources(chatID)
	case cmdAdd:
		b.handleAdd(ctx, chatID, args)
	case cmdRemove:
		b.handleRemove(ctx, chatID, args)
	case cmdReload:
		b.handleReload(ctx, chatID)
	case cmdCleanup:
		b.handleCleanup(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

const (
	cmdAdd     = "add"
	cmdRemove  = "remove"
	cmdReload  = "reload"
	cmdCleanup = "cleanup"
)

var adminOnly = map[string]bool{
	cmdAdd:     true,
	cmdRemove:  true,
	cmdReload:  true,
	cmdCleanup: true,
}
