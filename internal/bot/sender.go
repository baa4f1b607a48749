package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength is Telegram's text message limit in characters.
const MaxMessageLength = 4096

// SendPhoto uploads path as a photo.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, path string) error {
	return b.send(ctx, tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path)))
}

// SendVideo uploads path as a video.
func (b *Bot) SendVideo(ctx context.Context, chatID int64, path string) error {
	return b.send(ctx, tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path)))
}

// SendAnimation uploads path as an animation.
func (b *Bot) SendAnimation(ctx context.Context, chatID int64, path string) error {
	return b.send(ctx, tgbotapi.NewAnimation(chatID, tgbotapi.FilePath(path)))
}

// SendDocument uploads path as a generic file.
func (b *Bot) SendDocument(ctx context.Context, chatID int64, path string) error {
	return b.send(ctx, tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path)))
}

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. It stops at the first failed part.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	for i, part := range ChunkText(text, MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if err := b.send(ctx, msg); err != nil {
			return fmt.Errorf("part %d: %w", i+1, err)
		}
	}
	return nil
}

// Notify sends text to the operator chat. Failures are logged only.
func (b *Bot) Notify(ctx context.Context, text string) {
	if b.cfg.AdminChatID == 0 {
		b.log.Warn("no operator chat configured, dropping notification")
		return
	}
	if err := b.SendText(ctx, b.cfg.AdminChatID, text); err != nil {
		b.log.Error("notify operator", "error", err)
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// ChunkText splits text into parts of at most limit characters.
// Concatenating the parts yields text again. Empty text yields one empty
// part.
func ChunkText(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	parts := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
