package bot

import (
	"context"
	"fmt"
	"strings"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, fmt.Sprintf(`Welcome to Media Relay!

You are subscribed: new images, videos and GIFs from the monitored sources will be delivered to this chat.

Monitored sources:
%s

Use /help for the full command reference.`, strings.Join(sourceLabels(b.reg.Sources()), ", ")))
}

func (b *Bot) handleHelp(chatID int64) {
	text := `Commands:
/start - subscribe this chat
/help - this message
/chatid - show this chat's id
/status - relay status
/stats - delivery statistics
/sources - monitored sources`
	if b.cfg.IsAdmin(chatID) {
		text += `

Operator:
/add <source> - monitor a subreddit (pics, r/pics) or feed (feed:<url>)
/remove <source> - stop monitoring a source
/reload - reload subscribers and sources from storage
/cleanup - delete stale downloaded files`
	}
	b.reply(chatID, text)
}

func (b *Bot) handleStatus(chatID int64) {
	var st Status
	if b.ctrl != nil {
		st = b.ctrl.Status()
	}
	b.reply(chatID, FormatStatus(st, len(b.reg.Subscribers()), len(b.reg.Sources()), b.now()))
}

func (b *Bot) handleStats(chatID int64) {
	b.reply(chatID, FormatStats(b.reg.Stats(), b.reg.Sources()))
}

func (b *Bot) handleSources(chatID int64) {
	b.reply(chatID, FormatSources(b.reg.Sources()))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	src, err := ParseSourceArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /add <source>\n%v", err))
		return
	}

	if b.sources != nil {
		if _, err := b.sources.ListRecent(ctx, src, 1); err != nil {
			b.reply(chatID, fmt.Sprintf("Failed to read %s: %v", sourceLabel(src), err))
			return
		}
	}

	if !b.reg.AddSource(src) {
		b.reply(chatID, fmt.Sprintf("%s is already monitored.", sourceLabel(src)))
		return
	}
	if err := b.reg.PersistDirectory(ctx); err != nil {
		b.log.Error("persist sources", "source", src, "error", err)
		b.reply(chatID, fmt.Sprintf("Added %s, but saving failed: %v", sourceLabel(src), err))
		return
	}
	b.log.Info("source added", "source", src, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Now monitoring %s.", sourceLabel(src)))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	src, err := ParseSourceArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /remove <source>\n%v", err))
		return
	}

	if !b.reg.RemoveSource(src) {
		b.reply(chatID, fmt.Sprintf("%s is not monitored.", sourceLabel(src)))
		return
	}
	if err := b.reg.PersistDirectory(ctx); err != nil {
		b.log.Error("persist sources", "source", src, "error", err)
		b.reply(chatID, fmt.Sprintf("Removed %s, but saving failed: %v", sourceLabel(src), err))
		return
	}
	b.log.Info("source removed", "source", src, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Stopped monitoring %s.", sourceLabel(src)))
}

func (b *Bot) handleReload(ctx context.Context, chatID int64) {
	if b.ctrl == nil {
		b.reply(chatID, "The relay is still starting, try again shortly.")
		return
	}
	if err := b.ctrl.Reload(ctx); err != nil {
		b.reply(chatID, fmt.Sprintf("Reload failed: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Reloaded: %d subscribers, %d sources.",
		len(b.reg.Subscribers()), len(b.reg.Sources())))
}

func (b *Bot) handleCleanup(ctx context.Context, chatID int64) {
	if b.ctrl == nil {
		b.reply(chatID, "The relay is still starting, try again shortly.")
		return
	}
	n := b.ctrl.Cleanup(ctx)
	b.reply(chatID, fmt.Sprintf("Scratch directory cleaned, %d stale files removed.", n))
}
