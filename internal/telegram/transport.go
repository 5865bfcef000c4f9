package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Transport wraps the Bot API send surface used by the resolver and the
// broadcast dispatcher. Having the seam here keeps delivery logic testable
// without a live bot token.
type Transport struct {
	api *tgbotapi.BotAPI
}

func NewTransport(api *tgbotapi.BotAPI) *Transport {
	return &Transport{api: api}
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendAsset sends a stored transport asset (file id) with a caption.
func (t *Transport) SendAsset(ctx context.Context, chatID int64, assetID, caption string, markup *tgbotapi.InlineKeyboardMarkup) error {
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileID(assetID))
	video.Caption = caption
	if markup != nil {
		video.ReplyMarkup = *markup
	}
	if _, err := t.api.Send(video); err != nil {
		return fmt.Errorf("send asset: %w", err)
	}
	return nil
}

// Repost copies a message out of its source channel into the target chat,
// preserving the original attachment.
func (t *Transport) Repost(ctx context.Context, chatID, sourceChatID int64, sourceMessageID int, markup *tgbotapi.InlineKeyboardMarkup) error {
	copyCfg := tgbotapi.NewCopyMessage(chatID, sourceChatID, sourceMessageID)
	if markup != nil {
		copyCfg.ReplyMarkup = *markup
	}
	if _, err := t.api.CopyMessage(copyCfg); err != nil {
		return fmt.Errorf("repost message: %w", err)
	}
	return nil
}

// Notify sends a plain text message without controls. Used by the broadcast
// dispatcher.
func (t *Transport) Notify(ctx context.Context, userID int64, text string) error {
	return t.SendText(ctx, userID, text, nil)
}

// CopyMessage relays an arbitrary message to a user. Used by the broadcast
// dispatcher to fan out the operator's payload message.
func (t *Transport) CopyMessage(ctx context.Context, userID, fromChatID int64, messageID int) error {
	copyCfg := tgbotapi.NewCopyMessage(userID, fromChatID, messageID)
	if _, err := t.api.CopyMessage(copyCfg); err != nil {
		return fmt.Errorf("copy message: %w", err)
	}
	return nil
}
