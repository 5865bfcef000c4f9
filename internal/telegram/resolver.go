package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

// ErrDeliveryFailed means the transport could not dispatch content. Callers
// must not charge quota when they see it.
var ErrDeliveryFailed = errors.New("delivery failed")

type resolverTransport interface {
	SendAsset(ctx context.Context, chatID int64, assetID, caption string, markup *tgbotapi.InlineKeyboardMarkup) error
	Repost(ctx context.Context, chatID, sourceChatID int64, sourceMessageID int, markup *tgbotapi.InlineKeyboardMarkup) error
}

// Resolver dispatches a delivery descriptor into a target chat.
type Resolver struct {
	transport resolverTransport
	caption   string
	botLink   string
}

func NewResolver(transport resolverTransport, caption, botLink string) *Resolver {
	return &Resolver{transport: transport, caption: caption, botLink: botLink}
}

// Deliver sends the content behind a descriptor into chatID. Any transport
// error (deleted source message, unreachable asset, blocked chat) comes back
// wrapped in ErrDeliveryFailed so the caller can skip the quota charge.
func (r *Resolver) Deliver(ctx context.Context, chatID int64, d models.Descriptor) error {
	markup := r.searchKeyboard()
	switch d.Kind {
	case models.KindChannelRepost:
		if err := r.transport.Repost(ctx, chatID, d.SourceChatID, d.SourceMessageID, markup); err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	case models.KindDirectAsset:
		if err := r.transport.SendAsset(ctx, chatID, d.AssetID, r.caption, markup); err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	default:
		return fmt.Errorf("%w: unknown descriptor kind %q", ErrDeliveryFailed, d.Kind)
	}
	return nil
}

func (r *Resolver) searchKeyboard() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Qidirish", r.botLink),
		),
	)
	return &markup
}
