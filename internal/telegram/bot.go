package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uzbekfilmtv/kinobot/internal/broadcast"
	"github.com/uzbekfilmtv/kinobot/internal/config"
	"github.com/uzbekfilmtv/kinobot/internal/models"
	"github.com/uzbekfilmtv/kinobot/internal/quota"
	"github.com/uzbekfilmtv/kinobot/internal/service"
)

// Ledger is the quota-ledger surface the bot drives.
type Ledger interface {
	Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error)
	ApplyReferral(ctx context.Context, referrerID, refereeID int64) (bool, error)
	ChargeUsage(ctx context.Context, telegramID int64) (*models.User, error)
	GrantBonus(ctx context.Context, telegramID int64, amount int) error
	Stats(ctx context.Context) (models.Stats, error)
}

// Registry is the content-code surface the bot drives.
type Registry interface {
	Lookup(ctx context.Context, code string) (*models.ContentEntry, error)
	Add(ctx context.Context, code, value string) (models.Descriptor, error)
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]string, error)
}

// Deliverer dispatches resolved content into a chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, d models.Descriptor) error
}

// Broadcaster fans a payload out to the whole user base.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload broadcast.Payload) (models.BroadcastReport, error)
}

type messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error
}

const (
	cbAdminPanel     = "admin"
	cbAdminAdd       = "admin_add"
	cbAdminDelete    = "admin_del"
	cbAdminList      = "admin_list"
	cbAdminStats     = "admin_stats"
	cbAdminBroadcast = "admin_broadcast"
	cbAdminCancel    = "admin_cancel"
)

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	ledger     Ledger
	registry   Registry
	deliverer  Deliverer
	dispatcher Broadcaster
	messenger  messenger
	policy     quota.Policy
	session    *SessionStore
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, ledger Ledger, registry Registry, deliverer Deliverer, dispatcher Broadcaster, msgr messenger) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		ledger:     ledger,
		registry:   registry,
		deliverer:  deliverer,
		dispatcher: dispatcher,
		messenger:  msgr,
		policy:     quota.Policy{FreeAllowance: cfg.FreeLimit, ReferralBonus: cfg.ReferralBonus},
		session:    NewSessionStore(),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "admin", b.cfg.AdminTelegramID)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return userID == b.cfg.AdminTelegramID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	user, _, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.log.Error("ensure user", "err", err)
		b.sendText(ctx, msg.Chat.ID, "Xatolik yuz berdi, keyinroq urinib ko'ring.")
		return
	}

	// A pending admin mode consumes the operator's next message entirely;
	// only an explicit cancel breaks out of it.
	if b.isAdmin(msg.From.ID) {
		if session := b.session.Get(); session.State != StateIdle {
			if msg.IsCommand() && msg.Command() == "cancel" {
				b.session.Reset()
				b.sendText(ctx, msg.Chat.ID, "Bekor qilindi.")
				return
			}
			b.handleAdminInput(ctx, msg, session)
			return
		}
		if code, ok := strings.CutPrefix(msg.Text, "del "); ok {
			b.removeCode(ctx, msg.Chat.ID, code)
			return
		}
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	b.handleCodeRequest(ctx, msg, user)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg, user)
	case "cancel":
		if b.isAdmin(msg.From.ID) {
			b.session.Reset()
			b.sendText(ctx, msg.Chat.ID, "Bekor qilindi.")
		}
	case "grant":
		if !b.isAdmin(msg.From.ID) {
			return
		}
		b.handleGrant(ctx, msg)
	case "admin":
		if !b.isAdmin(msg.From.ID) {
			return
		}
		b.sendAdminMenu(ctx, msg.Chat.ID)
	default:
		b.sendText(ctx, msg.Chat.ID, "Kino olish uchun kod yuboring. Masalan: 12")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if referrerID, err := strconv.ParseInt(arg, 10, 64); err == nil {
			b.creditReferral(ctx, referrerID, user)
		}
	}

	text := fmt.Sprintf(
		"Assalomu alaykum, %s!\n\n"+
			"UzbekFilmTV botiga xush kelibsiz.\n"+
			"Kino olish uchun kod yuboring.\n\n"+
			"Masalan: 12",
		msg.From.FirstName,
	)

	var markup *tgbotapi.InlineKeyboardMarkup
	if b.isAdmin(msg.From.ID) {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Admin panel", cbAdminPanel),
			),
		)
		markup = &kb
	}
	b.sendMarkup(ctx, msg.Chat.ID, text, markup)
}

// creditReferral applies the one-time referral credit. Self-referrals,
// unknown referrers and already-stamped referees are silently tolerated.
func (b *Bot) creditReferral(ctx context.Context, referrerID int64, user *models.User) {
	if referrerID == user.TelegramID || user.ReferredBy != nil {
		return
	}
	credited, err := b.ledger.ApplyReferral(ctx, referrerID, user.TelegramID)
	if err != nil {
		b.log.Error("apply referral", "referrer", referrerID, "referee", user.TelegramID, "err", err)
		return
	}
	if credited {
		b.log.Info("referral credited", "referrer", referrerID, "referee", user.TelegramID)
		if err := b.messenger.SendText(ctx, referrerID, "Do'stingiz qo'shildi! Limitingiz oshirildi.", nil); err != nil {
			b.log.Warn("notify referrer", "referrer", referrerID, "err", err)
		}
	}
}

func (b *Bot) handleGrant(ctx context.Context, msg *tgbotapi.Message) {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		b.sendText(ctx, msg.Chat.ID, "Format: /grant <user_id> <miqdor>")
		return
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.sendText(ctx, msg.Chat.ID, "Format: /grant <user_id> <miqdor>")
		return
	}
	amount, err := strconv.Atoi(fields[1])
	if err != nil || amount <= 0 {
		b.sendText(ctx, msg.Chat.ID, "Miqdor musbat son bo'lishi kerak.")
		return
	}
	if err := b.ledger.GrantBonus(ctx, userID, amount); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			b.sendText(ctx, msg.Chat.ID, "Bunday foydalanuvchi topilmadi.")
			return
		}
		b.log.Error("grant bonus", "user", userID, "err", err)
		b.sendText(ctx, msg.Chat.ID, "Xatolik yuz berdi, keyinroq urinib ko'ring.")
		return
	}
	b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("%d ga +%d bonus berildi.", userID, amount))
}

func (b *Bot) handleAdminInput(ctx context.Context, msg *tgbotapi.Message, session Session) {
	text := strings.TrimSpace(msg.Text)

	switch session.State {
	case StateAwaitingAddCode:
		if text == "" {
			b.sendText(ctx, msg.Chat.ID, "Kod bo'sh bo'lmasligi kerak. Qaytadan kiriting:")
			return
		}
		b.session.Set(Session{State: StateAwaitingAddValue, PendingCode: text})
		b.sendText(ctx, msg.Chat.ID, "Kanal post linkini yoki file_id yuboring:")

	case StateAwaitingAddValue:
		if _, err := b.registry.Add(ctx, session.PendingCode, text); err != nil {
			if errors.Is(err, service.ErrDescriptorInvalid) {
				b.sendText(ctx, msg.Chat.ID, "Link yoki file_id noto'g'ri. Qaytadan yuboring:")
				return
			}
			b.log.Error("add content", "code", session.PendingCode, "err", err)
			b.sendText(ctx, msg.Chat.ID, "Saqlab bo'lmadi, keyinroq urinib ko'ring.")
			b.session.Reset()
			return
		}
		b.session.Reset()
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf("Kino saqlandi: %s", session.PendingCode))

	case StateAwaitingDeleteCode:
		b.session.Reset()
		b.removeCode(ctx, msg.Chat.ID, text)

	case StateAwaitingBroadcastPayload:
		payload := broadcast.Payload{
			Text:       msg.Text,
			FromChatID: msg.Chat.ID,
			MessageID:  msg.MessageID,
		}
		report, err := b.dispatcher.Broadcast(ctx, payload)
		b.session.Reset()
		if err != nil {
			if errors.Is(err, broadcast.ErrInProgress) {
				b.sendText(ctx, msg.Chat.ID, "Broadcast hali tugamadi, kuting.")
				return
			}
			b.log.Error("broadcast", "err", err)
			b.sendText(ctx, msg.Chat.ID, "Broadcast yuborib bo'lmadi.")
			return
		}
		b.sendText(ctx, msg.Chat.ID, fmt.Sprintf(
			"Broadcast tugadi.\nYuborildi: %d\nXato: %d\nJami: %d",
			report.Succeeded, report.Failed, report.Total,
		))
	}
}

func (b *Bot) removeCode(ctx context.Context, chatID int64, code string) {
	if err := b.registry.Remove(ctx, code); err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			b.sendText(ctx, chatID, "Bunday kod topilmadi.")
			return
		}
		b.log.Error("remove content", "code", code, "err", err)
		b.sendText(ctx, chatID, "O'chirib bo'lmadi, keyinroq urinib ko'ring.")
		return
	}
	b.sendText(ctx, chatID, "O'chirildi.")
}

func (b *Bot) handleCodeRequest(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	code := strings.TrimSpace(msg.Text)
	if code == "" {
		b.sendText(ctx, msg.Chat.ID, "Kino olish uchun kod yuboring. Masalan: 12")
		return
	}

	entry, err := b.registry.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			b.sendText(ctx, msg.Chat.ID, "Bunday kod topilmadi.")
			return
		}
		b.log.Error("lookup code", "code", code, "err", err)
		b.sendText(ctx, msg.Chat.ID, "Xatolik yuz berdi, keyinroq urinib ko'ring.")
		return
	}

	if b.policy.Remaining(user) <= 0 {
		b.sendQuotaExhausted(ctx, msg.Chat.ID, user)
		return
	}

	// Charge only after the transport confirms dispatch; a failed delivery
	// must never consume quota.
	if err := b.deliverer.Deliver(ctx, msg.Chat.ID, entry.Descriptor); err != nil {
		b.log.Warn("delivery failed", "code", code, "chat", msg.Chat.ID, "err", err)
		b.sendText(ctx, msg.Chat.ID, "Kino yuborib bo'lmadi, keyinroq urinib ko'ring.")
		return
	}

	if _, err := b.ledger.ChargeUsage(ctx, user.TelegramID); err != nil {
		b.log.Error("charge usage", "user", user.TelegramID, "err", err)
	}
}

func (b *Bot) sendQuotaExhausted(ctx context.Context, chatID int64, user *models.User) {
	allowance := b.policy.Allowance(user)
	text := fmt.Sprintf(
		"Limit tugadi: %d/%d ishlatildi.\n"+
			"Taklif qilingan do'stlar: %d\n\n"+
			"Har bir do'st uchun +%d kino ochiladi.\n"+
			"Sizning havolangiz:\n%s",
		user.Used, allowance, user.ReferralCount, b.cfg.ReferralBonus,
		b.cfg.ReferralLink(user.TelegramID),
	)
	b.sendText(ctx, chatID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// Admin-only surface; anyone else gets a bare ack that leaks nothing.
	// Callbacks on expired or inaccessible messages arrive without a
	// message and cannot be answered into a chat.
	if cb.From == nil || cb.Message == nil || !b.isAdmin(cb.From.ID) {
		b.ackCallback(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	switch cb.Data {
	case cbAdminPanel:
		b.ackCallback(cb.ID, "")
		b.sendAdminMenu(ctx, chatID)
	case cbAdminAdd:
		b.session.Set(Session{State: StateAwaitingAddCode})
		b.ackCallback(cb.ID, "")
		b.sendText(ctx, chatID, "Kodni kiriting (masalan 12):")
	case cbAdminDelete:
		b.session.Set(Session{State: StateAwaitingDeleteCode})
		b.ackCallback(cb.ID, "")
		b.sendText(ctx, chatID, "O'chiriladigan kodni kiriting:")
	case cbAdminList:
		b.ackCallback(cb.ID, "")
		b.sendCodeList(ctx, chatID)
	case cbAdminStats:
		b.ackCallback(cb.ID, "")
		b.sendStats(ctx, chatID)
	case cbAdminBroadcast:
		b.session.Set(Session{State: StateAwaitingBroadcastPayload})
		b.ackCallback(cb.ID, "")
		b.sendText(ctx, chatID, "Xabarni yuboring (matn, rasm yoki video):")
	case cbAdminCancel:
		b.session.Reset()
		b.ackCallback(cb.ID, "Bekor qilindi")
	default:
		b.ackCallback(cb.ID, "")
	}
}

func (b *Bot) sendAdminMenu(ctx context.Context, chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Kod qo'shish", cbAdminAdd)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Kod o'chirish", cbAdminDelete)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Kodlar ro'yxati", cbAdminList)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Statistika", cbAdminStats)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Broadcast", cbAdminBroadcast)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Bekor qilish", cbAdminCancel)),
	)
	b.sendMarkup(ctx, chatID, "Admin panel", &kb)
}

func (b *Bot) sendCodeList(ctx context.Context, chatID int64) {
	codes, err := b.registry.List(ctx)
	if err != nil {
		b.log.Error("list codes", "err", err)
		b.sendText(ctx, chatID, "Ro'yxatni olib bo'lmadi.")
		return
	}
	if len(codes) == 0 {
		b.sendText(ctx, chatID, "Hali kod qo'shilmagan.")
		return
	}
	b.sendText(ctx, chatID, "Kodlar:\n"+strings.Join(codes, "\n"))
}

func (b *Bot) sendStats(ctx context.Context, chatID int64) {
	stats, err := b.ledger.Stats(ctx)
	if err != nil {
		b.log.Error("stats", "err", err)
		b.sendText(ctx, chatID, "Statistikani olib bo'lmadi.")
		return
	}
	b.sendText(ctx, chatID, fmt.Sprintf(
		"Statistika\n\nKino: %d\nUser: %d\nYuborilgan: %d\n%s",
		stats.ContentEntries, stats.Users, stats.TotalDeliveries,
		time.Now().Format("02-01-2006"),
	))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*models.User, bool, error) {
	return b.ledger.Ensure(ctx, from.ID, from.UserName, from.FirstName, from.LastName)
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string) {
	b.sendMarkup(ctx, chatID, text, nil)
}

func (b *Bot) sendMarkup(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := b.messenger.SendText(ctx, chatID, text, markup); err != nil {
		b.log.Error("send text", "chat", chatID, "err", err)
	}
}

func (b *Bot) ackCallback(id, text string) {
	if b.api == nil {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}
