package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uzbekfilmtv/kinobot/internal/broadcast"
	"github.com/uzbekfilmtv/kinobot/internal/config"
	"github.com/uzbekfilmtv/kinobot/internal/models"
	"github.com/uzbekfilmtv/kinobot/internal/service"
)

const adminID int64 = 99

type fakeLedger struct {
	users         map[int64]*models.User
	referralCalls [][2]int64
	charges       []int64
	grants        map[int64]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{users: map[int64]*models.User{}, grants: map[int64]int{}}
}

func (l *fakeLedger) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	if u, ok := l.users[telegramID]; ok {
		return u, false, nil
	}
	u := &models.User{TelegramID: telegramID, Username: username, FirstName: firstName, LastName: lastName}
	l.users[telegramID] = u
	return u, true, nil
}

func (l *fakeLedger) ApplyReferral(ctx context.Context, referrerID, refereeID int64) (bool, error) {
	l.referralCalls = append(l.referralCalls, [2]int64{referrerID, refereeID})
	referrer, ok := l.users[referrerID]
	if !ok {
		return false, nil
	}
	referee := l.users[refereeID]
	if referee.ReferredBy != nil {
		return false, nil
	}
	referee.ReferredBy = &referrerID
	referrer.ReferralCount++
	return true, nil
}

func (l *fakeLedger) ChargeUsage(ctx context.Context, telegramID int64) (*models.User, error) {
	u, ok := l.users[telegramID]
	if !ok {
		return nil, errors.New("unknown user")
	}
	u.Used++
	l.charges = append(l.charges, telegramID)
	return u, nil
}

func (l *fakeLedger) GrantBonus(ctx context.Context, telegramID int64, amount int) error {
	u, ok := l.users[telegramID]
	if !ok {
		return service.ErrUserNotFound
	}
	u.BonusCredits += amount
	l.grants[telegramID] += amount
	return nil
}

func (l *fakeLedger) Stats(ctx context.Context) (models.Stats, error) {
	return models.Stats{Users: len(l.users)}, nil
}

type fakeRegistry struct {
	entries map[string]models.Descriptor
	added   map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: map[string]models.Descriptor{}, added: map[string]string{}}
}

func (r *fakeRegistry) Lookup(ctx context.Context, code string) (*models.ContentEntry, error) {
	d, ok := r.entries[strings.TrimSpace(code)]
	if !ok {
		return nil, service.ErrCodeNotFound
	}
	return &models.ContentEntry{Code: code, Descriptor: d}, nil
}

func (r *fakeRegistry) Add(ctx context.Context, code, value string) (models.Descriptor, error) {
	d, err := service.ParseDescriptor(value)
	if err != nil {
		return models.Descriptor{}, err
	}
	r.entries[code] = d
	r.added[code] = value
	return d, nil
}

func (r *fakeRegistry) Remove(ctx context.Context, code string) error {
	if _, ok := r.entries[code]; !ok {
		return service.ErrCodeNotFound
	}
	delete(r.entries, code)
	return nil
}

func (r *fakeRegistry) List(ctx context.Context) ([]string, error) {
	var codes []string
	for code := range r.entries {
		codes = append(codes, code)
	}
	return codes, nil
}

type fakeDeliverer struct {
	deliveries []int64
	err        error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, chatID int64, desc models.Descriptor) error {
	if d.err != nil {
		return d.err
	}
	d.deliveries = append(d.deliveries, chatID)
	return nil
}

type fakeBroadcaster struct {
	payloads []broadcast.Payload
	report   models.BroadcastReport
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, payload broadcast.Payload) (models.BroadcastReport, error) {
	b.payloads = append(b.payloads, payload)
	return b.report, nil
}

type fakeMessenger struct {
	texts map[int64][]string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{texts: map[int64][]string{}}
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	m.texts[chatID] = append(m.texts[chatID], text)
	return nil
}

func (m *fakeMessenger) last(chatID int64) string {
	msgs := m.texts[chatID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type botFixture struct {
	bot        *Bot
	ledger     *fakeLedger
	registry   *fakeRegistry
	deliverer  *fakeDeliverer
	dispatcher *fakeBroadcaster
	messenger  *fakeMessenger
}

func newBotFixture() *botFixture {
	cfg := config.Config{
		BotUsername:     "UzbekFilmTV_bot",
		AdminTelegramID: adminID,
		FreeLimit:       5,
		ReferralBonus:   5,
	}
	f := &botFixture{
		ledger:     newFakeLedger(),
		registry:   newFakeRegistry(),
		deliverer:  &fakeDeliverer{},
		dispatcher: &fakeBroadcaster{},
		messenger:  newFakeMessenger(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.bot = NewBot(cfg, nil, log, f.ledger, f.registry, f.deliverer, f.dispatcher, f.messenger)
	return f
}

func textMessage(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Test"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	msg := textMessage(userID, text)
	length := len(text)
	if idx := strings.Index(text, " "); idx > 0 {
		length = idx
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}

func callbackFrom(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
	}
}

func TestCodeRequestDeliversAndCharges(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.registry.entries["12"] = models.Descriptor{Kind: models.KindDirectAsset, AssetID: "file-1"}

	f.bot.handleMessage(context.Background(), textMessage(1, " 12 "))

	if len(f.deliverer.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(f.deliverer.deliveries))
	}
	if len(f.ledger.charges) != 1 {
		t.Fatalf("charges = %d, want 1", len(f.ledger.charges))
	}
	if f.ledger.users[1].Used != 1 {
		t.Fatalf("used = %d, want 1", f.ledger.users[1].Used)
	}
}

func TestDeliveryFailureDoesNotCharge(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.registry.entries["12"] = models.Descriptor{Kind: models.KindDirectAsset, AssetID: "file-1"}
	f.deliverer.err = ErrDeliveryFailed

	f.bot.handleMessage(context.Background(), textMessage(1, "12"))

	if len(f.ledger.charges) != 0 {
		t.Fatalf("charges = %d, want 0 after failed delivery", len(f.ledger.charges))
	}
	if f.ledger.users[1].Used != 0 {
		t.Fatalf("used = %d, want 0", f.ledger.users[1].Used)
	}
}

func TestQuotaExhaustedDeniesAndLinksReferral(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.registry.entries["12"] = models.Descriptor{Kind: models.KindDirectAsset, AssetID: "file-1"}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.bot.handleMessage(ctx, textMessage(1, "12"))
	}
	if f.ledger.users[1].Used != 5 {
		t.Fatalf("used = %d, want 5", f.ledger.users[1].Used)
	}

	// Sixth request is denied without a delivery attempt.
	f.bot.handleMessage(ctx, textMessage(1, "12"))
	if len(f.deliverer.deliveries) != 5 {
		t.Fatalf("deliveries = %d, want 5", len(f.deliverer.deliveries))
	}
	last := f.messenger.last(1)
	if !strings.Contains(last, "https://t.me/UzbekFilmTV_bot?start=1") {
		t.Fatalf("quota message missing referral link: %q", last)
	}
	if !strings.Contains(last, "5/5") {
		t.Fatalf("quota message missing used/allowance: %q", last)
	}

	// A credited referral restores the quota.
	f.ledger.users[1].ReferralCount = 1
	f.bot.handleMessage(ctx, textMessage(1, "12"))
	if len(f.deliverer.deliveries) != 6 {
		t.Fatalf("deliveries = %d, want 6 after referral bonus", len(f.deliverer.deliveries))
	}
}

func TestUnknownCodeReply(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.bot.handleMessage(context.Background(), textMessage(1, "404"))
	if got := f.messenger.last(1); !strings.Contains(got, "topilmadi") {
		t.Fatalf("unexpected reply: %q", got)
	}
	if len(f.ledger.charges) != 0 {
		t.Fatal("unknown code must not charge")
	}
}

func TestReferralCreditedOnceOnStart(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	ctx := context.Background()

	// Referrer must exist first.
	f.bot.handleMessage(ctx, commandMessage(10, "/start"))

	f.bot.handleMessage(ctx, commandMessage(20, "/start 10"))
	if f.ledger.users[10].ReferralCount != 1 {
		t.Fatalf("referralCount = %d, want 1", f.ledger.users[10].ReferralCount)
	}

	// Repeat /start with the same or a different referrer never credits again.
	f.bot.handleMessage(ctx, commandMessage(20, "/start 10"))
	f.bot.handleMessage(ctx, commandMessage(30, "/start"))
	f.bot.handleMessage(ctx, commandMessage(20, "/start 30"))
	if f.ledger.users[10].ReferralCount != 1 {
		t.Fatalf("referralCount = %d, want 1 after repeats", f.ledger.users[10].ReferralCount)
	}
	if f.ledger.users[30].ReferralCount != 0 {
		t.Fatalf("second referrer credited for stamped referee")
	}
}

func TestSelfReferralIgnored(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.bot.handleMessage(context.Background(), commandMessage(5, "/start 5"))
	if len(f.ledger.referralCalls) != 0 {
		t.Fatal("self referral must not reach the ledger")
	}
}

func TestAdminAddFlow(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	ctx := context.Background()

	f.bot.handleCallback(ctx, callbackFrom(adminID, cbAdminAdd))
	if f.bot.session.Get().State != StateAwaitingAddCode {
		t.Fatal("add selection must await a code")
	}

	f.bot.handleMessage(ctx, textMessage(adminID, "77"))
	session := f.bot.session.Get()
	if session.State != StateAwaitingAddValue || session.PendingCode != "77" {
		t.Fatalf("session = %+v, want staged code 77", session)
	}

	f.bot.handleMessage(ctx, textMessage(adminID, "https://t.me/c/2233445566/77"))
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("add completion must return to idle")
	}
	entry, err := f.registry.Lookup(ctx, "77")
	if err != nil {
		t.Fatalf("code 77 not registered: %v", err)
	}
	if entry.Descriptor.Kind != models.KindChannelRepost || entry.Descriptor.SourceMessageID != 77 {
		t.Fatalf("descriptor = %+v", entry.Descriptor)
	}
}

func TestAdminDeleteFlow(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.registry.entries["12"] = models.Descriptor{Kind: models.KindDirectAsset, AssetID: "file-1"}
	ctx := context.Background()

	f.bot.handleCallback(ctx, callbackFrom(adminID, cbAdminDelete))
	f.bot.handleMessage(ctx, textMessage(adminID, "12"))

	if _, ok := f.registry.entries["12"]; ok {
		t.Fatal("code 12 still registered")
	}
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("delete completion must return to idle")
	}
}

func TestBroadcastFlowReportsAggregate(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.dispatcher.report = models.BroadcastReport{Succeeded: 2, Failed: 1, Total: 3}
	ctx := context.Background()

	f.bot.handleCallback(ctx, callbackFrom(adminID, cbAdminBroadcast))
	msg := textMessage(adminID, "yangi kino!")
	msg.MessageID = 555
	f.bot.handleMessage(ctx, msg)

	if len(f.dispatcher.payloads) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.dispatcher.payloads))
	}
	if f.dispatcher.payloads[0].MessageID != 555 {
		t.Fatalf("payload = %+v, want operator message copied", f.dispatcher.payloads[0])
	}
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("broadcast completion must return to idle")
	}
	if got := f.messenger.last(adminID); !strings.Contains(got, "Yuborildi: 2") || !strings.Contains(got, "Xato: 1") {
		t.Fatalf("report message = %q", got)
	}
}

func TestCancelResetsPendingState(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	ctx := context.Background()

	f.bot.handleCallback(ctx, callbackFrom(adminID, cbAdminAdd))
	f.bot.handleMessage(ctx, commandMessage(adminID, "/cancel"))
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("cancel must force idle")
	}
}

func TestNonAdminBypassesStateMachine(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.registry.entries["12"] = models.Descriptor{Kind: models.KindDirectAsset, AssetID: "file-1"}
	ctx := context.Background()

	f.bot.handleCallback(ctx, callbackFrom(adminID, cbAdminAdd))
	// A regular user's "12" is a code request, not admin input.
	f.bot.handleMessage(ctx, textMessage(1, "12"))

	if len(f.deliverer.deliveries) != 1 {
		t.Fatal("non-admin message must fall through to code lookup")
	}
	if f.bot.session.Get().State != StateAwaitingAddCode {
		t.Fatal("pending admin state must survive non-admin traffic")
	}
}

func TestNonAdminCallbackIgnored(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	f.bot.handleCallback(context.Background(), callbackFrom(1, cbAdminBroadcast))
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("non-admin callback must not drive the state machine")
	}
}

func TestCallbackWithoutMessageIgnored(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	cb := &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: adminID},
		Data: cbAdminAdd,
	}
	// Callbacks on expired messages carry no message; they must be acked
	// and dropped, not panic the update loop.
	f.bot.handleCallback(context.Background(), cb)
	if f.bot.session.Get().State != StateIdle {
		t.Fatal("callback without message must not drive the state machine")
	}
}

func TestGrantBonusCommand(t *testing.T) {
	t.Parallel()
	f := newBotFixture()
	ctx := context.Background()
	f.bot.handleMessage(ctx, commandMessage(7, "/start"))

	f.bot.handleMessage(ctx, commandMessage(adminID, "/grant 7 3"))
	if f.ledger.grants[7] != 3 {
		t.Fatalf("grants[7] = %d, want 3", f.ledger.grants[7])
	}

	// Unknown target is a NotFound reply, not a crash.
	f.bot.handleMessage(ctx, commandMessage(adminID, "/grant 404 3"))
	if got := f.messenger.last(adminID); !strings.Contains(got, "topilmadi") {
		t.Fatalf("unexpected reply: %q", got)
	}

	// Non-operator grants are silently ignored.
	f.bot.handleMessage(ctx, commandMessage(7, "/grant 7 100"))
	if f.ledger.grants[7] != 3 {
		t.Fatal("non-admin grant must be ignored")
	}
}
