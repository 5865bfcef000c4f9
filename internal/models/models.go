package models

import "time"

// ContentKind tags how a content entry is delivered.
type ContentKind string

const (
	// KindDirectAsset references a transport-level asset (Telegram file id)
	// sent directly with a caption.
	KindDirectAsset ContentKind = "direct_asset"
	// KindChannelRepost references a message in a source channel that is
	// copied into the requesting chat.
	KindChannelRepost ContentKind = "channel_repost"
)

type User struct {
	ID            int64
	TelegramID    int64
	Username      string
	FirstName     string
	LastName      string
	Used          int
	ReferralCount int
	BonusCredits  int
	ReferredBy    *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Descriptor is the delivery method and location for one content entry.
// Exactly one of AssetID or (SourceChatID, SourceMessageID) is meaningful,
// selected by Kind.
type Descriptor struct {
	Kind            ContentKind
	AssetID         string
	SourceChatID    int64
	SourceMessageID int
}

type ContentEntry struct {
	ID         int64
	Code       string
	Descriptor Descriptor
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BroadcastReport is the aggregate outcome of one fan-out run. No
// per-recipient detail is retained.
type BroadcastReport struct {
	RunID     string
	Succeeded int
	Failed    int
	Total     int
}

// Stats is the operator-facing snapshot shown by the stats intent.
type Stats struct {
	Users           int
	ContentEntries  int
	TotalDeliveries int
}
