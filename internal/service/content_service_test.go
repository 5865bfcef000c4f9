package service

import (
	"errors"
	"testing"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

func TestParseDescriptorVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		value     string
		kind      models.ContentKind
		assetID   string
		chatID    int64
		messageID int
	}{
		{
			name:  "file id",
			value: "BAACAgIAAxkBAAIB",
			kind:  models.KindDirectAsset, assetID: "BAACAgIAAxkBAAIB",
		},
		{
			name:  "file id with surrounding whitespace",
			value: "  BAACAgIAAxkBAAIB \n",
			kind:  models.KindDirectAsset, assetID: "BAACAgIAAxkBAAIB",
		},
		{
			name:  "private channel link",
			value: "https://t.me/c/2233445566/77",
			kind:  models.KindChannelRepost, chatID: -1002233445566, messageID: 77,
		},
		{
			name:  "channel link with trailing slash",
			value: "https://t.me/c/2233445566/77/",
			kind:  models.KindChannelRepost, chatID: -1002233445566, messageID: 77,
		},
		{
			name:  "bare t.me link",
			value: "t.me/c/1122334455/9",
			kind:  models.KindChannelRepost, chatID: -1001122334455, messageID: 9,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDescriptor(tt.value)
			if err != nil {
				t.Fatalf("ParseDescriptor(%q) error: %v", tt.value, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.AssetID != tt.assetID {
				t.Fatalf("AssetID = %q, want %q", got.AssetID, tt.assetID)
			}
			if got.SourceChatID != tt.chatID {
				t.Fatalf("SourceChatID = %d, want %d", got.SourceChatID, tt.chatID)
			}
			if got.SourceMessageID != tt.messageID {
				t.Fatalf("SourceMessageID = %d, want %d", got.SourceMessageID, tt.messageID)
			}
		})
	}
}

func TestParseDescriptorInvalid(t *testing.T) {
	t.Parallel()
	values := []string{
		"",
		"   ",
		"https://t.me/somechannel/notanumber",
		"https://t.me/c/notanumber/12",
		"https://t.me",
		"file id with spaces",
	}
	for _, value := range values {
		if _, err := ParseDescriptor(value); !errors.Is(err, ErrDescriptorInvalid) {
			t.Fatalf("ParseDescriptor(%q) = %v, want ErrDescriptorInvalid", value, err)
		}
	}
}
