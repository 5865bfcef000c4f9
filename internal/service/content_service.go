package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/uzbekfilmtv/kinobot/internal/models"
	"github.com/uzbekfilmtv/kinobot/internal/repository"
)

// ContentService fronts the code registry.
type ContentService struct {
	content *repository.ContentRepository
}

func NewContentService(content *repository.ContentRepository) *ContentService {
	return &ContentService{content: content}
}

// Lookup resolves a code. Codes are case-sensitive and compared after
// trimming surrounding whitespace.
func (s *ContentService) Lookup(ctx context.Context, code string) (*models.ContentEntry, error) {
	entry, err := s.content.Lookup(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if entry == nil {
		return nil, ErrCodeNotFound
	}
	return entry, nil
}

// Add parses the admin-supplied value and upserts the code. Re-adding a code
// replaces its descriptor.
func (s *ContentService) Add(ctx context.Context, code, value string) (models.Descriptor, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Descriptor{}, fmt.Errorf("%w: empty code", ErrDescriptorInvalid)
	}
	descriptor, err := ParseDescriptor(value)
	if err != nil {
		return models.Descriptor{}, err
	}
	if err := s.content.Upsert(ctx, code, descriptor); err != nil {
		return models.Descriptor{}, err
	}
	return descriptor, nil
}

// Remove deletes a code; ErrCodeNotFound when it was absent.
func (s *ContentService) Remove(ctx context.Context, code string) error {
	removed, err := s.content.Remove(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("remove code: %w", err)
	}
	if !removed {
		return ErrCodeNotFound
	}
	return nil
}

func (s *ContentService) List(ctx context.Context) ([]string, error) {
	return s.content.List(ctx)
}

// ParseDescriptor turns an admin-entered value into a delivery descriptor.
// A t.me channel-post link becomes a channel repost; any other non-empty
// value is treated as a transport asset id.
func ParseDescriptor(value string) (models.Descriptor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return models.Descriptor{}, fmt.Errorf("%w: empty value", ErrDescriptorInvalid)
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") || strings.HasPrefix(value, "t.me/") {
		return parseChannelLink(value)
	}

	if strings.ContainsAny(value, " \t\n") {
		return models.Descriptor{}, fmt.Errorf("%w: asset id contains whitespace", ErrDescriptorInvalid)
	}
	return models.Descriptor{Kind: models.KindDirectAsset, AssetID: value}, nil
}

// parseChannelLink extracts repost coordinates from links of the form
// https://t.me/c/<channel>/<message>. Private channel ids on the Bot API
// carry the -100 prefix in front of the short id used in links.
func parseChannelLink(link string) (models.Descriptor, error) {
	trimmed := strings.TrimSuffix(link, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return models.Descriptor{}, fmt.Errorf("%w: link too short: %s", ErrDescriptorInvalid, link)
	}

	messageID, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || messageID <= 0 {
		return models.Descriptor{}, fmt.Errorf("%w: bad message id in %s", ErrDescriptorInvalid, link)
	}

	channelPart := parts[len(parts)-2]
	shortID, err := strconv.ParseInt(channelPart, 10, 64)
	if err != nil || shortID <= 0 {
		return models.Descriptor{}, fmt.Errorf("%w: bad channel id in %s", ErrDescriptorInvalid, link)
	}
	chatID, err := strconv.ParseInt("-100"+channelPart, 10, 64)
	if err != nil {
		return models.Descriptor{}, fmt.Errorf("%w: bad channel id in %s", ErrDescriptorInvalid, link)
	}

	return models.Descriptor{
		Kind:            models.KindChannelRepost,
		SourceChatID:    chatID,
		SourceMessageID: messageID,
	}, nil
}
