// Package relay is the per-session message log. Only participants may read
// or write, and only active sessions accept writes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/blob"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/signaling"
	"pairchat/backend/internal/storage"
)

type Store interface {
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	AppendAttachment(ctx context.Context, att *models.Attachment, msg *models.Message) error
	ListMessages(ctx context.Context, sessionID string, afterID uint, limit int) ([]models.Message, error)
	ListAttachments(ctx context.Context, sessionID string) ([]models.Attachment, error)
}

type Moderator interface {
	ModerateText(content string) bool
}

type BlobStore interface {
	Put(ctx context.Context, data []byte) (*blob.Object, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

type Service struct {
	Store     Store
	Moderator Moderator
	Blobs     BlobStore
	Events    Publisher
	log       *slog.Logger
}

// NewService creates a relay. moderator, blobs and events may be nil; without
// blobs attachments are refused, without events nothing is pushed.
func NewService(store Store, moderator Moderator, blobs BlobStore, events Publisher) *Service {
	return &Service{
		Store:     store,
		Moderator: moderator,
		Blobs:     blobs,
		Events:    events,
		log:       logger.With("component", "relay"),
	}
}

// PostMessage appends a text message. Checks run in order: content shape,
// session existence, membership, session status, moderation.
func (s *Service) PostMessage(ctx context.Context, sessionID, authorID, content, msgType string) (*models.Message, error) {
	if msgType == "" {
		msgType = models.MessageText
	}
	if msgType != models.MessageText {
		return nil, apperr.New(apperr.Validation, "unsupported message type")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.New(apperr.Validation, "message is empty")
	}
	if utf8.RuneCountInString(content) > config.MaxMessageLength {
		return nil, apperr.New(apperr.TooLong, "message is too long")
	}

	session, err := s.authorizeWrite(ctx, sessionID, authorID)
	if err != nil {
		return nil, err
	}

	if s.Moderator != nil && !s.Moderator.ModerateText(content) {
		return nil, apperr.New(apperr.Blocked, "message was blocked")
	}

	msg := &models.Message{
		SessionID: sessionID,
		SenderID:  authorID,
		Content:   content,
		Type:      msgType,
	}
	if err := s.Store.AppendMessage(ctx, msg); err != nil {
		return nil, s.storeError(err, "failed to save message", "session_id", sessionID)
	}

	s.publish(ctx, session, models.Event{Type: models.EventMessage, SenderID: authorID, Message: msg})
	return msg, nil
}

// ListMessages returns the log oldest first. afterID is an exclusive cursor;
// limit is clamped to the configured page sizes.
func (s *Service) ListMessages(ctx context.Context, sessionID, requesterID string, afterID uint, limit int) ([]models.Message, error) {
	if _, err := s.authorizeRead(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := s.Store.ListMessages(ctx, sessionID, afterID, ClampLimit(limit))
	if err != nil {
		return nil, s.storeError(err, "failed to list messages", "session_id", sessionID)
	}
	return msgs, nil
}

// AttachmentInput is an uploaded payload waiting to be stored.
type AttachmentInput struct {
	Kind       string
	MimeType   string
	Data       []byte
	DurationMs int64
}

// PostAttachment stores the payload through the blob store and appends an
// attachment plus the message announcing it.
func (s *Service) PostAttachment(ctx context.Context, sessionID, authorID string, in AttachmentInput) (*models.Attachment, *models.Message, error) {
	mimeType, err := validateAttachment(&in)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.authorizeWrite(ctx, sessionID, authorID)
	if err != nil {
		return nil, nil, err
	}
	if s.Blobs == nil {
		return nil, nil, apperr.New(apperr.Internal, "attachments are disabled")
	}

	obj, err := s.Blobs.Put(ctx, in.Data)
	if err != nil {
		s.log.Error("failed to store blob", "session_id", sessionID, "err", err)
		return nil, nil, apperr.Wrap(apperr.Transient, "failed to store attachment", err)
	}

	att := &models.Attachment{
		SessionID:  sessionID,
		SenderID:   authorID,
		Kind:       in.Kind,
		MimeType:   mimeType,
		SizeBytes:  obj.Size,
		DurationMs: in.DurationMs,
		BlobKey:    obj.Key,
		URL:        obj.URL,
	}
	msg := &models.Message{
		SenderID: authorID,
		Content:  obj.URL,
		Type:     in.Kind,
	}
	if err := s.Store.AppendAttachment(ctx, att, msg); err != nil {
		return nil, nil, s.storeError(err, "failed to save attachment", "session_id", sessionID)
	}

	s.publish(ctx, session, models.Event{Type: models.EventMessage, SenderID: authorID, Message: msg})
	return att, msg, nil
}

func (s *Service) ListAttachments(ctx context.Context, sessionID, requesterID string) ([]models.Attachment, error) {
	if _, err := s.authorizeRead(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}
	list, err := s.Store.ListAttachments(ctx, sessionID)
	if err != nil {
		return nil, s.storeError(err, "failed to list attachments", "session_id", sessionID)
	}
	return list, nil
}

// RelaySignal forwards a WebRTC signaling frame to the partner. Frames are
// not stored, so delivery depends on the partner being connected.
func (s *Service) RelaySignal(ctx context.Context, sessionID, fromID string, payload json.RawMessage) error {
	if _, err := signaling.Parse(payload); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid signal", err)
	}

	session, err := s.authorizeWrite(ctx, sessionID, fromID)
	if err != nil {
		return err
	}
	if s.Events == nil {
		return apperr.New(apperr.Internal, "signaling is unavailable")
	}

	event := models.Event{
		Type:       models.EventSignal,
		SessionID:  sessionID,
		Recipients: []string{session.PartnerOf(fromID)},
		SenderID:   fromID,
		Signal:     payload,
		At:         time.Now().UTC(),
	}
	if err := s.Events.PublishEvent(ctx, event); err != nil {
		s.log.Error("failed to relay signal", "session_id", sessionID, "err", err)
		return apperr.Wrap(apperr.Transient, "failed to relay signal", err)
	}
	return nil
}

func (s *Service) authorizeRead(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing user id")
	}
	session, err := s.Store.GetSessionByID(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return nil, s.storeError(err, "failed to load session", "session_id", sessionID)
	}
	if !session.HasParticipant(userID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this session")
	}
	return session, nil
}

func (s *Service) authorizeWrite(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	session, err := s.authorizeRead(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, apperr.New(apperr.SessionClosed, "session has ended")
	}
	return session, nil
}

// storeError maps store failures. A session that ended between the check
// and the insert surfaces as SessionClosed.
func (s *Service) storeError(err error, msg string, attrs ...any) error {
	switch {
	case errors.Is(err, storage.ErrSessionClosed):
		return apperr.New(apperr.SessionClosed, "session has ended")
	case errors.Is(err, storage.ErrSessionNotFound):
		return apperr.New(apperr.NotFound, "session not found")
	}
	s.log.Error(msg, append(attrs, "err", err)...)
	return apperr.FromStorage(err, msg)
}

func (s *Service) publish(ctx context.Context, session *models.Session, event models.Event) {
	if s.Events == nil {
		return
	}
	event.SessionID = session.ID
	event.Recipients = session.Participants()
	if err := s.Events.PublishEvent(ctx, event); err != nil {
		s.log.Warn("failed to publish event", "session_id", session.ID, "type", event.Type, "err", err)
	}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return config.DefaultPageSize
	case limit > config.MaxPageSize:
		return config.MaxPageSize
	}
	return limit
}

func validateAttachment(in *AttachmentInput) (string, error) {
	switch in.Kind {
	case models.AttachmentVoice, models.AttachmentImage, models.AttachmentFile:
	default:
		return "", apperr.New(apperr.Validation, "unsupported attachment kind")
	}
	if len(in.Data) == 0 {
		return "", apperr.New(apperr.Validation, "attachment is empty")
	}
	if len(in.Data) > config.MaxAttachmentBytes {
		return "", apperr.New(apperr.TooLong, "attachment is too large")
	}

	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(in.Data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch in.Kind {
	case models.AttachmentVoice:
		if !isAudio(mimeType) {
			return "", apperr.New(apperr.Validation, "voice message must be audio")
		}
		if in.DurationMs <= 0 {
			return "", apperr.New(apperr.Validation, "voice message needs a duration")
		}
		if time.Duration(in.DurationMs)*time.Millisecond > config.MaxVoiceDuration {
			return "", apperr.New(apperr.TooLong, "voice message is too long")
		}
	case models.AttachmentImage:
		if !strings.HasPrefix(mimeType, "image/") {
			return "", apperr.New(apperr.Validation, "image attachment must be an image")
		}
		in.DurationMs = 0
	default:
		in.DurationMs = 0
	}
	return mimeType, nil
}

func isAudio(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return true
	case mimeType == "application/ogg", mimeType == "video/webm":
		return true
	}
	return false
}
