package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	"annexbot/internal/infra"
)

const (
	sendRetries    = 2 // attempts = retries + 1
	sendRetryDelay = 500 * time.Millisecond
)

// Sender wraps the bot API with a small bounded retry for transient
// transport failures. An "message is not modified" edit rejection counts
// as success.
type Sender struct {
	api *tgbotapi.BotAPI
	log infra.Logger
}

func NewSender(api *tgbotapi.BotAPI, log infra.Logger) *Sender {
	return &Sender{api: api, log: log}
}

// Send delivers any chattable with retry.
func (s *Sender) Send(ctx context.Context, c tgbotapi.Chattable) error {
	return retry.Do(ctx, retry.WithMaxRetries(sendRetries, retry.NewConstant(sendRetryDelay)), func(ctx context.Context) error {
		_, err := s.api.Request(c)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		if isTransient(err) {
			s.log.Warn().Err(err).Msg("telegram send failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	return s.Send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendPhotoURL sends a photo by remote reference without downloading it.
func (s *Sender) SendPhotoURL(ctx context.Context, chatID int64, url string) error {
	return s.Send(ctx, tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url)))
}

// SendPhotoFile sends a local file as an inline photo.
func (s *Sender) SendPhotoFile(ctx context.Context, chatID int64, path string) error {
	return s.Send(ctx, tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path)))
}

// SendDocumentFile sends a local file as a document.
func (s *Sender) SendDocumentFile(ctx context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	return s.Send(ctx, doc)
}

// FileURL resolves an attachment reference to a downloadable URL.
func (s *Sender) FileURL(ctx context.Context, fileRef string) (string, error) {
	file, err := s.api.GetFile(tgbotapi.FileConfig{FileID: fileRef})
	if err != nil {
		return "", fmt.Errorf("get file %s: %w", fileRef, err)
	}
	return file.Link(s.api.Token), nil
}

// isTransient classifies transport-level failures worth a retry. API-level
// rejections (bad request, forbidden, flood) are not retried here.
func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"connection reset",
		"Connection reset",
		"no such host",
		"i/o timeout",
		"Client.Timeout",
		"no response",
		"EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
