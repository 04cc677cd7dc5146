package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"annexbot/internal/infra"
)

const defaultInlineLimit = 10 * 1024 * 1024

const (
	msgCompressFailed  = "Не удалось сжать изображение для быстрой отправки."
	msgOriginalComing  = "🗂️ Качественная версия (без сжатия) будет загружена файлом в течение 5 минут."
	msgOriginalCaption = "Качественная версия (без сжатия)"
)

// MediaSender is the slice of the messaging front end delivery depends on.
type MediaSender interface {
	// SendPhotoURL sends a photo by remote reference without downloading.
	SendPhotoURL(ctx context.Context, chatID int64, url string) error
	// SendPhotoFile sends a local file as an inline photo.
	SendPhotoFile(ctx context.Context, chatID int64, path string) error
	// SendDocumentFile sends a local file as a document with a caption.
	SendDocumentFile(ctx context.Context, chatID int64, path, caption string) error
	// SendText sends a plain text message.
	SendText(ctx context.Context, chatID int64, text string) error
}

// Deliverer hands finished assets to the user: direct reference when the
// transport accepts it, otherwise a local fetch with adaptive re-encoding
// for oversized payloads plus an async full-quality document.
type Deliverer struct {
	sender      MediaSender
	httpClient  *http.Client
	inlineLimit int64
	log         infra.Logger

	wg sync.WaitGroup
}

type Options struct {
	Sender      MediaSender
	HTTPClient  *http.Client
	InlineLimit int64
	Logger      infra.Logger
}

func NewDeliverer(opts Options) *Deliverer {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	limit := opts.InlineLimit
	if limit <= 0 {
		limit = defaultInlineLimit
	}
	return &Deliverer{
		sender:      opts.Sender,
		httpClient:  httpClient,
		inlineLimit: limit,
		log:         opts.Logger,
	}
}

// Wait blocks until all async document uploads have finished.
func (d *Deliverer) Wait() {
	d.wg.Wait()
}

// Deliver sends one asset. The direct-reference path is tried first; on
// rejection the asset is fetched locally and sent inline, re-encoded if it
// exceeds the inline limit. Oversized originals are additionally sent as a
// document in the background. Temp files are removed on every path.
func (d *Deliverer) Deliver(ctx context.Context, chatID int64, assetURL string) error {
	if err := d.sender.SendPhotoURL(ctx, chatID, assetURL); err == nil {
		return nil
	} else {
		d.log.Debug().Err(err).Str("url", assetURL).Msg("direct send rejected, fetching")
	}

	tempPath, size, err := d.fetch(ctx, assetURL)
	if err != nil {
		return err
	}

	if size <= d.inlineLimit {
		defer os.Remove(tempPath)
		if err := d.sender.SendPhotoFile(ctx, chatID, tempPath); err != nil {
			return fmt.Errorf("send photo: %w", err)
		}
		return nil
	}

	d.sendOversized(ctx, chatID, tempPath)
	return nil
}

// sendOversized sends a compressed preview now and the original as a
// document in the background. Ownership of tempPath moves to the
// background goroutine.
func (d *Deliverer) sendOversized(ctx context.Context, chatID int64, tempPath string) {
	compressed, err := encodeUnderLimit(tempPath, d.inlineLimit)
	if err != nil {
		d.log.Warn().Err(err).Msg("adaptive re-encode failed")
		if err := d.sender.SendText(ctx, chatID, msgCompressFailed); err != nil {
			d.log.Error().Err(err).Msg("send compress-failed notice")
		}
	} else {
		if err := d.sender.SendPhotoFile(ctx, chatID, compressed); err != nil {
			d.log.Error().Err(err).Msg("send compressed photo")
		}
		os.Remove(compressed)
	}

	if err := d.sender.SendText(ctx, chatID, msgOriginalComing); err != nil {
		d.log.Error().Err(err).Msg("send original-pending notice")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer os.Remove(tempPath)
		docCtx := context.WithoutCancel(ctx)
		if err := d.sender.SendDocumentFile(docCtx, chatID, tempPath, msgOriginalCaption); err != nil {
			d.log.Error().Err(err).Int64("chat_id", chatID).Msg("send original document")
		}
	}()
}

// fetch downloads the asset into a temp file and returns its path and
// size. The temp file is removed here on any error.
func (d *Deliverer) fetch(ctx context.Context, assetURL string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "annexbot/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("fetch asset: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "kie_*.png")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write asset: %w", err)
	}
	return tmp.Name(), size, nil
}
