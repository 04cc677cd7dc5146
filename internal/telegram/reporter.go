package telegram

import (
	"context"
	"fmt"

	"annexbot/internal/infra"
)

// Reporter pushes generation lifecycle updates back into the chat.
type Reporter struct {
	sender *Sender
	log    infra.Logger
}

func NewReporter(sender *Sender, log infra.Logger) *Reporter {
	return &Reporter{sender: sender, log: log}
}

func (r *Reporter) JobAccepted(ctx context.Context, chatID int64, queued int) {
	r.notify(ctx, chatID, msgAccepted)
}

func (r *Reporter) JobFailed(ctx context.Context, chatID int64, reason string) {
	text := "Ошибка при генерации. Токены возвращены."
	if reason != "" {
		text = "Генерация не удалась: " + reason + "\nТокены возвращены."
	}
	r.notify(ctx, chatID, text)
}

func (r *Reporter) JobTimedOut(ctx context.Context, chatID int64) {
	r.notify(ctx, chatID, msgTimedOut)
}

func (r *Reporter) JobEmptyResult(ctx context.Context, chatID int64) {
	r.notify(ctx, chatID, msgEmptyResult)
}

func (r *Reporter) InputsDegraded(ctx context.Context, chatID int64, kept, total int) {
	r.notify(ctx, chatID, fmt.Sprintf("Загрузилось %d/%d фото, генерация продолжится с ними.", kept, total))
}

func (r *Reporter) DeliveryFailed(ctx context.Context, chatID int64, assetURL string, err error) {
	r.log.Error().Err(err).Str("asset", assetURL).Int64("chat_id", chatID).Msg("deliver asset")
	r.notify(ctx, chatID, "Ошибка отправки изображения. Напишите "+msgSupportHandle)
}

func (r *Reporter) notify(ctx context.Context, chatID int64, text string) {
	if err := r.sender.SendText(ctx, chatID, text); err != nil {
		r.log.Error().Err(err).Int64("chat_id", chatID).Msg("send status update")
	}
}

// AlbumNotifier adapts the sender into the input buffer's flush callback:
// once an album settles it tells the chat how full the queue is.
func AlbumNotifier(sender *Sender, log infra.Logger) func(chatID int64, count, capacity int) {
	return func(chatID int64, count, capacity int) {
		if err := sender.SendText(context.Background(), chatID, photoReceivedText(count, capacity)); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("send album notice")
		}
	}
}
