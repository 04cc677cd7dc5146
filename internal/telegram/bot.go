package telegram

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"annexbot/internal/adapter/repo"
	"annexbot/internal/domain"
	"annexbot/internal/generation"
	"annexbot/internal/infra"
)

const (
	actionWaitPromo  = "wait_promo"
	actionAdminGrant = "admin_grant"

	referralJoinBonus = 50_000
	adminGrantTokens  = 50_000
	promoTokens       = 50_000

	promoPrefix   = "ANNEX"
	promoAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	promoLength   = 6
)

// Bot wires Telegram updates into the generation engine, the token store
// and the payment flow. Updates are handled serially in Run's goroutine;
// only generation itself runs in the background.
type Bot struct {
	api    *tgbotapi.BotAPI
	sender *Sender
	store  *repo.Store
	agg    *generation.Aggregator
	engine *generation.Engine
	price  domain.PriceFunc
	cfg    *infra.Config
	loc    *time.Location
	log    infra.Logger
}

func NewBot(api *tgbotapi.BotAPI, sender *Sender, store *repo.Store, agg *generation.Aggregator, engine *generation.Engine, cfg *infra.Config, log infra.Logger) *Bot {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Warn().Str("tz", cfg.TimeZone).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}
	return &Bot{
		api:    api,
		sender: sender,
		store:  store,
		agg:    agg,
		engine: engine,
		price:  domain.DefaultPricing,
		cfg:    cfg,
		loc:    loc,
		log:    log,
	}
}

// Run consumes the long-poll update stream until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		b.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	from := msg.From
	account, err := b.store.GetOrCreateAccount(ctx, from.ID, from.UserName, from.FirstName, from.LastName, nil)
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", from.ID).Msg("load account")
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(ctx, account, msg)
		case "admin":
			if b.isAdmin(from.ID) {
				b.replyKB(ctx, chatID, "🛠️ Админ-панель", adminKeyboard())
			} else {
				b.reply(ctx, chatID, msgNoAccess)
			}
		}
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, account, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if b.handlePendingAction(ctx, account, chatID, text) {
		return
	}

	if account.CurrentModel == "" {
		b.reply(ctx, chatID, msgSelectModelFirst)
		return
	}
	if !b.ensureSubscribed(ctx, from.ID, chatID) {
		return
	}
	b.submitPrompt(ctx, account, chatID, text)
}

func (b *Bot) handleStart(ctx context.Context, account *domain.Account, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if referrerID, ok := extractReferrer(msg.CommandArguments()); ok && referrerID != account.TgID {
		set, err := b.store.SetReferrerIfEmpty(ctx, account.TgID, referrerID)
		if err != nil {
			b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("set referrer")
		} else if set {
			if err := b.store.Credit(ctx, account.TgID, referralJoinBonus); err != nil {
				b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("credit join bonus")
			} else {
				account.Balance += referralJoinBonus
				b.reply(ctx, chatID, msgReferralWelcome)
			}
		}
	}
	if !b.ensureSubscribed(ctx, account.TgID, chatID) {
		return
	}
	b.replyKB(ctx, chatID, startText(account.Balance), startKeyboard())
}

func (b *Bot) handlePhoto(ctx context.Context, account *domain.Account, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if account.CurrentModel == "" {
		b.reply(ctx, chatID, msgSelectModelFirst)
		return
	}
	if !b.ensureSubscribed(ctx, account.TgID, chatID) {
		return
	}

	largest := msg.Photo[len(msg.Photo)-1]
	result, err := b.agg.AddInput(ctx, account, chatID, largest.FileID, msg.MediaGroupID)
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("stage input")
		return
	}

	caption := strings.TrimSpace(msg.Caption)
	switch result.Status {
	case generation.InputRejectedCap:
		b.reply(ctx, chatID, photoLimitText(result.Cap))
	case generation.InputAccepted:
		if caption != "" {
			b.submitPrompt(ctx, account, chatID, caption)
			return
		}
		b.reply(ctx, chatID, photoReceivedText(result.Count, result.Cap))
	case generation.InputBuffered:
		// Album siblings stay silent; the flush notifier reports the total
		// once the burst settles. A caption starts the job right away, the
		// drain inside Submit picks up the whole burst.
		if caption != "" {
			b.submitPrompt(ctx, account, chatID, caption)
		}
	}
}

func (b *Bot) handlePendingAction(ctx context.Context, account *domain.Account, chatID int64, text string) bool {
	action, err := b.store.GetPendingAction(ctx, account.TgID)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("load pending action")
		return false
	}
	if err := b.store.ClearPendingAction(ctx, account.TgID); err != nil {
		b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("clear pending action")
	}

	switch action.State {
	case actionWaitPromo:
		code := strings.ToUpper(strings.TrimSpace(text))
		tokens, err := b.store.RedeemPromoCode(ctx, account.TgID, code)
		switch {
		case errors.Is(err, domain.ErrPromoNotFound):
			b.reply(ctx, chatID, msgPromoNotFound)
		case errors.Is(err, domain.ErrPromoAlreadyUsed):
			b.reply(ctx, chatID, msgPromoUsed)
		case err != nil:
			b.log.Error().Err(err).Str("code", code).Msg("redeem promo")
			b.reply(ctx, chatID, "Не удалось активировать промокод, попробуйте позже.")
		default:
			b.reply(ctx, chatID, "🎉 Промокод активирован! Начислено "+formatTokens(tokens)+" токенов.")
		}
		return true
	case actionAdminGrant:
		if !b.isAdmin(account.TgID) {
			return false
		}
		target, err := parseGrantTarget(text)
		if err != nil {
			b.reply(ctx, chatID, msgBadGrantID)
			return true
		}
		if _, err := b.store.GetAccount(ctx, target); err != nil {
			b.reply(ctx, chatID, msgGrantTargetGone)
			return true
		}
		if err := b.store.Credit(ctx, target, adminGrantTokens); err != nil {
			b.log.Error().Err(err).Int64("target", target).Msg("admin grant")
			b.reply(ctx, chatID, "Не удалось начислить токены.")
			return true
		}
		b.reply(ctx, chatID, "Начислено "+formatTokens(adminGrantTokens)+" токенов пользователю "+strconv.FormatInt(target, 10))
		b.reply(ctx, target, "🎁 Вам начислено "+formatTokens(adminGrantTokens)+" токенов!")
		return true
	}
	return false
}

func (b *Bot) submitPrompt(ctx context.Context, account *domain.Account, chatID int64, prompt string) {
	err := b.engine.Submit(ctx, account, chatID, prompt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoModelSelected):
		b.reply(ctx, chatID, msgSelectModelFirst)
	case errors.Is(err, domain.ErrAdmissionDenied):
		b.reply(ctx, chatID, msgAlreadyRunning)
	case errors.Is(err, domain.ErrInsufficientBalance):
		b.reply(ctx, chatID, msgInsufficient)
	case errors.Is(err, domain.ErrPreflightRejected):
		b.reply(ctx, chatID, msgNeedInputs)
	default:
		b.log.Error().Err(err).Int64("tg_id", account.TgID).Msg("submit job")
		b.reply(ctx, chatID, "Не удалось запустить генерацию, попробуйте позже.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.log.Debug().Err(err).Msg("answer callback")
	}
	if cq.Message == nil || cq.From == nil {
		return
	}
	from := cq.From
	account, err := b.store.GetOrCreateAccount(ctx, from.ID, from.UserName, from.FirstName, from.LastName, nil)
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", from.ID).Msg("load account")
		return
	}
	chatID := cq.Message.Chat.ID
	messageID := cq.Message.MessageID
	data := cq.Data

	switch {
	case data == "sub:check":
		if b.ensureSubscribed(ctx, account.TgID, chatID) {
			b.replyKB(ctx, chatID, startText(account.Balance), startKeyboard())
		}

	case data == "menu:start":
		b.edit(ctx, chatID, messageID, startText(account.Balance), startKeyboard())

	case data == "menu:models":
		b.edit(ctx, chatID, messageID, "🧠 Выберите модель:", modelSelectKeyboard())

	case strings.HasPrefix(data, "model:"):
		b.selectModel(ctx, account, chatID, messageID, strings.TrimPrefix(data, "model:"))

	case data == "settings" || data == "settings:back":
		costDefault, cost4k := b.costPair(account)
		b.edit(ctx, chatID, messageID, settingsMenuText(account, costDefault, cost4k), settingsMenuKeyboard())

	case data == "settings:format_menu":
		b.edit(ctx, chatID, messageID, formatMenuText(account), formatKeyboard(account.Settings))

	case data == "settings:resolution_menu":
		costDefault, cost4k := b.costPair(account)
		b.edit(ctx, chatID, messageID, resolutionMenuText(account, costDefault, cost4k), resolutionKeyboard(account.Settings))

	case strings.HasPrefix(data, "settings:format:"):
		value := strings.TrimPrefix(data, "settings:format:")
		if err := b.store.SetOutputFormat(ctx, account.TgID, value); err != nil {
			b.log.Error().Err(err).Msg("set output format")
			return
		}
		account.Settings.OutputFormat = value
		b.edit(ctx, chatID, messageID, formatMenuText(account), formatKeyboard(account.Settings))

	case strings.HasPrefix(data, "settings:res:"):
		value := strings.TrimPrefix(data, "settings:res:")
		if err := b.store.SetResolution(ctx, account.TgID, value); err != nil {
			b.log.Error().Err(err).Msg("set resolution")
			return
		}
		account.Settings.Resolution = value
		costDefault, cost4k := b.costPair(account)
		b.edit(ctx, chatID, messageID, resolutionMenuText(account, costDefault, cost4k), resolutionKeyboard(account.Settings))

	case strings.HasPrefix(data, "settings:ratio:"):
		value := strings.TrimPrefix(data, "settings:ratio:")
		if err := b.store.SetAspectRatio(ctx, account.TgID, value); err != nil {
			b.log.Error().Err(err).Msg("set aspect ratio")
			return
		}
		account.Settings.AspectRatio = value
		b.edit(ctx, chatID, messageID, formatMenuText(account), formatKeyboard(account.Settings))

	case data == "settings:back_to_model":
		b.edit(ctx, chatID, messageID, modelInfoText(account, b.modelCost(account)), modelInfoKeyboard())

	case data == "menu:buy" || data == "buy:back":
		b.edit(ctx, chatID, messageID, buyText(), buyKeyboard())

	case strings.HasPrefix(data, "buy:pack:"):
		key := strings.TrimPrefix(data, "buy:pack:")
		option, ok := purchaseOptions[key]
		if !ok {
			b.reply(ctx, chatID, msgPackNotFound)
			return
		}
		if err := b.sendInvoice(ctx, chatID, account, key, option); err != nil {
			b.log.Error().Err(err).Str("pack", key).Msg("send invoice")
			b.reply(ctx, chatID, "Не удалось выставить счёт, попробуйте позже.")
		}

	case data == "promo:activate":
		if err := b.store.SetPendingAction(ctx, account.TgID, actionWaitPromo, ""); err != nil {
			b.log.Error().Err(err).Msg("set pending action")
			return
		}
		b.reply(ctx, chatID, msgEnterPromo)

	case data == "menu:profile" || data == "profile:back":
		usage, err := b.store.ModelUsageTotals(ctx, account.TgID)
		if err != nil {
			b.log.Error().Err(err).Msg("load usage totals")
			return
		}
		b.edit(ctx, chatID, messageID, profileText(account, usage), profileKeyboard())

	case data == "profile:payments":
		payments, err := b.store.ListPayments(ctx, account.TgID)
		if err != nil {
			b.log.Error().Err(err).Msg("list payments")
			return
		}
		b.edit(ctx, chatID, messageID, paymentsText(payments, b.loc), paymentsKeyboard())

	case data == "menu:invite" || data == "profile:ref":
		count, err := b.store.CountReferrals(ctx, account.TgID)
		if err != nil {
			b.log.Error().Err(err).Msg("count referrals")
			return
		}
		invitees, err := b.store.ListReferrals(ctx, account.TgID, 10)
		if err != nil {
			b.log.Error().Err(err).Msg("list referrals")
			return
		}
		b.edit(ctx, chatID, messageID, referralText(b.cfg.BotUsername, account.TgID, count, account.ReferralEarned, invitees), referralKeyboard())

	case strings.HasPrefix(data, "admin:"):
		b.handleAdminCallback(ctx, account, chatID, messageID, data)
	}
}

func (b *Bot) handleAdminCallback(ctx context.Context, account *domain.Account, chatID int64, messageID int, data string) {
	if !b.isAdmin(account.TgID) {
		b.reply(ctx, chatID, msgNoAccess)
		return
	}
	switch data {
	case "admin:panel":
		b.edit(ctx, chatID, messageID, "🛠️ Админ-панель", adminKeyboard())
	case "admin:stats":
		total, err := b.store.CountUsers(ctx)
		if err != nil {
			b.log.Error().Err(err).Msg("count users")
			return
		}
		b.edit(ctx, chatID, messageID, adminStatsText(total, b.engine.ActiveJobs()), adminKeyboard())
	case "admin:grant":
		if err := b.store.SetPendingAction(ctx, account.TgID, actionAdminGrant, ""); err != nil {
			b.log.Error().Err(err).Msg("set pending action")
			return
		}
		b.reply(ctx, chatID, msgEnterGrantID)
	case "admin:promo":
		code := generatePromoCode()
		if err := b.store.CreatePromoCode(ctx, code, promoTokens); err != nil {
			b.log.Error().Err(err).Msg("create promo code")
			b.reply(ctx, chatID, "Не удалось создать промокод.")
			return
		}
		b.reply(ctx, chatID, "🎟️ Промокод на "+formatTokens(promoTokens)+" токенов: "+code)
	}
}

func (b *Bot) selectModel(ctx context.Context, account *domain.Account, chatID int64, messageID int, short string) {
	var id string
	switch short {
	case "nano":
		id = domain.ModelNanoBanana
	case "nano-pro":
		id = domain.ModelNanoBananaPro
	case "flux":
		id = domain.ModelFlux
	case "ideogram":
		id = domain.ModelIdeogram
	default:
		return
	}
	if err := b.store.SetCurrentModel(ctx, account.TgID, id); err != nil {
		b.log.Error().Err(err).Str("model", id).Msg("set model")
		return
	}
	// Inputs staged for the previous model do not carry over.
	if err := b.agg.Reset(ctx, account.TgID); err != nil {
		b.log.Error().Err(err).Msg("reset pending inputs")
	}
	account.CurrentModel = id
	b.edit(ctx, chatID, messageID, modelInfoText(account, b.modelCost(account)), modelInfoKeyboard())
}

func (b *Bot) ensureSubscribed(ctx context.Context, tgID, chatID int64) bool {
	if b.cfg.RequiredChannelID == 0 {
		return true
	}
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: b.cfg.RequiredChannelID, UserID: tgID},
	})
	if err != nil {
		// Membership check failure must not lock users out.
		b.log.Warn().Err(err).Int64("tg_id", tgID).Msg("check channel membership")
		return true
	}
	switch member.Status {
	case "member", "administrator", "creator":
		return true
	}
	b.replyKB(ctx, chatID, msgSubscribeRequired, subscribeKeyboard())
	return false
}

func (b *Bot) isAdmin(tgID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

func (b *Bot) modelCost(account *domain.Account) int64 {
	model, ok := domain.ModelByID(account.CurrentModel)
	if !ok {
		return 0
	}
	return b.price(model, account.Settings, 0)
}

func (b *Bot) costPair(account *domain.Account) (int64, int64) {
	model, ok := domain.ModelByID(account.CurrentModel)
	if !ok {
		model, _ = domain.ModelByID(domain.ModelNanoBananaPro)
	}
	base := account.Settings
	base.Resolution = "2k"
	high := account.Settings
	high.Resolution = "4k"
	return b.price(model, base, 0), b.price(model, high, 0)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.sender.SendText(ctx, chatID, text); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

func (b *Bot) replyKB(ctx context.Context, chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if err := b.sender.Send(ctx, msg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if err := b.sender.Send(ctx, tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, kb)); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("edit message")
	}
}

func extractReferrer(args string) (int64, bool) {
	args = strings.TrimSpace(args)
	if !strings.HasPrefix(args, "ref") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args, "ref"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func generatePromoCode() string {
	buf := make([]byte, promoLength)
	for i := range buf {
		buf[i] = promoAlphabet[rand.Intn(len(promoAlphabet))]
	}
	return promoPrefix + string(buf)
}
