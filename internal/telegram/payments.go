package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"annexbot/internal/adapter/repo"
	"annexbot/internal/domain"
)

// PurchaseOption is one fixed token package.
type PurchaseOption struct {
	Tokens    int64
	AmountRub int
	Label     string
}

var purchaseOptions = map[string]PurchaseOption{
	"50k":  {Tokens: 50_000, AmountRub: 99, Label: "💎 50.000 токенов - 99р"},
	"200k": {Tokens: 200_000, AmountRub: 239, Label: "💎 200.000 токенов - 239р"},
	"500k": {Tokens: 500_000, AmountRub: 529, Label: "💎 500.000 токенов - 529р"},
	"1m":   {Tokens: 1_000_000, AmountRub: 999, Label: "💎 1.000.000 токенов - 999р"},
}

var purchaseOrder = []string{"50k", "200k", "500k", "1m"}

const referralPurchaseShare = 0.02

func buildPayload(optionKey string, tgID int64) string {
	return fmt.Sprintf("pay:%s:%d:%d", optionKey, tgID, time.Now().UnixMilli())
}

func extractOptionKey(payload string) string {
	parts := strings.Split(payload, ":")
	if len(parts) < 2 || parts[0] != "pay" {
		return ""
	}
	return parts[1]
}

// receipt shapes follow the payment provider's fiscalization schema.
type receiptData struct {
	Receipt receipt `json:"receipt"`
}

type receipt struct {
	Customer      *receiptCustomer `json:"customer,omitempty"`
	TaxSystemCode *int             `json:"tax_system_code,omitempty"`
	Items         []receiptItem    `json:"items"`
}

type receiptCustomer struct {
	Email string `json:"email"`
}

type receiptItem struct {
	Description    string        `json:"description"`
	Quantity       int           `json:"quantity"`
	Amount         receiptAmount `json:"amount"`
	VatCode        int           `json:"vat_code"`
	PaymentSubject string        `json:"payment_subject"`
	PaymentMode    string        `json:"payment_mode"`
}

type receiptAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (b *Bot) providerData(account *domain.Account, option PurchaseOption, description string) string {
	data := receiptData{
		Receipt: receipt{
			TaxSystemCode: b.cfg.TaxSystemCode,
			Items: []receiptItem{{
				Description:    description,
				Quantity:       1,
				Amount:         receiptAmount{Value: fmt.Sprintf("%d.00", option.AmountRub), Currency: "RUB"},
				VatCode:        b.cfg.VatCode,
				PaymentSubject: "service",
				PaymentMode:    "full_payment",
			}},
		},
	}
	if account.ReceiptEmail != "" {
		data.Receipt.Customer = &receiptCustomer{Email: account.ReceiptEmail}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (b *Bot) sendInvoice(ctx context.Context, chatID int64, account *domain.Account, optionKey string, option PurchaseOption) error {
	description := "Пакет " + formatTokens(option.Tokens) + " токенов"
	invoice := tgbotapi.NewInvoice(chatID,
		"Покупка токенов",
		description,
		buildPayload(optionKey, account.TgID),
		b.cfg.PaymentProviderToken,
		"buy_"+optionKey,
		"RUB",
		[]tgbotapi.LabeledPrice{{Label: description, Amount: option.AmountRub * 100}},
	)
	invoice.NeedEmail = true
	invoice.SendEmailToProvider = true
	invoice.ProviderData = b.providerData(account, option, description)
	return b.sender.Send(ctx, invoice)
}

func (b *Bot) handlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	key := extractOptionKey(query.InvoicePayload)
	if _, ok := purchaseOptions[key]; key == "" || !ok {
		answer.OK = false
		answer.ErrorMessage = msgBadPayment
	}
	if err := b.sender.Send(ctx, answer); err != nil {
		b.log.Error().Err(err).Msg("answer pre-checkout")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	tgID := msg.From.ID
	account, err := b.store.GetOrCreateAccount(ctx, tgID, msg.From.UserName, msg.From.FirstName, msg.From.LastName, nil)
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", tgID).Msg("load account for payment")
		return
	}

	key := extractOptionKey(payment.InvoicePayload)
	option, ok := purchaseOptions[key]
	if !ok {
		b.reply(ctx, msg.Chat.ID, "Оплата получена, но пакет не найден. Напишите "+msgSupportHandle)
		return
	}

	receiptEmail := ""
	if payment.OrderInfo != nil && payment.OrderInfo.Email != "" {
		receiptEmail = payment.OrderInfo.Email
		if err := b.store.SetReceiptEmail(ctx, tgID, receiptEmail); err != nil {
			b.log.Error().Err(err).Int64("tg_id", tgID).Msg("save receipt email")
		}
	}

	description := "Пакет " + formatTokens(option.Tokens) + " токенов"
	created, err := b.store.UpsertPayment(ctx, repo.Payment{
		UserID:                  tgID,
		ProviderPaymentChargeID: payment.ProviderPaymentChargeID,
		TelegramPaymentChargeID: payment.TelegramPaymentChargeID,
		Payload:                 payment.InvoicePayload,
		AmountRub:               payment.TotalAmount / 100,
		Tokens:                  option.Tokens,
		Status:                  "succeeded",
		ReceiptEmail:            receiptEmail,
		Description:             description,
	})
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", tgID).Msg("record payment")
	}
	if !created {
		// Duplicate webhook for an already-recorded charge: never credit twice.
		b.log.Warn().Int64("tg_id", tgID).Str("charge_id", payment.ProviderPaymentChargeID).
			Msg("duplicate payment notification ignored")
		return
	}

	if err := b.store.Credit(ctx, tgID, option.Tokens); err != nil {
		b.log.Error().Err(err).Int64("tg_id", tgID).Msg("credit purchase")
		return
	}

	if account.ReferrerID != nil {
		bonus := int64(math.Round(float64(option.Tokens) * referralPurchaseShare))
		if bonus > 0 {
			if err := b.store.AddReferralEarned(ctx, *account.ReferrerID, bonus); err != nil {
				b.log.Error().Err(err).Int64("referrer", *account.ReferrerID).Msg("credit referral bonus")
			} else {
				b.reply(ctx, *account.ReferrerID, "Вам начислен реферальный бонус: "+formatTokens(bonus)+" токенов.")
			}
		}
	}

	b.reply(ctx, msg.Chat.ID, "Оплата прошла успешно. Начислено "+formatTokens(option.Tokens)+" токенов.")
}

func parseGrantTarget(text string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
}
