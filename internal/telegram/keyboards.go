package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"annexbot/internal/domain"
)

func btn(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func row(buttons ...tgbotapi.InlineKeyboardButton) []tgbotapi.InlineKeyboardButton {
	return buttons
}

// marked prefixes the label with a check when it is the active choice.
func marked(label, value, current string) string {
	if value == current {
		return "✅ " + label
	}
	return label
}

func startKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("🧠 Выбор модели", "menu:models")),
		row(btn("💳 Купить токены", "menu:buy")),
		row(btn("🔗 Пригласить друга", "menu:invite")),
		row(btn("👤 Мой профиль", "menu:profile")),
	)
}

func subscribeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("✅ Я подписался", "sub:check")),
	)
}

func modelSelectKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("🍌 Nano Banana", "model:nano")),
		row(btn("🍌 Nano Banana Pro", "model:nano-pro")),
		row(btn("🌊 Flux Kontext", "model:flux")),
		row(btn("🎨 Ideogram", "model:ideogram")),
		row(btn("⬅️ Назад", "menu:start")),
	)
}

func modelInfoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("⚙️ Настройки", "settings")),
		row(btn("🏠 Вернуться в меню", "menu:start")),
	)
}

func settingsMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("🖼️ Изменить формат", "settings:format_menu")),
		row(btn("📏 Изменить разрешение", "settings:resolution_menu")),
		row(btn("⬅️ Назад", "settings:back_to_model")),
	)
}

func formatKeyboard(settings domain.Settings) tgbotapi.InlineKeyboardMarkup {
	format := settings.OutputFormat
	ratio := settings.AspectRatio
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn(marked("🖼️ Авто", "auto", format), "settings:format:auto"),
			btn(marked("🖼️ PNG", "png", format), "settings:format:png"),
			btn(marked("🖼️ JPG", "jpg", format), "settings:format:jpg")),
		row(btn(marked("📐 1:1", "1:1", ratio), "settings:ratio:1:1"),
			btn(marked("📐 2:3", "2:3", ratio), "settings:ratio:2:3"),
			btn(marked("📐 3:2", "3:2", ratio), "settings:ratio:3:2")),
		row(btn(marked("📐 3:4", "3:4", ratio), "settings:ratio:3:4"),
			btn(marked("📐 16:9", "16:9", ratio), "settings:ratio:16:9"),
			btn(marked("📐 9:16", "9:16", ratio), "settings:ratio:9:16")),
		row(btn(marked("📐 auto", "auto", ratio), "settings:ratio:auto")),
		row(btn("⬅️ Назад", "settings:back")),
	)
}

func resolutionKeyboard(settings domain.Settings) tgbotapi.InlineKeyboardMarkup {
	resolution := settings.Resolution
	if resolution == "" {
		resolution = "2k"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn(marked("📏 1K", "1k", resolution), "settings:res:1k"),
			btn(marked("📏 2K", "2k", resolution), "settings:res:2k"),
			btn(marked("📏 4K", "4k", resolution), "settings:res:4k")),
		row(btn("⬅️ Назад", "settings:back")),
	)
}

func buyKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(purchaseOrder)+2)
	for _, key := range purchaseOrder {
		opt := purchaseOptions[key]
		rows = append(rows, row(btn(opt.Label, "buy:pack:"+key)))
	}
	rows = append(rows, row(btn("🎟️ Активировать промокод", "promo:activate")))
	rows = append(rows, row(btn("⬅️ Назад", "buy:back")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("🧾 Мои платежи", "profile:payments")),
		row(btn("⬅️ Назад", "profile:back")),
	)
}

func paymentsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("⬅️ Назад", "menu:profile")),
	)
}

func referralKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("⬅️ Назад", "menu:start")),
	)
}

func adminKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btn("📊 Статистика", "admin:stats")),
		row(btn("🎁 Выдать 50 000", "admin:grant")),
		row(btn("🎟️ Промокод 50 000", "admin:promo")),
	)
}
