package telegram

import (
	"fmt"
	"strings"
	"time"

	"annexbot/internal/adapter/repo"
	"annexbot/internal/domain"
)

const (
	msgSupportHandle = "@maxsekret"

	msgSubscribeRequired = "🔔 Перед использованием бота необходимо подписаться на канал:\nhttps://t.me/botorbita\n\nПосле подписки нажмите кнопку ниже."
	msgSelectModelFirst  = "Сначала выберите модель через меню /start"
	msgAlreadyRunning    = "⏳ Уже идет генерация. Дождитесь завершения перед новым запросом."
	msgInsufficient      = "Недостаточно токенов. Пополните баланс в разделе «Купить токены».\n\n📷 Загруженные фото сброшены — после пополнения отправьте их заново."
	msgAccepted          = "Запрос принят. Генерация началась 🍌"
	msgTimedOut          = "Время ожидания истекло. Попробуйте ещё раз.\nТокены возвращены."
	msgEmptyResult       = "Готово, но без изображений. Попробуйте другой запрос.\nТокены возвращены."
	msgNeedInputs        = "Для этой модели нужно хотя бы одно фото. Прикрепите фото и отправьте промпт заново.\nТокены возвращены."
	msgReferralWelcome   = "🎉 Вам начислено 50 000 токенов за переход по реферальной ссылке."
	msgEnterPromo        = "Введите промокод:"
	msgPromoNotFound     = "Промокод не найден."
	msgPromoUsed         = "Этот промокод уже использован."
	msgNoAccess          = "Нет доступа."
	msgEnterGrantID      = "Введите tg_id пользователя для выдачи 50 000 токенов:"
	msgBadGrantID        = "Некорректный tg_id."
	msgGrantTargetGone   = "Пользователь не найден."
	msgPackNotFound      = "Пакет не найден."
	msgBadPayment        = "Некорректный платеж. Попробуйте снова."
)

func startText(balance int64) string {
	return "👋🏻 Привет! У тебя на балансе " + formatTokens(balance) + " токенов – используй их для запросов к нейросетям.\n\n" +
		"🍌 Nano Banana Pro помогает генерировать и редактировать изображения: опиши сцену, меняй объекты и получай чистые детали в 2K.\n" +
		"✨ Быстро, креативно и с точным наследованием исходного фото.\n\n" +
		"❓ По всем вопросам писать – " + msgSupportHandle
}

func modelInfoText(account *domain.Account, cost int64) string {
	queries := int64(0)
	if cost > 0 {
		queries = account.Balance / cost
	}
	title := modelLabel(account.CurrentModel) + " · твори и экспериментируй"
	return title + "\n\n" +
		"📖 Создавайте:\n" +
		"– Создает фотографии по промпту и по вашим изображениям;\n" +
		"– Она отлично наследует исходное фото и может работать с ним. Попросите её, например, отредактировать ваши фото (добавлять, удалять, менять объекты и всё, что угодно).\n\n" +
		"📷 При желании можете прикрепить до " + fmt.Sprint(domain.InputCapFor(account.CurrentModel)) + " фото, а промпт добавить отдельно.\n\n" +
		"✏️ Если промпт не помещается в одном сообщении вместе с фото, прикрепите сначала фото, а следующим сообщением – промпт.\n\n" +
		"⚙️ Настройки\n" +
		"Формат фото: " + formatLabel(account.Settings.OutputFormat) + "\n" +
		"🔹 Баланса хватит на " + fmt.Sprint(queries) + " запросов. 1 генерация = " + formatTokens(cost) + " токенов"
}

func settingsMenuText(account *domain.Account, costDefault, cost4k int64) string {
	return "⚙️ Настройки\n" +
		"Формат файла: " + formatLabel(account.Settings.OutputFormat) + "\n" +
		"Разрешение: " + resolutionLabel(account.Settings.Resolution) + "\n" +
		"Формат кадра: " + aspectRatioLabel(account.Settings.AspectRatio) + "\n\n" +
		costTable(costDefault, cost4k)
}

func formatMenuText(account *domain.Account) string {
	return "🖼️ Формат изображения\n" +
		"Формат файла: " + formatLabel(account.Settings.OutputFormat) + "\n" +
		"Формат кадра: " + aspectRatioLabel(account.Settings.AspectRatio) + "\n\n" +
		"📐 Выберите формат создаваемого фото\n" +
		"1:1: идеально подходит для профильных фото в соцсетях, таких как VK, Telegram и т.д\n\n" +
		"2:3: хорошо подходит для печатных фотографий, но также может использоваться для пинов на Pinterest\n\n" +
		"3:2: широко используемый формат для фотографий, подходит для постов в Telegram, VK, и др.\n\n" +
		"3:4: широко используемый формат для фотографий, карточек товаров и т.д.\n\n" +
		"16:9: стандартный формат для видео, идеален для YouTube, VK и др.\n\n" +
		"9:16: оптимальный формат для Stories в Telegram или вертикальных видео на YouTube\n\n" +
		"auto: автоматически подберет нужный формат"
}

func resolutionMenuText(account *domain.Account, costDefault, cost4k int64) string {
	return "📏 Разрешение\n" +
		"Текущее: " + resolutionLabel(account.Settings.Resolution) + "\n\n" +
		costTable(costDefault, cost4k)
}

func costTable(costDefault, cost4k int64) string {
	return "Стоимость генерации:\n" +
		"1K = " + formatTokens(costDefault) + " токенов\n" +
		"2K = " + formatTokens(costDefault) + " токенов\n" +
		"4K = " + formatTokens(cost4k) + " токенов"
}

func buyText() string {
	return "Выберите пакет токенов и оплатите через ЮKassa прямо в Telegram. После успешной оплаты токены начислятся автоматически."
}

func profileText(account *domain.Account, usage map[string]int64) string {
	var sb strings.Builder
	sb.WriteString("📊 Мой профиль\n\n")
	sb.WriteString("🆔 ID: " + fmt.Sprint(account.TgID) + "\n")
	sb.WriteString("👤 Имя: " + account.FirstName + "\n")
	sb.WriteString("🔹 Баланс: " + formatTokens(account.Balance) + " токенов\n")
	sb.WriteString("🔸 Потрачено: " + formatTokens(account.Spent) + " токенов\n\n")
	if len(usage) == 0 {
		sb.WriteString("Пока нет расхода по моделям.")
		return sb.String()
	}
	sb.WriteString("Расход по моделям:\n")
	for model, tokens := range usage {
		sb.WriteString("• " + modelLabel(model) + ": " + formatTokens(tokens) + " токенов\n")
	}
	return sb.String()
}

func paymentsText(payments []repo.Payment, loc *time.Location) string {
	if len(payments) == 0 {
		return "Пока нет успешных оплат."
	}
	var sb strings.Builder
	sb.WriteString("Мои платежи\n\n")
	for _, p := range payments {
		sb.WriteString("• " + p.UpdatedAt.In(loc).Format("02.01.2006 15:04") + " — " + fmt.Sprint(p.AmountRub) + " ₽\n")
	}
	return sb.String()
}

func referralText(botUsername string, tgID, count, earned int64, invitees []domain.Account) string {
	var names []string
	for _, a := range invitees {
		name := a.FirstName
		if a.Username != "" {
			name = "@" + a.Username
		}
		if name == "" {
			name = fmt.Sprint(a.TgID)
		}
		names = append(names, "• "+name)
	}
	list := strings.Join(names, "\n")
	if list == "" {
		list = "—"
	}
	link := "https://t.me/" + botUsername + "?start=ref" + fmt.Sprint(tgID)
	return "🔹 Реферальная программа\n\n" +
		"Приглашенному начисляется 50 000 токенов за переход по вашей ссылке.\n" +
		"Вы получаете 2% токенами от каждой покупки приглашенного пользователя.\n\n" +
		"👥 Приглашено пользователей: " + fmt.Sprint(count) + "\n" +
		"🔶 Получено: " + formatTokens(earned) + " токенов\n\n" +
		"👤 Список приглашенных:\n" + list + "\n\n" +
		"🔗 Моя реферальная ссылка:\n" + link
}

func adminStatsText(totalUsers int64, activeJobs int) string {
	return "📊 Статистика\n\n" +
		"Всего пользователей: " + fmt.Sprint(totalUsers) + "\n" +
		"Активных генераций: " + fmt.Sprint(activeJobs)
}

func photoReceivedText(count, capacity int) string {
	return "📷 Фото получено: " + fmt.Sprint(count) + "/" + fmt.Sprint(capacity) + "\n\n" +
		"Можете добавить ещё фото или отправить текстовый промпт ✏️"
}

func photoLimitText(capacity int) string {
	return "📷 Достигнут лимит в " + fmt.Sprint(capacity) + " фото. Отправьте промпт или сбросьте фото сменой модели."
}
