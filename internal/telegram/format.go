package telegram

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"annexbot/internal/domain"
)

var numberPrinter = message.NewPrinter(language.Russian)

// formatTokens renders a token amount with locale grouping ("50 000").
func formatTokens(v int64) string {
	return numberPrinter.Sprintf("%d", v)
}

func formatLabel(format string) string {
	if format == "" || format == "auto" {
		return "автоматический"
	}
	return strings.ToUpper(format)
}

func resolutionLabel(res string) string {
	if res == "" {
		return "2K"
	}
	return strings.ToUpper(res)
}

func aspectRatioLabel(ratio string) string {
	if ratio == "" {
		return "auto"
	}
	return ratio
}

func modelLabel(id string) string {
	if m, ok := domain.ModelByID(domain.NormalizeModelID(id)); ok {
		return m.Label
	}
	return id
}
