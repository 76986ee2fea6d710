package helpers

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"math"
	"strings"
	"time"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func FormatPriceUS(price float64) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price < 0.00001 {
		decimals = 8
	}

	p := message.NewPrinter(language.English)
	return p.Sprintf("%.*f", decimals, price)
}

// FormatPriceRoundedUS renders whole dollars with comma grouping, e.g. 51,000
func FormatPriceRoundedUS(price float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%d", int64(math.Round(price)))
}

// FormatCompact shortens large values to T/B/M/K suffixes
func FormatCompact(value float64) string {
	abs := math.Abs(value)
	switch {
	case abs >= 1e12:
		return trimSuffix(value/1e12, "T")
	case abs >= 1e9:
		return trimSuffix(value/1e9, "B")
	case abs >= 1e6:
		return trimSuffix(value/1e6, "M")
	case abs >= 1e3:
		return trimSuffix(value/1e3, "K")
	case abs >= 1:
		return FormatPriceRoundedUS(value)
	}
	return humanize.FormatFloat("#.##", value)
}

func trimSuffix(v float64, suffix string) string {
	return humanize.FormatFloat("#.##", v) + suffix
}

// TimeAgo renders t relative to now, or "never" for a nil time
func TimeAgo(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

// MaskEmail keeps the first letter of the local part, used in logs
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
