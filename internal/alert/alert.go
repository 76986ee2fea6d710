package alert

import (
	"btc-signal-desk/internal/types"
	"btc-signal-desk/lib/helpers"
	"btc-signal-desk/lib/translation"
	"strings"
	"time"
)

// ShouldTrigger decides whether a notification for a should go out now.
// Equality with the threshold satisfies both directions, and a cooldown
// is over once the elapsed time reaches it.
func ShouldTrigger(a types.Alert, price float64, now time.Time) bool {
	if !a.Enabled {
		return false
	}

	switch a.Direction {
	case types.Above:
		if price < a.PriceThreshold {
			return false
		}
	case types.Below:
		if price > a.PriceThreshold {
			return false
		}
	default:
		return false
	}

	if a.LastSentAt != nil && now.Sub(*a.LastSentAt) < a.Cooldown() {
		return false
	}
	return true
}

// ComposeMessage renders the subject and plain-text body of an alert email
func ComposeMessage(a types.Alert, price float64) (string, string) {
	asset := a.Asset
	if asset == "" {
		asset = types.AssetBTC
	}
	current := helpers.FormatPriceRoundedUS(price)

	subject := translation.Translate("%s price alert: $%s", asset, current)

	var body strings.Builder
	body.WriteString(translation.Translate("%s is now $%s.", asset, current))
	body.WriteString("\n")
	body.WriteString(translation.Translate("Alert: %s %s $%s.",
		asset, translation.Translate(string(a.Direction)), helpers.FormatPriceRoundedUS(a.PriceThreshold)))
	body.WriteString("\n\n")
	body.WriteString(a.CustomMessage)

	return subject, strings.TrimSpace(body.String())
}
