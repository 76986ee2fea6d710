package translation

import (
	"fmt"
	"github.com/leonelquinteros/gotext"
	"os"
	"path/filepath"
)

const domain = "default"

// Configure loads <dir>/<lang>/LC_MESSAGES/default.po. English needs no catalog.
// When the catalog for lang is missing, messages stay in English and an error says why.
func Configure(dir, lang string) error {
	if lang == "" || lang == "en" {
		gotext.Configure(dir, "en", domain)
		return nil
	}

	catalog := filepath.Join(dir, lang, "LC_MESSAGES", domain+".po")
	if _, err := os.Stat(catalog); err != nil {
		gotext.Configure(dir, "en", domain)
		return fmt.Errorf("no %s catalog at %s: %w", lang, catalog, err)
	}

	gotext.Configure(dir, lang, domain)
	return nil
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
