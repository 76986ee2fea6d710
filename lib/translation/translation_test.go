package translation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const esCatalog = `msgid ""
msgstr ""
"Language: es\n"
"Content-Type: text/plain; charset=UTF-8\n"

msgid "%s price alert: $%s"
msgstr "Alerta de precio de %s: $%s"
`

func TestConfigureCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "es", "LC_MESSAGES"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "es", "LC_MESSAGES", "default.po"), []byte(esCatalog), 0o644))
	t.Cleanup(func() { _ = Configure(dir, "en") })

	require.NoError(t, Configure(dir, "es"))
	assert.Equal(t, "Alerta de precio de BTC: $51,000", Translate("%s price alert: $%s", "BTC", "51,000"))
	assert.Equal(t, "BTC is now $1.", Translate("%s is now $%s.", "BTC", "1"), "untranslated ids fall back to the id")
}

func TestConfigureMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { _ = Configure(dir, "en") })

	err := Configure(dir, "de")
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(dir, "de"))
	assert.Equal(t, "BTC price alert: $1", Translate("%s price alert: $%s", "BTC", "1"))
}

func TestConfigureEnglish(t *testing.T) {
	assert.NoError(t, Configure(t.TempDir(), "en"))
	assert.Equal(t, "above", Translate("above"))
}
