package enricher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/faultline/faultline/internal/model"
)

const chromeLinux = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestEnrich(t *testing.T) {
	e := NewEnricher()
	event := &model.Event{Kind: model.KindConsole}

	e.Enrich(event, chromeLinux)

	assert.Equal(t, "Chrome 120.0.0.0", event.Browser)
	assert.Contains(t, event.OS, "Linux")
	assert.Equal(t, "desktop", event.Device)
}

func TestEnrich_EmptyUserAgent(t *testing.T) {
	event := &model.Event{Kind: model.KindConsole}
	NewEnricher().Enrich(event, "")
	assert.Empty(t, event.Browser)
	assert.Empty(t, event.Device)
}
