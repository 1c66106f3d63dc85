package enricher

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/faultline/faultline/internal/model"
)

type Enricher struct{}

func NewEnricher() *Enricher {
	return &Enricher{}
}

// Enrich fills the browser, OS and device of e from the capturing page's
// user agent. An empty user agent leaves e unchanged.
func (e *Enricher) Enrich(event *model.Event, userAgentString string) {
	if userAgentString == "" {
		return
	}

	ua := useragent.New(userAgentString)
	name, version := ua.Browser()
	event.Browser = strings.TrimSpace(name + " " + version)
	event.OS = ua.OS()
	event.Device = getDeviceType(ua)
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}
