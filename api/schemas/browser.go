package schemas

import (
	"fmt"
	"strings"
)

// -- Browser Persona Schemas --

// Persona is the fingerprint the automated browser presents. The same values
// feed the launch flags, the injected evasions and the protocol overrides so
// they never disagree with each other.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
	// Plugins is the length of the fake navigator.plugins list.
	Plugins int `json:"plugins"`
}

// AcceptLanguage renders Languages as an Accept-Language header value with
// descending quality weights.
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// DefaultPersona is a Hebrew-locale Chrome on Linux ARM.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (X11; Linux aarch64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	Platform:  "Linux aarch64",
	Languages: []string{"he-IL", "he", "en-US", "en"},
	Width:     1280,
	Height:    900,
	Plugins:   4,
}
