// Package i18n provides internationalization support for error messages.
package i18n

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is the locale every lookup falls back to.
const BaseLocale = "en-US"

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

var (
	catalogsMu sync.RWMutex
	// catalogs holds built-in and registered catalogs by canonical locale.
	catalogs = map[string]*Catalog{
		enUSCatalog.locale: enUSCatalog,
		ptBRCatalog.locale: ptBRCatalog,
	}
	matcher = buildMatcher()
)

// GetCatalog returns the catalog best matching the given locale or
// Accept-Language value. Falls back to en-US if nothing matches.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}

	if c, ok := lookupCatalog(requested); ok {
		return c
	}

	tags, _, err := language.ParseAcceptLanguage(requested)
	if err != nil || len(tags) == 0 {
		return mustCatalog(BaseLocale)
	}
	catalogsMu.RLock()
	m := matcher
	catalogsMu.RUnlock()
	_, index, confidence := m.Match(tags...)
	if confidence == language.No {
		return mustCatalog(BaseLocale)
	}
	if c, ok := lookupCatalog(supportedLocales()[index]); ok {
		return c
	}
	return mustCatalog(BaseLocale)
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
// Templates are always executed even with nil/empty metadata to ensure
// consistent output (template variables without metadata render as empty).
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return code
	}

	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}

// RegisterCatalog registers a catalog for the given locale and rebuilds the
// locale matcher so the new locale participates in negotiation.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	catalogs[locale] = cat
	matcher = buildMatcherLocked()
}

// NewCatalog creates a new catalog with the given locale and messages.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	cloned := make(map[Code]string, len(messages))
	for key, value := range messages {
		cloned[key] = value
	}
	return &Catalog{
		locale:   locale,
		messages: cloned,
	}
}

func lookupCatalog(locale string) (*Catalog, bool) {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	cat, ok := catalogs[locale]
	return cat, ok
}

func mustCatalog(locale string) *Catalog {
	cat, _ := lookupCatalog(locale)
	return cat
}

func buildMatcher() language.Matcher {
	return buildMatcherLocked()
}

// buildMatcherLocked expects catalogsMu to be held (or the package to be
// initialising). The base locale is always first so it wins ties.
func buildMatcherLocked() language.Matcher {
	locales := sortedLocalesLocked()
	tags := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		tags = append(tags, language.Make(locale))
	}
	return language.NewMatcher(tags)
}

func supportedLocales() []string {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	return sortedLocalesLocked()
}

func sortedLocalesLocked() []string {
	locales := make([]string, 0, len(catalogs))
	locales = append(locales, BaseLocale)
	rest := make([]string, 0, len(catalogs))
	for locale := range catalogs {
		if locale != BaseLocale {
			rest = append(rest, locale)
		}
	}
	sort.Strings(rest)
	return append(locales, rest...)
}
