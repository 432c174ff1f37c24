package delivery

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	trackingPrefix  = "/api/analytics/email-tracking/"
	openPath        = trackingPrefix + "reviews/open/"
	clickPath       = trackingPrefix + "reviews/clicks/"
	unsubscribePath = "/api/unsubscribe/"
)

var (
	closingBody = regexp.MustCompile(`(?i)</body>`)
	anchorHref  = regexp.MustCompile(`(?i)<a\s+(?:[^>]*?\s+)?href=(?:"([^"]*)"|'([^']*)')`)
)

// Tracker rewrites outbound HTML so opens, clicks and unsubscribes can be
// correlated with a send by its tracking id.
type Tracker struct {
	baseURL string
}

func NewTracker(baseURL string) *Tracker {
	return &Tracker{baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *Tracker) OpenURL(trackingID string) string {
	return t.baseURL + openPath + trackingID
}

func (t *Tracker) ClickURL(trackingID, target string) string {
	return t.baseURL + clickPath + trackingID + "?url=" + url.QueryEscape(target)
}

func (t *Tracker) UnsubscribeURL(trackingID string, subscriberID int64) string {
	return fmt.Sprintf("%s%s%s?sid=%d&source=email_link", t.baseURL, unsubscribePath, trackingID, subscriberID)
}

func (t *Tracker) ManagePreferencesURL(email string) string {
	return t.baseURL + "/unsubscribe?email=" + url.QueryEscape(email)
}

func (t *Tracker) OneClickURL(email string) string {
	return t.baseURL + unsubscribePath + "list-unsubscribe?email=" + url.QueryEscape(email)
}

// Rewrite adds the unsubscribe footer and the open pixel, then routes every
// eligible link through the click endpoint. HTML that already carries this
// tracking id's pixel only gets its remaining links rewritten, so a second
// pass changes nothing.
func (t *Tracker) Rewrite(html, trackingID string, subscriberID int64, email string) string {
	pixelURL := t.OpenURL(trackingID)
	if !strings.Contains(html, pixelURL) {
		footer := t.footer(trackingID, subscriberID, email)
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;">`, pixelURL)
		html = insertBeforeBody(html, footer+pixel)
	}

	return anchorHref.ReplaceAllStringFunc(html, func(tag string) string {
		m := anchorHref.FindStringSubmatchIndex(tag)
		start, end, quote := m[2], m[3], `"`
		if start < 0 {
			start, end, quote = m[4], m[5], `'`
		}
		if t.skipLink(tag[start:end]) {
			return tag
		}
		return tag[:start] + t.ClickURL(trackingID, tag[start:end]) + quote
	})
}

func (t *Tracker) footer(trackingID string, subscriberID int64, email string) string {
	return fmt.Sprintf(`<div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; text-align: center;">`+
		`<p>Si no deseas recibir más emails como este, puedes `+
		`<a href="%s" style="color: #666; text-decoration: underline;">darte de baja aquí</a> o `+
		`<a href="%s" style="color: #666; text-decoration: underline;">gestionar tus preferencias</a>.</p></div>`,
		t.UnsubscribeURL(trackingID, subscriberID), t.ManagePreferencesURL(email))
}

func (t *Tracker) skipLink(href string) bool {
	return href == "" ||
		strings.Contains(href, "/unsubscribe") ||
		strings.Contains(href, "/api/tracking/") ||
		strings.Contains(href, "mailto:") ||
		strings.HasPrefix(href, t.baseURL+trackingPrefix)
}

// Headers returns the RFC 2369 and RFC 8058 unsubscribe headers.
func (t *Tracker) Headers(fromEmail, recipient string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      fmt.Sprintf("<mailto:%s?subject=unsubscribe>, <%s>", fromEmail, t.OneClickURL(recipient)),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

func insertBeforeBody(html, fragment string) string {
	loc := closingBody.FindStringIndex(html)
	if loc == nil {
		return html + fragment
	}
	return html[:loc[0]] + fragment + html[loc[0]:]
}
