// Package antibot decides whether a rendered page is a bot challenge
// rather than real content. Detection is heuristic: challenge frames,
// challenge form targets, and a set of blocking phrases the source site
// interpolates into its interstitial pages.
package antibot

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// challengeFrameSelectors match embedded challenge widgets.
var challengeFrameSelectors = []string{
	"iframe[src*='recaptcha']",
	"iframe[src*='captcha']",
}

// challengeFormSelectors match interstitial forms that post back to a
// challenge endpoint.
var challengeFormSelectors = []string{
	"form[action*='CaptchaRedirect']",
	"form[action*='captcha']",
	"form#captcha-form",
}

// blockingPhrases are matched case-insensitively against the page text.
var blockingPhrases = []string{
	"unusual traffic",
	"verify you're not a robot",
	"verify that you're not a robot",
	"automated requests",
	"our systems have detected",
	"i'm not a robot",
}

// Detector reports whether a page is a bot challenge.
type Detector struct {
	phrases []string
}

// New builds a Detector. Extra phrases are checked in addition to the
// built-in set.
func New(extraPhrases ...string) *Detector {
	phrases := make([]string, 0, len(blockingPhrases)+len(extraPhrases))
	phrases = append(phrases, blockingPhrases...)
	for _, p := range extraPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Detector{phrases: phrases}
}

// Blocked reports whether html looks like a challenge or interstitial
// page. Unparseable input is treated as not blocked; the caller will
// fail on extraction instead.
func (d *Detector) Blocked(html string) bool {
	if html == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	for _, sel := range challengeFrameSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	for _, sel := range challengeFormSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}

	text := strings.ToLower(doc.Text())
	for _, phrase := range d.phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
