// Package normalize turns review fields polluted by upstream serialization artifacts
// back into plain text.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/utils"
)

// Anonymous is shown when no author name can be recovered.
const Anonymous = "Anonymous"

var (
	authorFields = []string{"authorProfile.displayName", "authorProfile.author", "displayName", "author"}
	bodyFields   = []string{"body", "review_body"}

	htmlTag = regexp.MustCompile(`(?i)<\s*/?\s*(p|br|div|span|b|i|em|strong|li|ul|ol)\b[^>]*>`)
)

func CleanAuthor(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return Anonymous
	}
	v, _ := Extract(t, authorFields)
	if v == "" || strings.ContainsAny(v, "{}") {
		return Anonymous
	}
	return v
}

func CleanBody(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return ""
	}
	v, _ := Extract(t, bodyFields)
	return StripHTML(v)
}

// StripHTML reduces review markup to text. Input without tags is returned unchanged.
func StripHTML(s string) string {
	if !htmlTag.MatchString(s) {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return htmlTag.ReplaceAllString(s, " ")
	}
	doc.Find("br, p, div, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml(" ")
	})
	return utils.CollapseSpaces(doc.Text())
}

// NormalizeReview lifts fields out of a body that holds a whole serialized review and
// cleans author and body. changed reports whether anything differs from r.
func NormalizeReview(r models.Review) (models.Review, bool) {
	out := r

	if obj, _, ok := parseObject(strings.TrimSpace(r.Body)); ok {
		if v, ok := firstString(obj, authorFields); ok {
			out.AuthorName = v
		}
		if v, ok := ratingOf(obj.Get("rating")); ok {
			out.Rating = v
		}
		if v := obj.Get("fitFeedback"); v.Exists() && v.Type != gjson.Null {
			out.FitFeedback = v.String()
		}
		if v, ok := firstString(obj, bodyFields); ok {
			out.Body = v
		}
		for _, f := range []string{"dateCreated", "createdAt"} {
			if ts, ok := parseTime(obj.Get(f).String()); ok {
				out.CreatedAt = ts
				break
			}
		}
	}

	out.AuthorName = CleanAuthor(out.AuthorName)
	out.Body = CleanBody(out.Body)

	changed := out.AuthorName != r.AuthorName ||
		out.Body != r.Body ||
		out.Rating != r.Rating ||
		out.FitFeedback != r.FitFeedback ||
		!out.CreatedAt.Equal(r.CreatedAt)
	return out, changed
}

// Signature identifies a review for de-duplication: the external id when known,
// otherwise a hash of normalized body, product and author.
func Signature(r models.Review) string {
	if r.ExternalID != "" {
		return "ext:" + r.ExternalID
	}
	key := utils.NormalizeText(r.Body) + "|" + r.ProductID + "|" + strings.ToLower(strings.TrimSpace(r.AuthorName))
	return "sig:" + utils.HashString(key)
}

func ratingOf(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || f > 5 {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
