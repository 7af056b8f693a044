package dirserver_test

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func itoa(n int) string { return strconv.Itoa(n) }

func parseHTML(t *testing.T, body []byte) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	require.NoError(t, err)
	return doc
}

func linkTexts(doc *goquery.Document) []string {
	return doc.Find("ul.listing li a").Map(func(_ int, s *goquery.Selection) string {
		return s.Text()
	})
}

func linkHrefs(doc *goquery.Document) []string {
	return doc.Find("ul.listing li a").Map(func(_ int, s *goquery.Selection) string {
		href, _ := s.Attr("href")
		return href
	})
}
