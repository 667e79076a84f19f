package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSplitBreaks(t *testing.T) {
	cases := []struct {
		html   string
		expect []string
	}{
		{
			html:   `<div>Jane Admin<br/>03/14/2023 10:21 AM</div>`,
			expect: []string{"Jane Admin", "03/14/2023 10:21 AM"},
		},
		{
			html:   `<div>  <b>Jane</b>   Admin <br> <br>later</div>`,
			expect: []string{"Jane Admin", "", "later"},
		},
		{
			html:   `<div>only one value</div>`,
			expect: []string{"only one value"},
		},
	}

	for _, test := range cases {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(test.html))
		require.NoError(t, err)
		segments := SplitBreaks(doc.Find("div").Get(0))
		if diff := cmp.Diff(test.expect, segments); diff != "" {
			t.Fatal(diff)
		}
	}
}

func TestClean(t *testing.T) {
	require.Equal(t, "Research Plan Form", Clean("\n\t Research   Plan \n Form  "))
	require.Equal(t, "", Clean("   "))
}

func TestText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<table><tr><td> <a>Adams</a>,\u0007 Jane </td><td>12</td></tr></table>",
	))
	require.NoError(t, err)
	require.Equal(t, "Adams, Jane", Text(doc.Find("td").First()))
	require.Equal(t, " Adams,\u0007 Jane ", RawText(doc.Find("td").Get(0)))
	require.Equal(t, "Adams, Jane 12", Text(doc.Find("td")))
}
