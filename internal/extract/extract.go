// Package extract turns the portal's listing and detail markup into rows
// keyed by record id.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"stemsync/internal/fairdata"
	"stemsync/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

var ErrStructure = errors.New("unexpected page structure")

// StructureError means an element the extractor cannot do without is
// missing, the page cannot be interpreted at all.
type StructureError struct {
	Page    string
	Element string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("extract: %s: no %s element found", e.Page, e.Element)
}

func (e *StructureError) Is(target error) bool {
	return target == ErrStructure
}

// StudentRowPrefix prefixes the id attribute of rows in the files and
// forms student table.
const StudentRowPrefix = "updatedStudentDiv_"

const secondaryIdAttr = "student_info_id"

type Extractor struct {
	Rules Rules
}

func New(rules Rules) Extractor {
	return Extractor{Rules: rules}
}

// RowId resolves the record id of a table row. The id attribute is used
// when it carries `prefix`, otherwise the second to last path segment of the
// first link in the row.
func (x Extractor) RowId(row *goquery.Selection, prefix string) (string, bool) {
	if id, ok := row.Attr("id"); ok && prefix != "" && strings.HasPrefix(id, prefix) {
		id = strings.TrimSpace(strings.TrimPrefix(id, prefix))
		if id != "" {
			return id, true
		}
	}

	href, ok := row.Find("a[href]").First().Attr("href")
	if !ok {
		return "", false
	}
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return "", false
	}
	id := segments[len(segments)-2]
	if id == "" {
		return "", false
	}
	return id, true
}

// Cell is what a single table cell contributes to its row.
type Cell struct {
	Name  string
	Value string
	// SecondaryId is the internal id used for detail page lookups, only set
	// when the cell contains a link carrying one.
	SecondaryId string
}

func (x Extractor) attrName(raw, recordId string) string {
	name := raw
	for _, b := range x.Rules.Boilerplate {
		name = strings.ReplaceAll(name, b, "")
	}
	if recordId != "" {
		name = strings.TrimSuffix(name, "_"+recordId)
	}
	return strings.Trim(name, " _")
}

// CellField derives the field name of a cell from its class (first usable
// token) or id attribute.
func (x Extractor) CellField(cell *goquery.Selection, recordId string) Cell {
	out := Cell{Value: htmlutil.Text(cell)}

	for _, token := range strings.Fields(cell.AttrOr("class", "")) {
		if name := x.attrName(token, recordId); name != "" {
			out.Name = name
			break
		}
	}
	if out.Name == "" {
		out.Name = x.attrName(cell.AttrOr("id", ""), recordId)
	}

	link := cell.Find("a").First()
	if link.Length() > 0 {
		out.SecondaryId = strings.TrimSpace(link.AttrOr(secondaryIdAttr, ""))
		return out
	}
	if out.Name == "" {
		out.Name = x.Rules.FallbackField
	}
	return out
}

// HeaderLabels returns the normalized label of every header cell, a nested
// label element is preferred over the cell's own text.
func (x Extractor) HeaderLabels(headerCells *goquery.Selection) []string {
	labels := make([]string, 0, headerCells.Length())
	headerCells.Each(func(i int, cell *goquery.Selection) {
		text := htmlutil.Text(cell.Find("label").First())
		if text == "" {
			text = htmlutil.Text(cell)
		}
		labels = append(labels, x.Rules.NormalizeHeader(text, i))
	})
	return labels
}

func (x Extractor) isDecoy(fields fairdata.Fields) bool {
	return x.Rules.IsDecoy(fields["f_name"], fields["l_name"])
}

// StudentRows extracts the files and forms student table, rows are keyed by
// record id and fields are named after cell attributes.
func (x Extractor) StudentRows(doc *goquery.Document) (fairdata.Listing, error) {
	body := doc.Find("tbody").First()
	if body.Length() == 0 {
		return nil, &StructureError{Page: "student data", Element: "tbody"}
	}

	out := fairdata.Listing{}
	body.Find("tr").Each(func(_ int, row *goquery.Selection) {
		id, ok := x.RowId(row, StudentRowPrefix)
		if !ok {
			return
		}
		fields := fairdata.Fields{}
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			cell := x.CellField(td, id)
			if cell.SecondaryId != "" {
				fields[secondaryIdAttr] = cell.SecondaryId
			}
			if cell.Name != "" {
				fields[cell.Name] = cell.Value
			}
		})
		if x.isDecoy(fields) {
			return
		}
		out[id] = fields
	})
	return out, nil
}

// Listing extracts a header keyed table like the judge, volunteer and
// student lists. Cells also contribute their attribute derived name when it
// differs from the header key.
func (x Extractor) Listing(doc *goquery.Document, page, rowPrefix string) (fairdata.Listing, error) {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, &StructureError{Page: page, Element: "table"}
	}
	headerCells := table.Find("thead th")
	if headerCells.Length() == 0 {
		return nil, &StructureError{Page: page, Element: "thead"}
	}
	labels := x.HeaderLabels(headerCells)

	out := fairdata.Listing{}
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		id, ok := x.RowId(row, rowPrefix)
		if !ok {
			return
		}
		fields := fairdata.Fields{}
		row.Find("td").Each(func(n int, td *goquery.Selection) {
			cell := x.CellField(td, id)
			key := fmt.Sprintf("%s%d", x.Rules.ShortLabelPrefix, n)
			if n < len(labels) {
				key = FieldKey(labels[n])
			}
			fields[key] = cell.Value
			if cell.Name != "" && cell.Name != x.Rules.FallbackField && cell.Name != key {
				fields[cell.Name] = cell.Value
			}
			if cell.SecondaryId != "" {
				fields[secondaryIdAttr] = cell.SecondaryId
			}
		})
		if x.isDecoy(fields) {
			return
		}
		out[id] = fields
	})
	return out, nil
}

// ColumnCodes returns the codes of every selectable column of a list view.
func (x Extractor) ColumnCodes(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var codes []string
	doc.Find("input.ace.chkslct").Each(func(_ int, input *goquery.Selection) {
		value := strings.TrimSpace(input.AttrOr("value", ""))
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		codes = append(codes, value)
	})
	sort.Strings(codes)
	return codes
}

// Categories returns the options of the category filter keyed by id.
func (x Extractor) Categories(doc *goquery.Document) map[string]string {
	out := map[string]string{}
	doc.Find("select[name=category_select] option, select#category_select option").Each(func(_ int, option *goquery.Selection) {
		value := strings.TrimSpace(option.AttrOr("value", ""))
		if value == "" || value == "undefined" {
			return
		}
		out[value] = htmlutil.Text(option)
	})
	return out
}

// PageCount reads the highest page number of a pagination block, it is 1
// when the page has no pagination.
func (x Extractor) PageCount(doc *goquery.Document) int {
	max := 1
	doc.Find(".pagination a, .pagination li").Each(func(_ int, item *goquery.Selection) {
		var n int
		_, err := fmt.Sscanf(strings.TrimSpace(item.AttrOr("data-page", htmlutil.Text(item))), "%d", &n)
		if err == nil && n > max {
			max = n
		}
	})
	return max
}
