package extract

import (
	"fmt"
	"strings"
	"time"

	"stemsync/internal/fairdata"
	"stemsync/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// DetailColumns are the positions of the structured columns of the file
// detail table.
type DetailColumns struct {
	DocumentType int
	Download     int
	Approval     int
	Update       int
}

var DefaultDetailColumns = DetailColumns{
	DocumentType: 0,
	Download:     1,
	Approval:     4,
	Update:       5,
}

// headerRoles map a header key fragment to the column it identifies.
var headerRoles = []struct {
	fragment string
	column   func(*DetailColumns) *int
}{
	{"file_type", func(c *DetailColumns) *int { return &c.DocumentType }},
	{"document", func(c *DetailColumns) *int { return &c.DocumentType }},
	{"file_name", func(c *DetailColumns) *int { return &c.Download }},
	{"approv", func(c *DetailColumns) *int { return &c.Approval }},
	{"updat", func(c *DetailColumns) *int { return &c.Update }},
}

// resolveColumns locates each column by its header, columns whose header
// is not recognized keep their position in `fallback`.
func resolveColumns(keys []string, fallback DetailColumns) DetailColumns {
	out := fallback
	found := map[*int]bool{}
	for _, role := range headerRoles {
		target := role.column(&out)
		if found[target] {
			continue
		}
		for i, key := range keys {
			if strings.Contains(key, role.fragment) {
				*target = i
				found[target] = true
				break
			}
		}
	}
	return out
}

var (
	fileNameKeys   = []string{"file_name", "name", "file"}
	fileStatusKeys = []string{"file_status", "status"}
)

func firstField(fields fairdata.Fields, keys []string) string {
	for _, k := range keys {
		if v := fields[k]; v != "" {
			return v
		}
	}
	return ""
}

// actorAndTime splits a "<actor><br>timestamp" cell, the content of a nested
// div is used when there is one.
func actorAndTime(cell *goquery.Selection, loc *time.Location) (string, *fairdata.Stamp) {
	container := cell.Find("div").First()
	if container.Length() == 0 {
		container = cell
	}
	segments := htmlutil.SplitBreaks(container.Get(0))
	switch len(segments) {
	case 0:
		return "", nil
	case 1:
		return segments[0], nil
	default:
		return segments[0], fairdata.ParseStamp(segments[1], loc)
	}
}

// FileDetail extracts the per record file table. Timestamps without a zone
// are read in `loc`.
func (x Extractor) FileDetail(doc *goquery.Document, loc *time.Location) (fairdata.Manifest, error) {
	return x.fileDetail(doc, loc, DefaultDetailColumns)
}

func (x Extractor) fileDetail(doc *goquery.Document, loc *time.Location, columns DetailColumns) (fairdata.Manifest, error) {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, &StructureError{Page: "file detail", Element: "table"}
	}
	headerCells := table.Find("thead th")
	if headerCells.Length() == 0 {
		return nil, &StructureError{Page: "file detail", Element: "thead"}
	}

	keys := []string{}
	for _, label := range x.HeaderLabels(headerCells) {
		keys = append(keys, FieldKey(label))
	}
	columns = resolveColumns(keys, columns)
	keyAt := func(n int) string {
		if n < len(keys) {
			return keys[n]
		}
		return fmt.Sprintf("%s%d", x.Rules.ShortLabelPrefix, n)
	}

	out := fairdata.Manifest{}
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= columns.DocumentType {
			return
		}
		documentType := x.Rules.NormalizeDocumentType(htmlutil.Text(cells.Eq(columns.DocumentType)))
		if documentType == "" {
			return
		}

		entry := &fairdata.FileManifestEntry{
			DocumentType: documentType,
			Fields:       fairdata.Fields{},
		}
		cells.Each(func(n int, cell *goquery.Selection) {
			switch n {
			case columns.DocumentType:
				entry.Fields[keyAt(n)] = htmlutil.Text(cell)
			case columns.Download:
				if link := cell.Find("a.downloadProjStudent").First(); link.Length() > 0 {
					entry.FileURL = strings.TrimSpace(link.AttrOr("uploaddocname", ""))
				} else if link := cell.Find("a.file_download").First(); link.Length() > 0 {
					entry.UploadedFileName = strings.TrimSpace(link.AttrOr("uploaded_file_name", ""))
				}
				entry.Fields[keyAt(n)] = htmlutil.Text(cell)
			case columns.Approval:
				entry.ApprovedBy, entry.ApprovedOn = actorAndTime(cell, loc)
			case columns.Update:
				entry.UpdatedBy, entry.UpdatedOn = actorAndTime(cell, loc)
			default:
				entry.Fields[keyAt(n)] = htmlutil.Text(cell)
			}
		})

		entry.FileName = firstField(entry.Fields, fileNameKeys)
		if entry.FileName == "" {
			entry.FileName = entry.Fields[keyAt(columns.Download)]
		}
		entry.Status = fairdata.FileStatus(strings.ToUpper(firstField(entry.Fields, fileStatusKeys)))
		out[documentType] = entry
	})
	return out, nil
}
