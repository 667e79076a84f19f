package fairdata

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseProjectNumber(t *testing.T) {
	cases := []struct {
		input  string
		expect ProjectNumber
		ok     bool
	}{
		{"SR-BIO-012", ProjectNumber{"SR", "BIO", "012"}, true},
		{" JR-CHEM-3 ", ProjectNumber{"JR", "CHEM", "3"}, true},
		{"", ProjectNumber{}, false},
		{"SR-BIO", ProjectNumber{}, false},
		{"SR--012", ProjectNumber{}, false},
	}
	for _, test := range cases {
		got, ok := ParseProjectNumber(test.input)
		require.Equal(t, test.ok, ok, test.input)
		require.Equal(t, test.expect, got, test.input)
	}
}

func TestMerge(t *testing.T) {
	plan := &FileManifestEntry{DocumentType: "Research Plan", Status: StatusApproved}
	abstract := &FileManifestEntry{DocumentType: "Abstract", Status: StatusSubmitted}
	newPlan := &FileManifestEntry{DocumentType: "Research Plan", Status: StatusSubmitted}

	base := Records{
		"100": {
			Id: "100", FirstName: "Jane", LastName: "Smith", ProjectNo: "SR-BIO-012",
			Fields: Fields{"school": "Central", "teacherfullname": "Mr. Brown"},
			Files:  Manifest{"Research Plan": plan, "Abstract": abstract},
		},
		"200": {Id: "200", FirstName: "Only", LastName: "Base", Files: Manifest{}},
	}
	overlay := Records{
		"100": {
			Id: "100", CompletionStatus: "Complete", StudentInfoId: "77",
			Fields: Fields{"school": "", "stud_com_status": "Complete"},
			Files:  Manifest{"Research Plan": newPlan},
		},
		"300": {Id: "300", FirstName: "Only", LastName: "Overlay", Files: Manifest{}},
	}

	merged := MergeAll(base, overlay)
	require.Len(t, merged, 3)

	r := merged["100"]
	require.Equal(t, "Jane", r.FirstName)
	require.Equal(t, "SR-BIO-012", r.ProjectNo)
	require.Equal(t, "Complete", r.CompletionStatus)
	require.Equal(t, "77", r.StudentInfoId)
	if diff := cmp.Diff(Fields{
		"school":          "Central",
		"teacherfullname": "Mr. Brown",
		"stud_com_status": "Complete",
	}, r.Fields); diff != "" {
		t.Fatal(diff)
	}
	require.Same(t, newPlan, r.Files["Research Plan"])
	require.Same(t, abstract, r.Files["Abstract"])

	// base is not mutated
	require.Same(t, plan, base["100"].Files["Research Plan"])
}

func TestRecordFromFields(t *testing.T) {
	r := RecordFromFields("100", Fields{
		"f_name": "Jane", "l_name": "Smith", "project_no": "SR-BIO-012",
		"stud_com_status": "Incomplete", "student_info_id": "77", "custom": "x",
	})
	require.Equal(t, "Smith, Jane", r.FullName())
	require.Equal(t, "77", r.StudentInfoId)
	require.Equal(t, "x", r.Fields["custom"])
	project, ok := r.Project()
	require.True(t, ok)
	require.Equal(t, "BIO", project.Category)
}

func TestStampRoundTrip(t *testing.T) {
	loc := time.UTC
	entry := FileManifestEntry{
		DocumentType: "Research Plan",
		FileName:     "plan.docx",
		UpdatedOn:    ParseStamp("03/14/2023 10:21 AM", loc),
		ApprovedOn:   ParseStamp("pending review", loc),
	}
	require.True(t, entry.UpdatedOn.Parsed())
	require.False(t, entry.ApprovedOn.Parsed())

	encoded, err := json.Marshal(entry)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(encoded, &generic))
	require.Equal(t, "2023-03-14T10:21:00Z", generic["updated_on"])
	require.Equal(t, "pending review", generic["approved_on"])
	require.Nil(t, generic["local_mtime"])

	var decoded FileManifestEntry
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.True(t, entry.UpdatedOn.Time.Equal(decoded.UpdatedOn.Time))
	require.Equal(t, "pending review", decoded.ApprovedOn.Raw)
	require.False(t, decoded.ApprovedOn.Parsed())
}

func TestLocalizeCachedText(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	var decoded FileManifestEntry
	require.NoError(t, json.Unmarshal([]byte(`{"updated_on": "03/14/2023 10:21 AM", "approved_on": "pending review"}`), &decoded))
	require.False(t, decoded.UpdatedOn.Parsed())

	Manifest{"Research Plan": &decoded, "Abstract": nil}.Localize(loc)
	require.True(t, decoded.UpdatedOn.Time.Equal(time.Date(2023, 3, 14, 10, 21, 0, 0, loc)))
	require.Equal(t, "03/14/2023 10:21 AM", decoded.UpdatedOn.Raw)
	require.False(t, decoded.ApprovedOn.Parsed())
}

func TestEntryPredicates(t *testing.T) {
	require.True(t, (&FileManifestEntry{FileName: "NONE"}).NeverProvided())
	require.True(t, (&FileManifestEntry{FileName: "a.pd"}).NotUploaded())
	require.True(t, (&FileManifestEntry{}).NotUploaded())
	require.False(t, (&FileManifestEntry{FileName: "plan.pdf"}).NotUploaded())
	require.Equal(t, "docx", (&FileManifestEntry{FileName: "plan.doc", UploadedFileName: "Rose Plan_63561.docx"}).Extension())
	require.True(t, FileStatus(" approved ").Downloadable())
	require.False(t, FileStatus("REJECTED").Downloadable())
}
