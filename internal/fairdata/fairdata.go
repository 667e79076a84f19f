package fairdata

import (
	"fmt"
	"strings"
	"time"
)

// Fields is one scraped row, keyed by normalized column or field name.
type Fields map[string]string

// Listing is a set of rows keyed by record id.
type Listing map[string]Fields

type FileStatus string

const (
	StatusSubmitted FileStatus = "SUBMITTED"
	StatusApproved  FileStatus = "APPROVED"
)

func (s FileStatus) normalized() FileStatus {
	return FileStatus(strings.ToUpper(strings.TrimSpace(string(s))))
}

// Downloadable reports whether a file in this status has content worth
// pulling from the portal.
func (s FileStatus) Downloadable() bool {
	switch s.normalized() {
	case StatusSubmitted, StatusApproved:
		return true
	}
	return false
}

// FileManifestEntry is one document type's sync state for one record.
type FileManifestEntry struct {
	DocumentType string `json:"document_type"`
	// FileName is the name the participant uploaded, "NONE" when no file
	// was ever provided.
	FileName string `json:"file_name"`
	// FileURL is a direct blob store link.
	FileURL string `json:"file_url,omitempty"`
	// UploadedFileName is the server side name of a file stored by the
	// portal itself, it requires the two step download.
	UploadedFileName string     `json:"uploaded_file_name,omitempty"`
	Status           FileStatus `json:"file_status"`
	UpdatedBy        string     `json:"updated_by,omitempty"`
	UpdatedOn        *Stamp     `json:"updated_on"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedOn       *Stamp     `json:"approved_on"`
	Fields           Fields     `json:"fields,omitempty"`

	LocalFilename string     `json:"local_filename,omitempty"`
	LocalPath     string     `json:"local_full_path,omitempty"`
	LocalMtime    *time.Time `json:"local_mtime"`
}

const PlaceholderFileName = "NONE"

// NeverProvided reports whether the portal marks this entry as having no
// file at all.
func (e *FileManifestEntry) NeverProvided() bool {
	return strings.TrimSpace(e.FileName) == PlaceholderFileName
}

// minUploadedNameLength is the shortest filename the portal renders for an
// actual upload, anything shorter is a placeholder like "-" or "N/A".
const minUploadedNameLength = 5

// NotUploaded reports whether the participant has not uploaded a file yet.
func (e *FileManifestEntry) NotUploaded() bool {
	return len(strings.TrimSpace(e.FileName)) < minUploadedNameLength
}

// Extension returns the extension of the uploaded file without the dot.
func (e *FileManifestEntry) Extension() string {
	name := e.FileName
	if e.UploadedFileName != "" {
		name = e.UploadedFileName
	}
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}

// RemoteReference identifies the file on the portal for comparisons between
// teammates, it is empty when the entry has no reference at all.
func (e *FileManifestEntry) RemoteReference() string {
	if e.UploadedFileName != "" {
		return e.UploadedFileName
	}
	return e.FileURL
}

// Manifest is keyed by document type.
type Manifest map[string]*FileManifestEntry

// StudentRecord is the merged view of one participant.
type StudentRecord struct {
	Id               string   `json:"id"`
	FirstName        string   `json:"f_name"`
	LastName         string   `json:"l_name"`
	Teacher          string   `json:"teacherfullname,omitempty"`
	ProjectName      string   `json:"project_name,omitempty"`
	ProjectNo        string   `json:"project_no"`
	OriginFair       string   `json:"origin_fair,omitempty"`
	AdminStatus      string   `json:"admin_status,omitempty"`
	CompletionStatus string   `json:"stud_com_status,omitempty"`
	ApprovalStatus   string   `json:"stud_approval_status,omitempty"`
	StudentInfoId    string   `json:"student_info_id,omitempty"`
	Fields           Fields   `json:"fields,omitempty"`
	Files            Manifest `json:"files"`
}

// Records is keyed by record id.
type Records map[string]*StudentRecord

const CompletionComplete = "Complete"

// FullName is "Last, First".
func (r *StudentRecord) FullName() string {
	return fmt.Sprintf("%s, %s", strings.TrimSpace(r.LastName), strings.TrimSpace(r.FirstName))
}

func (r *StudentRecord) Project() (ProjectNumber, bool) {
	return ParseProjectNumber(r.ProjectNo)
}

var recordFieldSetters = map[string]func(r *StudentRecord, v string){
	"f_name":               func(r *StudentRecord, v string) { r.FirstName = v },
	"l_name":               func(r *StudentRecord, v string) { r.LastName = v },
	"teacherfullname":      func(r *StudentRecord, v string) { r.Teacher = v },
	"project_name":         func(r *StudentRecord, v string) { r.ProjectName = v },
	"project_no":           func(r *StudentRecord, v string) { r.ProjectNo = v },
	"origin_fair":          func(r *StudentRecord, v string) { r.OriginFair = v },
	"admin_status":         func(r *StudentRecord, v string) { r.AdminStatus = v },
	"stud_com_status":      func(r *StudentRecord, v string) { r.CompletionStatus = v },
	"stud_approval_status": func(r *StudentRecord, v string) { r.ApprovalStatus = v },
	"student_info_id":      func(r *StudentRecord, v string) { r.StudentInfoId = v },
}

// RecordFromFields builds a record out of a scraped row, every field is
// kept in Fields and the known ones are also lifted into the struct.
func RecordFromFields(id string, fields Fields) *StudentRecord {
	r := &StudentRecord{
		Id:     id,
		Fields: Fields{},
		Files:  Manifest{},
	}
	for k, v := range fields {
		r.Fields[k] = v
		if set, ok := recordFieldSetters[k]; ok {
			set(r, v)
		}
	}
	return r
}

// Merge lays `overlay` over `base` field by field. Non-empty overlay values
// win, Fields and Files are shallow unions with overlay keys winning.
func Merge(base, overlay *StudentRecord) *StudentRecord {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}

	out := *base
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&out.Id, overlay.Id)
	pick(&out.FirstName, overlay.FirstName)
	pick(&out.LastName, overlay.LastName)
	pick(&out.Teacher, overlay.Teacher)
	pick(&out.ProjectName, overlay.ProjectName)
	pick(&out.ProjectNo, overlay.ProjectNo)
	pick(&out.OriginFair, overlay.OriginFair)
	pick(&out.AdminStatus, overlay.AdminStatus)
	pick(&out.CompletionStatus, overlay.CompletionStatus)
	pick(&out.ApprovalStatus, overlay.ApprovalStatus)
	pick(&out.StudentInfoId, overlay.StudentInfoId)

	out.Fields = Fields{}
	for k, v := range base.Fields {
		out.Fields[k] = v
	}
	for k, v := range overlay.Fields {
		if v != "" || out.Fields[k] == "" {
			out.Fields[k] = v
		}
	}

	out.Files = Manifest{}
	for k, v := range base.Files {
		out.Files[k] = v
	}
	for k, v := range overlay.Files {
		out.Files[k] = v
	}
	return &out
}

// MergeAll merges every overlay record into the base set, ids only present
// in the overlay are added as is.
func MergeAll(base, overlay Records) Records {
	out := Records{}
	for id, r := range base {
		out[id] = r
	}
	for id, r := range overlay {
		out[id] = Merge(out[id], r)
	}
	return out
}

// ProjectNumber is the DIVISION-CATEGORY-NUMBER identifier assigned to a
// project, ex. "SR-BIO-012".
type ProjectNumber struct {
	Division string
	Category string
	Number   string
}

func ParseProjectNumber(s string) (ProjectNumber, bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return ProjectNumber{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return ProjectNumber{}, false
		}
	}
	return ProjectNumber{Division: parts[0], Category: parts[1], Number: parts[2]}, true
}

func (p ProjectNumber) String() string {
	return fmt.Sprintf("%s-%s-%s", p.Division, p.Category, p.Number)
}
