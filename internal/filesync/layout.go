// Package filesync keeps local copies of portal files, and optionally a
// drive mirror of them, up to date with the portal.
package filesync

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"stemsync/internal/extract"
	"stemsync/internal/fairdata"
)

const (
	ByCategoryDir   = "by category"
	ByInternalIdDir = "by internal id"
	ByStudentDir    = "by student"
)

// Layout decides where the files of a record live, both on disk and in the
// drive.
type Layout struct {
	FilesDir string
	Domain   string
	Rules    extract.Rules
}

// RelativeDir is the slash separated folder of a record below the domain
// folder. Teammates share the folder of their project.
func (l Layout) RelativeDir(r *fairdata.StudentRecord) string {
	if project, ok := r.Project(); ok {
		return path.Join(ByCategoryDir, project.Division, project.Category, project.String())
	}
	return path.Join(ByInternalIdDir, r.Id)
}

func (l Layout) LocalDir(r *fairdata.StudentRecord) string {
	return filepath.Join(l.FilesDir, l.Domain, filepath.FromSlash(l.RelativeDir(r)))
}

// RemoteDir is the drive folder of a record below `root`.
func (l Layout) RemoteDir(root string, r *fairdata.StudentRecord) string {
	return path.Join("/", root, l.Domain, l.RelativeDir(r))
}

func (l Layout) filename(entry *fairdata.FileManifestEntry, suffix string) string {
	base := l.Rules.FilenameFor(entry.DocumentType)
	if suffix != "" {
		base = fmt.Sprintf("%s - %s", base, suffix)
	}
	if ext := entry.Extension(); ext != "" {
		return base + "." + ext
	}
	return base
}

type slot struct {
	dir          string
	documentType string
}

// PlanNames assigns LocalFilename and LocalPath to every entry that has a
// file. When teammates sharing a folder have different files for the same
// document type each file gets the participant's name appended.
func (l Layout) PlanNames(records fairdata.Records) {
	byReference := map[slot]map[string]bool{}
	for _, r := range records {
		dir := l.RelativeDir(r)
		for docType, entry := range r.Files {
			// pending entries may later turn out to be the shared file
			if entry == nil || entry.NeverProvided() || entry.NotUploaded() || entry.RemoteReference() == "" {
				continue
			}
			key := slot{dir: dir, documentType: docType}
			if byReference[key] == nil {
				byReference[key] = map[string]bool{}
			}
			byReference[key][entry.RemoteReference()+"\x00"+entry.FileName] = true
		}
	}

	for _, r := range records {
		dir := l.RelativeDir(r)
		for docType, entry := range r.Files {
			if entry == nil || entry.NeverProvided() {
				continue
			}
			suffix := ""
			if len(byReference[slot{dir: dir, documentType: docType}]) > 1 {
				suffix = r.FullName()
			}
			entry.LocalFilename = l.filename(entry, suffix)
			entry.LocalPath = filepath.Join(l.LocalDir(r), entry.LocalFilename)
		}
	}
}

func sortedIds(records fairdata.Records) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedTypes(manifest fairdata.Manifest) []string {
	types := make([]string, 0, len(manifest))
	for t := range manifest {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
