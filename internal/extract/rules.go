package extract

import (
	"fmt"
	"regexp"
	"strings"

	"stemsync/lib/textutil"
)

// LabelRule rewrites any label matching every string in Match to Canonical.
type LabelRule struct {
	Match     []string
	Canonical string
	// Fold makes the match case insensitive.
	Fold bool
}

func (r LabelRule) matches(label string) bool {
	return textutil.ContainsAll(label, r.Match, r.Fold)
}

// Rules is the declarative normalization table applied to scraped labels.
// Rules are evaluated in order, the first match wins.
type Rules struct {
	// EventPrefixes are event names prepended to labels, optionally after a
	// year, ex. "NCSEF" in "2023 NCSEF Research Plan Form".
	EventPrefixes []string
	// HeaderRules collapse table header labels.
	HeaderRules []LabelRule
	// DocumentRules collapse file detail document types.
	DocumentRules []LabelRule
	// Removals are substrings cut out of a label when it is turned into a
	// filename.
	Removals []string
	// Boilerplate is cut out of cell attributes before they are used as a
	// field name.
	Boilerplate []string
	// FallbackField names cells that carry no id or class.
	FallbackField string
	// ShortLabelPrefix tags labels under minLabelLength characters.
	ShortLabelPrefix string
	// Decoys are first/last name pairs of placeholder records the portal
	// ships with every region.
	Decoys [][2]string
}

const minLabelLength = 3

func DefaultRules(eventPrefixes []string) Rules {
	return Rules{
		EventPrefixes: eventPrefixes,
		HeaderRules: []LabelRule{
			{Match: []string{"Research Plan"}, Canonical: "Research Plan"},
		},
		DocumentRules: []LabelRule{
			{Match: []string{"tissue"}, Canonical: "ISEF-6B", Fold: true},
			{Match: []string{"vertebrate animal", "regulated"}, Canonical: "ISEF-5B", Fold: true},
			{Match: []string{"vertebrate animal"}, Canonical: "ISEF-5A", Fold: true},
			{Match: []string{"regulated research institution"}, Canonical: "ISEF-1c", Fold: true},
			{Match: []string{"research plan"}, Canonical: "Research Plan", Fold: true},
			{Match: []string{"abstract"}, Canonical: "Abstract", Fold: true},
			{Match: []string{"qualified scientist"}, Canonical: "ISEF-2", Fold: true},
			{Match: []string{"risk assessment"}, Canonical: "ISEF-3", Fold: true},
			{Match: []string{"human participants"}, Canonical: "ISEF-4", Fold: true},
			{Match: []string{"hazardous"}, Canonical: "ISEF-6A", Fold: true},
			{Match: []string{"continuation"}, Canonical: "ISEF-7", Fold: true},
			{Match: []string{"approval form"}, Canonical: "ISEF-1b", Fold: true},
			{Match: []string{"student checklist"}, Canonical: "ISEF-1a", Fold: true},
			{Match: []string{"checklist for adult sponsor"}, Canonical: "ISEF-1", Fold: true},
			{Match: []string{"signature page"}, Canonical: "Signature Page", Fold: true},
			{Match: []string{"quad chart"}, Canonical: "Quad Chart", Fold: true},
		},
		Removals:         []string{"Form_", " Form", "FORM", "Science Fair -"},
		Boilerplate:      []string{"click_class"},
		FallbackField:    "project_name",
		ShortLabelPrefix: "col_",
		Decoys:           [][2]string{{"Judy", "Test"}},
	}
}

func (r Rules) prefixPattern() *regexp.Regexp {
	alternatives := make([]string, 0, len(r.EventPrefixes))
	for _, p := range r.EventPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			alternatives = append(alternatives, regexp.QuoteMeta(p))
		}
	}
	event := ""
	if len(alternatives) > 0 {
		event = fmt.Sprintf(`|(?:%s)[\s_-]+`, strings.Join(alternatives, "|"))
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)^(?:\d{4}[\s_-]+%s)`, event))
}

// StripPrefix removes leading year and event name tokens in any order.
func (r Rules) StripPrefix(label string) string {
	pattern := r.prefixPattern()
	for {
		stripped := pattern.ReplaceAllString(label, "")
		if stripped == label {
			return strings.TrimSpace(label)
		}
		label = stripped
	}
}

func applyRules(rules []LabelRule, label string) (string, bool) {
	for _, rule := range rules {
		if rule.matches(label) {
			return rule.Canonical, true
		}
	}
	return label, false
}

// NormalizeHeader turns the text of a header cell into its column label.
// `index` is used to name cells without any text.
func (r Rules) NormalizeHeader(label string, index int) string {
	label = r.StripPrefix(strings.TrimSpace(label))
	label, _ = applyRules(r.HeaderRules, label)
	if label == "" {
		return fmt.Sprintf("%s%d", r.ShortLabelPrefix, index)
	}
	if len([]rune(label)) < minLabelLength {
		return r.ShortLabelPrefix + label
	}
	return label
}

// NormalizeDocumentType turns a file detail label into its short document
// type, labels matching no rule are simplified and kept.
func (r Rules) NormalizeDocumentType(label string) string {
	label = r.StripPrefix(strings.TrimSpace(label))
	if canonical, ok := applyRules(r.HeaderRules, label); ok {
		return canonical
	}
	if canonical, ok := applyRules(r.DocumentRules, label); ok {
		return canonical
	}
	return r.Simplify(label)
}

// Simplify cuts the removal substrings out of a label.
func (r Rules) Simplify(label string) string {
	label = r.StripPrefix(label)
	for _, removal := range r.Removals {
		label = strings.ReplaceAll(label, removal, "")
	}
	return strings.Trim(strings.TrimSpace(label), "_-")
}

// FilenameFor returns the base filename (without extension) a document
// type is stored under locally.
func (r Rules) FilenameFor(documentType string) string {
	name := documentType
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "plan"):
		name = "Research Plan"
	case strings.Contains(lower, "abstract"):
		name = "Abstract"
	}
	return textutil.SafeFilename(r.Simplify(name))
}

// FieldKey turns a column label into the key used in scraped rows.
func FieldKey(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}

// IsDecoy reports whether the name pair belongs to a placeholder record.
func (r Rules) IsDecoy(first, last string) bool {
	for _, d := range r.Decoys {
		if textutil.NormalizeName(first) == textutil.NormalizeName(d[0]) &&
			textutil.NormalizeName(last) == textutil.NormalizeName(d[1]) {
			return true
		}
	}
	return false
}
