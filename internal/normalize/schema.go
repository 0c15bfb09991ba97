package normalize

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/twstock-cli/internal/model"
)

//go:embed schemas/*.yaml
var schemaFS embed.FS

// Layout names how a report's table arranges fields and periods.
type Layout string

const (
	// LayoutFieldColumns: one header row of field names, one data row per period.
	LayoutFieldColumns Layout = "field_columns"
	// LayoutFieldRows: field labels down the first column, periods across the header.
	LayoutFieldRows Layout = "field_rows"
	// LayoutFieldPairs: label/value cells side by side, a single snapshot.
	LayoutFieldPairs Layout = "field_pairs"
)

// PeriodSource says where a record's period comes from.
type PeriodSource string

const (
	PeriodFromColumn PeriodSource = "column"
	PeriodFromHeader PeriodSource = "header"
	PeriodNone       PeriodSource = "none"
)

// FieldSpec maps page labels to one canonical field.
type FieldSpec struct {
	Name    string           `yaml:"name"`
	Kind    model.ValueKind  `yaml:"kind"`
	Period  model.PeriodType `yaml:"period,omitempty"`
	Aliases []string         `yaml:"aliases"`

	aliases map[string]bool
}

// Schema describes one report's table.
type Schema struct {
	Report         model.ReportType `yaml:"report"`
	Layout         Layout           `yaml:"layout"`
	PeriodSource   PeriodSource     `yaml:"period_source"`
	PeriodColumn   []string         `yaml:"period_column,omitempty"`
	MatchThreshold float64          `yaml:"match_threshold,omitempty"`
	Fields         []FieldSpec      `yaml:"fields"`

	periodAliases map[string]bool
}

// labelSuffixes are totals markers a page may append to a known label.
var labelSuffixes = []string{"合計", "總計", "總額", "淨額"}

func (s *Schema) compile() error {
	switch s.Layout {
	case LayoutFieldColumns, LayoutFieldRows, LayoutFieldPairs:
	default:
		return eris.Errorf("normalize: schema %s: unknown layout %q", s.Report, s.Layout)
	}
	if len(s.Fields) == 0 {
		return eris.Errorf("normalize: schema %s: no fields", s.Report)
	}
	if s.Layout == LayoutFieldColumns && s.PeriodSource == PeriodFromColumn && len(s.PeriodColumn) == 0 {
		return eris.Errorf("normalize: schema %s: period_source column needs period_column", s.Report)
	}

	s.periodAliases = make(map[string]bool, len(s.PeriodColumn))
	for _, a := range s.PeriodColumn {
		s.periodAliases[NormalizeLabel(a)] = true
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return eris.Errorf("normalize: schema %s: field %d has no name", s.Report, i)
		}
		key := f.Name + "/" + string(f.Period)
		if seen[key] {
			return eris.Errorf("normalize: schema %s: duplicate field %s", s.Report, key)
		}
		seen[key] = true
		if f.Kind == "" {
			f.Kind = model.KindNumeric
		}
		f.aliases = make(map[string]bool, len(f.Aliases))
		for _, a := range f.Aliases {
			f.aliases[NormalizeLabel(a)] = true
		}
	}
	return nil
}

// match returns the index of the field whose alias equals the normalized
// label, allowing a trailing totals marker. -1 when none matches.
func (s *Schema) match(label string) int {
	if label == "" {
		return -1
	}
	for i := range s.Fields {
		if s.Fields[i].aliases[label] {
			return i
		}
	}
	for _, suf := range labelSuffixes {
		if trimmed, ok := strings.CutSuffix(label, suf); ok && trimmed != "" {
			for i := range s.Fields {
				if s.Fields[i].aliases[trimmed] {
					return i
				}
			}
		}
	}
	return -1
}

func (s *Schema) isPeriodColumn(label string) bool {
	return s.periodAliases[label]
}

// LoadSchemas reads the built-in schema descriptions, then lets files in dir
// replace them report by report. An empty dir uses the built-ins only.
func LoadSchemas(dir string) (map[model.ReportType]*Schema, error) {
	out := make(map[model.ReportType]*Schema)

	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, eris.Wrap(err, "normalize: read embedded schemas")
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: read schema %s", e.Name())
		}
		if err := addSchema(out, e.Name(), data); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return out, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: glob %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: read schema %s", f)
		}
		if err := addSchema(out, f, data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addSchema(into map[model.ReportType]*Schema, name string, data []byte) error {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return eris.Wrapf(err, "normalize: parse schema %s", name)
	}
	if s.Report == "" {
		return eris.Errorf("normalize: schema %s: missing report", name)
	}
	if err := s.compile(); err != nil {
		return err
	}
	into[s.Report] = &s
	return nil
}
