package navigator

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/twstock-cli/internal/model"
)

//go:embed site.yaml
var defaultSite []byte

// Stage describes how to reach one report page and recognize its content.
type Stage struct {
	URL         string `yaml:"url"`
	Input       string `yaml:"input,omitempty"`
	Submit      string `yaml:"submit,omitempty"`
	Table       string `yaml:"table"`
	PDFLinks    string `yaml:"pdf_links,omitempty"`
	SnapshotPDF bool   `yaml:"snapshot_pdf,omitempty"`
}

// URLFor renders the stage URL for a stock id.
func (s Stage) URLFor(id model.Identifier) string {
	if strings.Contains(s.URL, "%s") {
		return fmt.Sprintf(s.URL, id)
	}
	return s.URL
}

// Site is the data description of the upstream site.
type Site struct {
	NoDataMessages []string                   `yaml:"no_data_messages"`
	Stages         map[model.ReportType]Stage `yaml:"stages"`
}

// LoadSite parses the site description at path, or the built-in one when
// path is empty.
func LoadSite(path string) (*Site, error) {
	data := defaultSite
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "navigator: read site %s", path)
		}
		data = b
	}
	return ParseSite(data)
}

// ParseSite decodes and validates a site description.
func ParseSite(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "navigator: parse site")
	}
	for _, r := range model.ReportTypes {
		st, ok := s.Stages[r]
		if !ok || st.URL == "" {
			return nil, eris.Errorf("navigator: site has no url for stage %s", r)
		}
		if st.Table == "" {
			st.Table = "table"
			s.Stages[r] = st
		}
	}
	return &s, nil
}
