// Package smoke loads site pages and checks simple conditions on their static DOM.
package smoke

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed pages.yaml
var defaultCatalog []byte

// Assertion checks the parsed page. With only Selector set it requires at least
// Min matches (default 1). With Text set the matched elements, or the whole body
// when Selector is empty, must contain Text.
type Assertion struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
	Min      int    `yaml:"min"`
}

func (a Assertion) String() string {
	switch {
	case a.Selector != "" && a.Text != "":
		return fmt.Sprintf("%s contains %q", a.Selector, a.Text)
	case a.Text != "":
		return fmt.Sprintf("page contains %q", a.Text)
	case a.Min > 1:
		return fmt.Sprintf("%s matches at least %d", a.Selector, a.Min)
	}
	return a.Selector + " exists"
}

// Page is one URL path and what it must look like.
type Page struct {
	Name   string      `yaml:"name"`
	Path   string      `yaml:"path"`
	Status int         `yaml:"status"`
	Assert []Assertion `yaml:"assert"`
}

// ExpectedStatus defaults to 200.
func (p Page) ExpectedStatus() int {
	if p.Status == 0 {
		return http.StatusOK
	}
	return p.Status
}

type Catalog struct {
	Pages []Page `yaml:"pages"`
}

// DefaultCatalog parses the embedded pages.yaml.
func DefaultCatalog() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadCatalog reads a catalog file that replaces the embedded one.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read smoke catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse smoke catalog: %w", err)
	}
	if len(c.Pages) == 0 {
		return nil, fmt.Errorf("smoke catalog has no pages")
	}
	for i, p := range c.Pages {
		if !strings.HasPrefix(p.Path, "/") {
			return nil, fmt.Errorf("page #%d: path must start with /", i+1)
		}
		if p.Name == "" {
			c.Pages[i].Name = p.Path
		}
		if p.Status != 0 && (p.Status < 100 || p.Status > 599) {
			return nil, fmt.Errorf("page %s: invalid status %d", p.Path, p.Status)
		}
		for j, a := range p.Assert {
			if a.Selector == "" && a.Text == "" {
				return nil, fmt.Errorf("page %s: assertion #%d needs a selector or text", p.Path, j+1)
			}
			if a.Min < 0 {
				return nil, fmt.Errorf("page %s: assertion #%d has negative min", p.Path, j+1)
			}
		}
	}
	return &c, nil
}
