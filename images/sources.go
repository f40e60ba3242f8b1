package images

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "teedops/errors"

	"github.com/BurntSushi/toml"
)

// Source names one catalog item and where to find photos of it.
type Source struct {
	Brand     string   `toml:"brand"`
	Model     string   `toml:"model"`
	Category  string   `toml:"category"`
	PageURL   string   `toml:"page_url"`
	ImageURLs []string `toml:"image_urls"`
	Selector  string   `toml:"selector"`
	// Limit caps how many photos are kept for this item. Zero uses the collector default.
	Limit int `toml:"limit"`
}

// Key is "brand model", lower-cased.
func (s Source) Key() string {
	return strings.ToLower(strings.TrimSpace(s.Brand) + " " + strings.TrimSpace(s.Model))
}

type sourceFile struct {
	Sources []Source `toml:"source"`
}

// LoadSources reads a TOML file of [[source]] tables.
func LoadSources(path string) ([]Source, error) {
	var f sourceFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
			fmt.Sprintf("failed to parse %s", path), err)
	}
	return checkSources(md, f.Sources)
}

// ParseSources is LoadSources for an in-memory document.
func ParseSources(doc string) ([]Source, error) {
	var f sourceFile
	md, err := toml.Decode(doc, &f)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat, "failed to parse sources", err)
	}
	return checkSources(md, f.Sources)
}

func checkSources(md toml.MetaData, sources []Source) ([]Source, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
			"unknown keys in sources: "+strings.Join(keys, ", "), nil)
	}
	for i, s := range sources {
		if err := s.validate(); err != nil {
			return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("source #%d (%s %s): %s", i+1, s.Brand, s.Model, err), nil)
		}
	}
	return sources, nil
}

func (s Source) validate() error {
	if strings.TrimSpace(s.Brand) == "" || strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("brand and model are required")
	}
	if s.PageURL == "" && len(s.ImageURLs) == 0 {
		return fmt.Errorf("page_url or image_urls is required")
	}
	if s.PageURL != "" {
		if err := checkHTTPURL(s.PageURL); err != nil {
			return err
		}
	}
	for _, u := range s.ImageURLs {
		if err := checkHTTPURL(u); err != nil {
			return err
		}
	}
	if s.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}
