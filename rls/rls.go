// Package rls renders and verifies the row-level security policy catalog.
package rls

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/lib/pq"
	"gopkg.in/yaml.v2"
)

//go:embed policies.yaml
var defaultCatalog []byte

// Commands accepted by CREATE POLICY ... FOR.
const (
	CommandSelect = "SELECT"
	CommandInsert = "INSERT"
	CommandUpdate = "UPDATE"
	CommandDelete = "DELETE"
	CommandAll    = "ALL"
)

// Policy is one CREATE POLICY statement.
type Policy struct {
	Table      string   `yaml:"table"`
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Roles      []string `yaml:"roles"`
	Using      string   `yaml:"using"`
	WithCheck  string   `yaml:"with_check"`
	Permissive *bool    `yaml:"permissive"`
}

// IsPermissive defaults to true.
func (p Policy) IsPermissive() bool {
	return p.Permissive == nil || *p.Permissive
}

// Catalog holds policies in application order.
type Catalog struct {
	Policies []Policy `yaml:"policies"`
}

// DefaultCatalog parses the embedded policies.yaml.
func DefaultCatalog() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadCatalog reads an override file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse policy catalog: %w", err)
	}
	for i := range c.Policies {
		c.Policies[i].Command = strings.ToUpper(strings.TrimSpace(c.Policies[i].Command))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects catalogs Postgres would refuse or that are ambiguous.
func (c *Catalog) Validate() error {
	seen := map[string]bool{}
	for i, p := range c.Policies {
		if p.Table == "" || p.Name == "" {
			return fmt.Errorf("policy #%d: table and name are required", i+1)
		}
		key := p.Table + "." + p.Name
		if seen[key] {
			return fmt.Errorf("policy %s: duplicate name on table", key)
		}
		seen[key] = true

		switch p.Command {
		case CommandSelect, CommandDelete:
			if p.WithCheck != "" {
				return fmt.Errorf("policy %s: %s policies cannot have WITH CHECK", key, p.Command)
			}
		case CommandInsert:
			if p.Using != "" {
				return fmt.Errorf("policy %s: INSERT policies cannot have USING", key)
			}
		case CommandUpdate, CommandAll:
		default:
			return fmt.Errorf("policy %s: unknown command %q", key, p.Command)
		}
		if p.Using == "" && p.WithCheck == "" {
			return fmt.Errorf("policy %s: needs USING or WITH CHECK", key)
		}
	}
	return nil
}

// Tables lists tables in the order they first appear.
func (c *Catalog) Tables() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range c.Policies {
		if !seen[p.Table] {
			seen[p.Table] = true
			out = append(out, p.Table)
		}
	}
	return out
}

// ForTable returns the table's policies in catalog order.
func (c *Catalog) ForTable(table string) []Policy {
	var out []Policy
	for _, p := range c.Policies {
		if p.Table == table {
			out = append(out, p)
		}
	}
	return out
}

func qualified(table string) string {
	return "public." + pq.QuoteIdentifier(table)
}

func renderRoles(roles []string) string {
	if len(roles) == 0 {
		return "public"
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		if strings.EqualFold(r, "public") {
			out[i] = "public"
			continue
		}
		out[i] = pq.QuoteIdentifier(r)
	}
	return strings.Join(out, ", ")
}

// Render returns DROP POLICY IF EXISTS followed by CREATE POLICY.
func (p Policy) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DROP POLICY IF EXISTS %s ON %s;\n", pq.QuoteIdentifier(p.Name), qualified(p.Table))
	kind := "PERMISSIVE"
	if !p.IsPermissive() {
		kind = "RESTRICTIVE"
	}
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s AS %s FOR %s TO %s",
		pq.QuoteIdentifier(p.Name), qualified(p.Table), kind, p.Command, renderRoles(p.Roles))
	if p.Using != "" {
		fmt.Fprintf(&b, "\n  USING (%s)", p.Using)
	}
	if p.WithCheck != "" {
		fmt.Fprintf(&b, "\n  WITH CHECK (%s)", p.WithCheck)
	}
	b.WriteString(";\n")
	return b.String()
}

// RenderTable returns the full script for one table, or "" when the catalog
// has no policies for it.
func (c *Catalog) RenderTable(table string) string {
	policies := c.ForTable(table)
	if len(policies) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n", qualified(table))
	for _, p := range policies {
		b.WriteString(p.Render())
	}
	return b.String()
}

// RenderAll concatenates every table script in catalog order.
func (c *Catalog) RenderAll() string {
	var parts []string
	for _, t := range c.Tables() {
		parts = append(parts, fmt.Sprintf("-- %s\n%s", t, c.RenderTable(t)))
	}
	return strings.Join(parts, "\n")
}
