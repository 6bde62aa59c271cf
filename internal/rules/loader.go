package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/heron/internal/domain"
)

// Document formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// FormatFromPath returns the document format implied by a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Parse decodes a rule table document. Unknown fields are rejected.
func Parse(data []byte, format string) (*domain.RuleTable, error) {
	var table domain.RuleTable
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&table); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&table); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}
	default:
		return nil, fmt.Errorf("unsupported rule table format %q", format)
	}
	return &table, nil
}

// LoadFile reads one rule table. The file name (without extension) is used
// when the document does not name itself.
func LoadFile(path string) (*domain.RuleTable, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rule table %s: %w", path, err)
	}
	table, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if table.Name == "" {
		base := filepath.Base(path)
		table.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return table, data, nil
}

// LoadDir reads every .yaml, .yml and .json file in dir, sorted by name.
func LoadDir(dir string) ([]*domain.StoredRuleTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table directory %s: %w", dir, err)
	}

	var docs []*domain.StoredRuleTable
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		table, data, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, &domain.StoredRuleTable{
			Name:     table.Name,
			Version:  table.Version,
			Format:   FormatFromPath(path),
			Document: data,
			Enabled:  true,
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Decode parses a stored document, naming the table after the record.
func Decode(doc *domain.StoredRuleTable) (*domain.RuleTable, error) {
	table, err := Parse(doc.Document, doc.Format)
	if err != nil {
		return nil, fmt.Errorf("rule table %s: %w", doc.Name, err)
	}
	table.Name = doc.Name
	if table.Version == "" {
		table.Version = doc.Version
	}
	return table, nil
}
