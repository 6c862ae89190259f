// Package convert dispatches XML files to an external conversion engine.
package convert

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/tendant/webq/pkg/webq"
)

// Catalog is the fixed registry of conversions offered by the engine.
type Catalog struct {
	byID map[int]webq.Conversion
}

type catalogFile struct {
	Conversions []webq.Conversion `toml:"conversion"`
}

// NewCatalog builds a catalog from conversions. Ids must be positive and unique.
func NewCatalog(conversions ...webq.Conversion) (*Catalog, error) {
	c := &Catalog{byID: make(map[int]webq.Conversion, len(conversions))}
	for _, conv := range conversions {
		if conv.ID <= 0 {
			return nil, fmt.Errorf("conversion %q: id must be positive", conv.Name)
		}
		if conv.Schema == "" {
			return nil, fmt.Errorf("conversion %d: schema is required", conv.ID)
		}
		if _, dup := c.byID[conv.ID]; dup {
			return nil, fmt.Errorf("conversion %d is defined twice", conv.ID)
		}
		c.byID[conv.ID] = conv
	}
	return c, nil
}

// ParseCatalog reads a catalog from TOML with one [[conversion]] table per entry.
func ParseCatalog(data string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parse conversion catalog: %w", err)
	}
	return NewCatalog(f.Conversions...)
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversion catalog: %w", err)
	}
	return ParseCatalog(string(data))
}

// Lookup returns the conversion with id.
func (c *Catalog) Lookup(id int) (webq.Conversion, bool) {
	conv, ok := c.byID[id]
	return conv, ok
}

// ConversionsFor lists the conversions accepting schema, ordered by id.
func (c *Catalog) ConversionsFor(schema string) []webq.Conversion {
	var result []webq.Conversion
	for _, conv := range c.byID {
		if conv.Schema == schema {
			result = append(result, conv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len reports the number of conversions.
func (c *Catalog) Len() int {
	return len(c.byID)
}
