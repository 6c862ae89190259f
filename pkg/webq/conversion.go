package webq

import "context"

// Conversion describes one rendering the external converter can produce.
type Conversion struct {
	ID          int    `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description,omitempty" toml:"description"`
	Schema      string `json:"schema" toml:"schema"`
	ResultType  string `json:"result_type,omitempty" toml:"result_type"`
}

// ConversionSource is the input of a conversion.
type ConversionSource struct {
	FileName     string
	XMLSchemaURL string
	Content      []byte
}

// Rendition is the output of a conversion.
type Rendition struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Converter renders XML files into other formats.
type Converter interface {
	// Convert runs conversionID on src
	Convert(ctx context.Context, src ConversionSource, conversionID int) (*Rendition, error)

	// ConversionsFor lists the conversions that accept schema
	ConversionsFor(schema string) []Conversion
}
