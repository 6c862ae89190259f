package webq

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field limits
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 2000
)

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

func checkRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Code: CodeRequired, Message: "must not be empty"}
	}
	return nil
}

// validateRow checks a file row before it is written. The file name is only
// checked when it is about to be stored, which is on insert and on content updates.
func validateRow(row *FileRow, withContent bool, maxContentSize int64) error {
	if withContent {
		if err := checkRequired("file_name", row.FileName); err != nil {
			return err
		}
		if err := checkLength("file_name", row.FileName, MaxNameLength); err != nil {
			return err
		}
		if maxContentSize > 0 && row.SizeInBytes > maxContentSize {
			return &ValidationError{
				Field:   "content",
				Code:    CodeTooLarge,
				Message: fmt.Sprintf("%d bytes exceeds the limit of %d", row.SizeInBytes, maxContentSize),
			}
		}
	}
	short := []struct{ field, value string }{
		{"title", row.Title},
		{"user_name", row.UserName},
		{"xml_schema", row.XMLSchemaURL},
		{"new_xml_file_name", row.NewXMLFileName},
		{"empty_instance_url", row.EmptyInstanceURL},
	}
	for _, f := range short {
		if err := checkLength(f.field, f.value, MaxNameLength); err != nil {
			return err
		}
	}
	return checkLength("description", row.Description, MaxDescriptionLength)
}

func validateOwnerKey(field, key string) error {
	if err := checkRequired(field, key); err != nil {
		return err
	}
	return checkLength(field, key, MaxNameLength)
}
