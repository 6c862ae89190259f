// Package tables describes the relational layout shared by the SQL repositories.
package tables

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tendant/webq/pkg/webq"
)

// Scanner is satisfied by pgx.Row and *sql.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

// Placeholder renders the n-th (1 based) bind parameter.
type Placeholder func(n int) string

// Dollar renders $n placeholders.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question renders ?n placeholders.
func Question(n int) string { return "?" + strconv.Itoa(n) }

// FileTable maps one file kind to its table.
type FileTable struct {
	Kind        webq.FileKind
	Name        string
	ScopeColumn string
	project     bool
}

var (
	userFiles    = &FileTable{Kind: webq.FileKindUser, Name: "user_files", ScopeColumn: "user_id"}
	projectFiles = &FileTable{Kind: webq.FileKindProject, Name: "project_files", ScopeColumn: "project_id", project: true}
)

// Files returns the table of kind.
func Files(kind webq.FileKind) (*FileTable, error) {
	switch kind {
	case webq.FileKindUser:
		return userFiles, nil
	case webq.FileKindProject:
		return projectFiles, nil
	}
	return nil, fmt.Errorf("unknown file kind %q", kind)
}

var metadataColumns = []string{"title", "description", "xml_schema", "user_name"}

func (t *FileTable) settingColumns() []string {
	if t.project {
		return []string{"active", "main_form", "new_xml_file_name", "empty_instance_url"}
	}
	return nil
}

// columns lists every column but id, in insert order.
func (t *FileTable) columns() []string {
	cols := []string{t.ScopeColumn, "file_name"}
	cols = append(cols, metadataColumns...)
	cols = append(cols, t.settingColumns()...)
	cols = append(cols, "size_in_bytes", "content_ref", "created_at", "updated_at")
	if !t.project {
		cols = append(cols, "downloaded_at")
	}
	return cols
}

// SelectList is the column list read by Scan.
func (t *FileTable) SelectList() string {
	return "id, " + strings.Join(t.columns(), ", ")
}

// ScopeArg converts a scope string to the scope column's type.
func (t *FileTable) ScopeArg(scope string) (any, error) {
	if !t.project {
		return scope, nil
	}
	id, err := strconv.ParseInt(scope, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad project scope %q: %w", scope, err)
	}
	return id, nil
}

func (t *FileTable) metadataValues(row *webq.FileRow) []any {
	vals := []any{row.Title, row.Description, row.XMLSchemaURL, row.UserName}
	if t.project {
		vals = append(vals, row.Active, row.MainForm, row.NewXMLFileName, row.EmptyInstanceURL)
	}
	return vals
}

// Insert returns the insert statement (without RETURNING) and its arguments.
func (t *FileTable) Insert(row *webq.FileRow, ph Placeholder) (string, []any, error) {
	scope, err := t.ScopeArg(row.Scope)
	if err != nil {
		return "", nil, err
	}
	args := []any{scope, row.FileName}
	args = append(args, t.metadataValues(row)...)
	args = append(args, row.SizeInBytes, int64(row.ContentRef), row.CreatedAt, row.UpdatedAt)
	if !t.project {
		args = append(args, row.DownloadedAt)
	}
	marks := make([]string, len(args))
	for i := range args {
		marks[i] = ph(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(t.columns(), ", "), strings.Join(marks, ", "))
	return query, args, nil
}

// Update returns the scoped update statement. The file name, size and content
// ref are only written when withContent is set.
func (t *FileTable) Update(row *webq.FileRow, withContent bool, ph Placeholder) (string, []any, error) {
	scope, err := t.ScopeArg(row.Scope)
	if err != nil {
		return "", nil, err
	}
	cols := append(append([]string{}, metadataColumns...), t.settingColumns()...)
	args := t.metadataValues(row)
	cols = append(cols, "updated_at")
	args = append(args, row.UpdatedAt)
	if withContent {
		cols = append(cols, "file_name", "size_in_bytes", "content_ref")
		args = append(args, row.FileName, row.SizeInBytes, int64(row.ContentRef))
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = " + ph(i+1)
	}
	args = append(args, row.ID, scope)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s AND %s = %s",
		t.Name, strings.Join(sets, ", "), ph(len(args)-1), t.ScopeColumn, ph(len(args)))
	return query, args, nil
}

// Scan reads one row selected with SelectList.
func (t *FileTable) Scan(s Scanner) (*webq.FileRow, error) {
	row := &webq.FileRow{Kind: t.Kind}
	var (
		userScope    string
		projectScope int64
		ref          int64
	)
	dest := []any{&row.ID}
	if t.project {
		dest = append(dest, &projectScope)
	} else {
		dest = append(dest, &userScope)
	}
	dest = append(dest, &row.FileName, &row.Title, &row.Description, &row.XMLSchemaURL, &row.UserName)
	if t.project {
		dest = append(dest, &row.Active, &row.MainForm, &row.NewXMLFileName, &row.EmptyInstanceURL)
	}
	dest = append(dest, &row.SizeInBytes, &ref, &row.CreatedAt, &row.UpdatedAt)
	if !t.project {
		dest = append(dest, &row.DownloadedAt)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if t.project {
		row.Scope = strconv.FormatInt(projectScope, 10)
	} else {
		row.Scope = userScope
	}
	row.ContentRef = webq.ContentRef(ref)
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	if row.DownloadedAt != nil {
		at := row.DownloadedAt.UTC()
		row.DownloadedAt = &at
	}
	return row, nil
}

// OwnerTable maps one owner kind to its table.
type OwnerTable struct {
	Kind      webq.OwnerKind
	Name      string
	KeyColumn string
	described bool
}

var (
	projects = &OwnerTable{Kind: webq.OwnerKindProject, Name: "projects", KeyColumn: "project_id", described: true}
	users    = &OwnerTable{Kind: webq.OwnerKindUser, Name: "users", KeyColumn: "user_id"}
)

// Owners returns the table of kind.
func Owners(kind webq.OwnerKind) (*OwnerTable, error) {
	switch kind {
	case webq.OwnerKindProject:
		return projects, nil
	case webq.OwnerKindUser:
		return users, nil
	}
	return nil, fmt.Errorf("unknown owner kind %q", kind)
}

// SelectList is the column list read by Scan.
func (t *OwnerTable) SelectList() string {
	if t.described {
		return "id, " + t.KeyColumn + ", description, created_at"
	}
	return "id, " + t.KeyColumn + ", created_at"
}

// Insert returns the insert statement (without RETURNING) and its arguments.
func (t *OwnerTable) Insert(row *webq.OwnerRow, ph Placeholder) (string, []any) {
	if t.described {
		return fmt.Sprintf("INSERT INTO %s (%s, description, created_at) VALUES (%s, %s, %s)",
			t.Name, t.KeyColumn, ph(1), ph(2), ph(3)), []any{row.ExternalKey, row.Description, row.CreatedAt}
	}
	return fmt.Sprintf("INSERT INTO %s (%s, created_at) VALUES (%s, %s)",
		t.Name, t.KeyColumn, ph(1), ph(2)), []any{row.ExternalKey, row.CreatedAt}
}

// Update returns the update statement for the key and description.
func (t *OwnerTable) Update(row *webq.OwnerRow, ph Placeholder) (string, []any) {
	if t.described {
		return fmt.Sprintf("UPDATE %s SET %s = %s, description = %s WHERE id = %s",
			t.Name, t.KeyColumn, ph(1), ph(2), ph(3)), []any{row.ExternalKey, row.Description, row.ID}
	}
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE id = %s",
		t.Name, t.KeyColumn, ph(1), ph(2)), []any{row.ExternalKey, row.ID}
}

// Scan reads one row selected with SelectList.
func (t *OwnerTable) Scan(s Scanner) (*webq.OwnerRow, error) {
	row := &webq.OwnerRow{Kind: t.Kind}
	var err error
	if t.described {
		err = s.Scan(&row.ID, &row.ExternalKey, &row.Description, &row.CreatedAt)
	} else {
		err = s.Scan(&row.ID, &row.ExternalKey, &row.CreatedAt)
	}
	if err != nil {
		return nil, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}
