package webq

import (
	"strconv"
	"time"
)

// FileKind selects the table a file record lives in.
type FileKind string

// File kinds
const (
	FileKindUser    FileKind = "user"
	FileKindProject FileKind = "project"
)

// OwnerKind selects the registry an owner entry lives in.
type OwnerKind string

// Owner kinds
const (
	OwnerKindUser    OwnerKind = "user"
	OwnerKindProject OwnerKind = "project"
)

// ContentRef is the opaque numeric id of a stored content body. Zero means no body.
type ContentRef int64

// FileInfo holds the fields shared by every file variant.
type FileInfo struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title,omitempty"`
	FileName     string    `json:"file_name"`
	Description  string    `json:"description,omitempty"`
	XMLSchemaURL string    `json:"xml_schema,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	SizeInBytes  int64     `json:"size_in_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Content      Content   `json:"-"`
}

// IsNew reports whether the file has not been saved yet.
func (f *FileInfo) IsNew() bool {
	return f.ID == 0
}

// IsEmpty reports whether the stored body has zero length, whether or not it is loaded.
func (f *FileInfo) IsEmpty() bool {
	return f.SizeInBytes == 0
}

// UserFile is an XML document uploaded by a user.
type UserFile struct {
	FileInfo
	UserID       string     `json:"user_id"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

// ProjectFile is a form template or instance stored in a project folder.
type ProjectFile struct {
	FileInfo
	ProjectID        int64  `json:"project_id"`
	Active           bool   `json:"active"`
	MainForm         bool   `json:"main_form"`
	NewXMLFileName   string `json:"new_xml_file_name,omitempty"`
	EmptyInstanceURL string `json:"empty_instance_url,omitempty"`
}

// UserKey scopes user files. It is only issued by the Users registry.
type UserKey struct {
	userID string
}

// String returns the external user id.
func (k UserKey) String() string {
	return k.userID
}

// ProjectKey scopes project files. It is only issued by the Projects registry.
type ProjectKey struct {
	id int64
}

// ID returns the internal project id.
func (k ProjectKey) ID() int64 {
	return k.id
}

func (k ProjectKey) String() string {
	return strconv.FormatInt(k.id, 10)
}

// Project is a named folder of shared form templates.
type Project struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"project_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	key ProjectKey
}

// Key returns the owner key used to scope the project's files. Only projects
// returned or created by the Projects registry carry a usable key; the zero key
// is rejected by every file store.
func (p *Project) Key() ProjectKey {
	return p.key
}

// User is a registered owner of uploaded files.
type User struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	key UserKey
}

// Key returns the owner key used to scope the user's files. It is zero unless
// the user came from the Users registry.
func (u *User) Key() UserKey {
	return u.key
}

// FileRow is the persisted shape of a file record, shared by both kinds.
type FileRow struct {
	ID               int64
	Kind             FileKind
	Scope            string
	Title            string
	FileName         string
	Description      string
	XMLSchemaURL     string
	UserName         string
	NewXMLFileName   string
	EmptyInstanceURL string
	Active           bool
	MainForm         bool
	SizeInBytes      int64
	ContentRef       ContentRef
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DownloadedAt     *time.Time
}

// OwnerRow is the persisted shape of an owner entry.
type OwnerRow struct {
	ID          int64
	Kind        OwnerKind
	ExternalKey string
	Description string
	CreatedAt   time.Time
}
