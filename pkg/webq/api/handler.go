// Package api exposes the webq service over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/webq/pkg/webq"
)

// maxMemory is the multipart buffer kept in memory; larger parts spill to disk.
const maxMemory = 32 << 20

// formOverhead is the room left for multipart headers and metadata fields on
// top of the content limit.
const formOverhead = 1 << 20

// Handler serves projects, user files and conversions.
type Handler struct {
	svc    *webq.Service
	logger *slog.Logger
}

func NewHandler(svc *webq.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the router for every webq endpoint
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/conversions", h.ListConversions)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.ListProjects)
		r.Post("/", h.CreateProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", h.GetProject)
			r.Put("/", h.UpdateProject)
			r.Delete("/", h.DeleteProject)

			r.Get("/files", h.ListProjectFiles)
			r.Post("/files", h.CreateProjectFile)
			r.Delete("/files", h.DeleteProjectFiles)
			r.Put("/files/{fileID}", h.UpdateProjectFile)
			r.Get("/files/{fileID}/download", h.DownloadProjectFile)
		})
	})

	r.Route("/files", func(r chi.Router) {
		r.Use(h.UserMiddleware)
		r.Get("/", h.ListUserFiles)
		r.Post("/", h.CreateUserFile)
		r.Delete("/", h.DeleteUserFiles)
		r.Put("/{fileID}", h.UpdateUserFile)
		r.Post("/{fileID}/content", h.ReplaceUserFileContent)
		r.Get("/{fileID}/download", h.DownloadUserFile)
		r.Get("/{fileID}/convert/{conversionID}", h.ConvertUserFile)
	})

	return r
}

// ListConversions lists the conversions offered for ?schema=
func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	schema := r.URL.Query().Get("schema")
	if schema == "" {
		h.writeError(w, r, &webq.ValidationError{Field: "schema", Code: webq.CodeRequired})
		return
	}
	convs := h.svc.AvailableConversions(schema)
	if convs == nil {
		convs = []webq.Conversion{}
	}
	render.JSON(w, r, convs)
}

func fileIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("file_id", "must be a positive integer")
	}
	return id, nil
}

// idsParam reads the repeated ?id= parameter of bulk deletes.
func idsParam(r *http.Request) ([]int64, error) {
	raw := r.URL.Query()["id"]
	if len(raw) == 0 {
		return nil, &webq.ValidationError{Field: "id", Code: webq.CodeRequired}
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, badRequest("id", strconv.Quote(s)+" is not a file id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// upload is the parsed multipart form of a create or update request.
type upload struct {
	form     url.Values
	fileName string
	content  []byte
	hasFile  bool
}

// limitBody caps the request body at the content limit plus extra bytes. A
// declared length above the cap is rejected before anything is read.
func (h *Handler) limitBody(w http.ResponseWriter, r *http.Request, extra int64) error {
	limit := h.svc.MaxContentSize()
	if limit <= 0 {
		return nil
	}
	limit += extra
	if r.ContentLength > limit {
		return tooLarge(limit)
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return nil
}

func tooLarge(limit int64) error {
	return &webq.ValidationError{
		Field:   "content",
		Code:    webq.CodeTooLarge,
		Message: "request body exceeds the limit of " + strconv.FormatInt(limit, 10) + " bytes",
	}
}

// bodyError reports a failed body read, mapping an exceeded limit to too_large.
func bodyError(field string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return tooLarge(maxErr.Limit)
	}
	return badRequest(field, err.Error())
}

func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request, fileRequired bool) (*upload, error) {
	if err := h.limitBody(w, r, formOverhead); err != nil {
		return nil, err
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, bodyError("form", err)
	}
	u := &upload{form: r.MultipartForm.Value}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		if fileRequired {
			return nil, &webq.ValidationError{Field: "file", Code: webq.CodeRequired}
		}
		return u, nil
	case err != nil:
		return nil, badRequest("file", err.Error())
	}
	defer file.Close()

	u.content, err = readPart(file)
	if err != nil {
		return nil, err
	}
	u.fileName = header.Filename
	u.hasFile = true
	return u, nil
}

func readPart(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, bodyError("file", err)
	}
	return data, nil
}

// applyInfo overwrites the shared metadata fields present in the form.
func (u *upload) applyInfo(info *webq.FileInfo) {
	if v, ok := u.value("title"); ok {
		info.Title = v
	}
	if v, ok := u.value("description"); ok {
		info.Description = v
	}
	if v, ok := u.value("xml_schema"); ok {
		info.XMLSchemaURL = v
	}
	if v, ok := u.value("user_name"); ok {
		info.UserName = v
	}
	if u.hasFile {
		info.FileName = u.fileName
		info.Content = webq.NewContent(u.content)
	}
}

func (u *upload) value(key string) (string, bool) {
	vs, ok := u.form[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (u *upload) boolValue(key string) (bool, bool, error) {
	v, ok := u.value(key)
	if !ok || v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, badRequest(key, "must be a boolean")
	}
	return b, true, nil
}

// writeXML sends a stored document as an attachment.
func writeXML(w http.ResponseWriter, fileName string, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment;filename="+url.QueryEscape(fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// RemoveResponse reports how many files a bulk delete removed
type RemoveResponse struct {
	Removed int `json:"removed"`
}
