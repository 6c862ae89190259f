package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/webq/pkg/webq"
)

// CreateProjectRequest is the request body for creating a project
type CreateProjectRequest struct {
	ProjectID   string `json:"project_id"`
	Description string `json:"description,omitempty"`
}

// UpdateProjectRequest renames a project and/or replaces its description.
// Omitted fields are left untouched.
type UpdateProjectRequest struct {
	ProjectID   *string `json:"project_id,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.Projects.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*webq.Project{}
	}
	render.JSON(w, r, projects)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("body", err.Error()))
		return
	}

	project := &webq.Project{ProjectID: req.ProjectID, Description: req.Description}
	if _, err := h.svc.Projects.Create(r.Context(), project); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("project created", "project_id", project.ProjectID, "id", project.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, project)
}

// project resolves the {projectID} path parameter.
func (h *Handler) project(r *http.Request) (*webq.Project, error) {
	return h.svc.Projects.Resolve(r.Context(), chi.URLParam(r, "projectID"))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, project)
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("body", err.Error()))
		return
	}

	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if req.ProjectID != nil && *req.ProjectID != project.ProjectID {
		if err := h.svc.Projects.Rename(ctx, project.ID, *req.ProjectID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.Description != nil && *req.Description != project.Description {
		if err := h.svc.Projects.UpdateDescription(ctx, project.ID, *req.Description); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	updated, err := h.svc.Projects.Get(ctx, project.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, updated)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Projects.Remove(r.Context(), project.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("project removed", "project_id", project.ProjectID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProjectFiles(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files, err := h.svc.ProjectFiles.AllFilesFor(r.Context(), project.Key())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []*webq.ProjectFile{}
	}
	render.JSON(w, r, files)
}

// applyProjectFields overwrites the project specific fields present in the form.
func applyProjectFields(u *upload, file *webq.ProjectFile) error {
	active, ok, err := u.boolValue("active")
	if err != nil {
		return err
	}
	if ok {
		file.Active = active
	}
	mainForm, ok, err := u.boolValue("main_form")
	if err != nil {
		return err
	}
	if ok {
		file.MainForm = mainForm
	}
	if v, ok := u.value("new_xml_file_name"); ok {
		file.NewXMLFileName = v
	}
	if v, ok := u.value("empty_instance_url"); ok {
		file.EmptyInstanceURL = v
	}
	u.applyInfo(&file.FileInfo)
	return nil
}

func (h *Handler) CreateProjectFile(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.parseUpload(w, r, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	file := &webq.ProjectFile{}
	if err := applyProjectFields(u, file); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.ProjectFiles.Save(r.Context(), file, project.Key()); err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, file)
}

func (h *Handler) UpdateProjectFile(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.parseUpload(w, r, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	file, err := h.svc.ProjectFiles.FileByID(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if file.ProjectID != project.ID {
		h.writeError(w, r, webq.ErrNotFound)
		return
	}
	if err := applyProjectFields(u, file); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ProjectFiles.Update(ctx, file, project.Key()); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, file)
}

func (h *Handler) DeleteProjectFiles(w http.ResponseWriter, r *http.Request) {
	project, err := h.project(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids, err := idsParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.svc.ProjectFiles.Remove(r.Context(), project.Key(), ids...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, RemoveResponse{Removed: n})
}

func (h *Handler) DownloadProjectFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	file, err := h.svc.DownloadProjectFile(r.Context(), chi.URLParam(r, "projectID"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, _ := file.Content.Bytes()
	writeXML(w, file.FileName, body)
}
