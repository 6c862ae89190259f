package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/webq/pkg/webq"
)

// currentUser returns the user set by UserMiddleware. Routes under /files always have one.
func currentUser(r *http.Request) webq.UserKey {
	user, _ := UserFrom(r.Context())
	return user.Key()
}

func (h *Handler) ListUserFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.UserFiles.AllFilesFor(r.Context(), currentUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []*webq.UserFile{}
	}
	render.JSON(w, r, files)
}

func (h *Handler) CreateUserFile(w http.ResponseWriter, r *http.Request) {
	u, err := h.parseUpload(w, r, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	file := &webq.UserFile{}
	u.applyInfo(&file.FileInfo)
	if _, err := h.svc.UserFiles.Save(r.Context(), file, currentUser(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("file uploaded", "user_id", file.UserID, "file_id", file.ID, "size", file.SizeInBytes)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, file)
}

// ownedUserFile loads the metadata of {fileID} and checks it belongs to the current user.
func (h *Handler) ownedUserFile(r *http.Request) (*webq.UserFile, error) {
	id, err := fileIDParam(r)
	if err != nil {
		return nil, err
	}
	file, err := h.svc.UserFiles.FileByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if file.UserID != currentUser(r).String() {
		return nil, webq.ErrNotFound
	}
	return file, nil
}

func (h *Handler) UpdateUserFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.ownedUserFile(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.parseUpload(w, r, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	u.applyInfo(&file.FileInfo)
	if err := h.svc.UserFiles.Update(r.Context(), file, currentUser(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, file)
}

// ReplaceUserFileContent stores the raw request body as the new content of the file.
// Form editors post the edited instance here.
func (h *Handler) ReplaceUserFileContent(w http.ResponseWriter, r *http.Request) {
	file, err := h.ownedUserFile(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.limitBody(w, r, 0); err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, bodyError("body", err))
		return
	}

	file.Content = webq.NewContent(body)
	if err := h.svc.UserFiles.Update(r.Context(), file, currentUser(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, file)
}

func (h *Handler) DeleteUserFiles(w http.ResponseWriter, r *http.Request) {
	ids, err := idsParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.svc.UserFiles.Remove(r.Context(), currentUser(r), ids...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, RemoveResponse{Removed: n})
}

func (h *Handler) DownloadUserFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	file, err := h.svc.DownloadUserFile(r.Context(), currentUser(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, _ := file.Content.Bytes()
	writeXML(w, file.FileName, body)
}

func (h *Handler) ConvertUserFile(w http.ResponseWriter, r *http.Request) {
	id, err := fileIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	conversionID, err := strconv.Atoi(chi.URLParam(r, "conversionID"))
	if err != nil {
		h.writeError(w, r, badRequest("conversion_id", "must be an integer"))
		return
	}

	rendition, err := h.svc.ConvertUserFile(r.Context(), currentUser(r), id, conversionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if rendition.ContentType != "" {
		w.Header().Set("Content-Type", rendition.ContentType)
	}
	if rendition.FileName != "" {
		w.Header().Set("Content-Disposition", "attachment;filename="+url.QueryEscape(rendition.FileName))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(rendition.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendition.Data)
}
