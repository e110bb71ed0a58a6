package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mendersoftware/deployments/services/deployments"
)

// fieldMaxLength caps non-file multipart fields on artifact uploads.
const fieldMaxLength = 4096

// formValue reads one scalar multipart field.
func formValue(p *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(p, fieldMaxLength+1))
	if err != nil {
		return "", err
	}
	if len(data) > fieldMaxLength {
		return "", fmt.Errorf("field %q too long", p.FormName())
	}
	return string(data), nil
}

// handleUploadArtifact ingests an artifact binary synchronously. The
// multipart body must carry the size field before the artifact part so the
// object write can be bounded while the body streams through.
func (a *API) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("multipart body required"))
		return
	}

	up := &deployments.ArtifactUpload{}
	var artifact *deployments.Artifact

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}

		switch part.FormName() {
		case "description":
			if up.Description, err = formValue(part); err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
		case "size":
			v, err := formValue(part)
			if err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
			if up.Size, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
				respondError(w, http.StatusBadRequest, errors.New("malformed size field"))
				return
			}
		case "artifact":
			if up.Size <= 0 {
				respondError(w, http.StatusBadRequest, errors.New("size field must precede the artifact"))
				return
			}
			up.Data = part
			// No request timeout here: the artifact streams to object
			// storage and then through the introspection tool.
			artifact, err = a.app.UploadArtifact(r.Context(), a.tenantOf(r), up)
			if err != nil {
				respondAppError(w, err)
				return
			}
		default:
			respondError(w, http.StatusBadRequest, fmt.Errorf("unexpected field %q", part.FormName()))
			return
		}
	}

	if artifact == nil {
		respondError(w, http.StatusBadRequest, errors.New("artifact part is required"))
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+artifact.ID.String())
	respondJSON(w, http.StatusCreated, artifact)
}

// handleGenerateArtifact accepts raw data plus the metadata needed to build
// an artifact from it. Scalar fields must precede the file part.
func (a *API) handleGenerateArtifact(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("multipart body required"))
		return
	}

	gen := &deployments.ArtifactGenerate{}
	var artifact *deployments.Artifact

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}

		switch part.FormName() {
		case "name":
			if gen.Name, err = formValue(part); err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
		case "description":
			if gen.Description, err = formValue(part); err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
		case "device_types_compatible":
			v, err := formValue(part)
			if err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
			for _, dt := range strings.Split(v, ",") {
				if dt = strings.TrimSpace(dt); dt != "" {
					gen.DeviceTypes = append(gen.DeviceTypes, dt)
				}
			}
		case "type":
			if gen.Type, err = formValue(part); err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
		case "args":
			if gen.Args, err = formValue(part); err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
		case "size":
			v, err := formValue(part)
			if err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
			if gen.Size, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
				respondError(w, http.StatusBadRequest, errors.New("malformed size field"))
				return
			}
		case "file":
			if gen.Size <= 0 {
				respondError(w, http.StatusBadRequest, errors.New("size field must precede the file"))
				return
			}
			gen.Data = part
			artifact, err = a.app.GenerateArtifact(r.Context(), a.tenantOf(r), gen)
			if err != nil {
				respondAppError(w, err)
				return
			}
		default:
			respondError(w, http.StatusBadRequest, fmt.Errorf("unexpected field %q", part.FormName()))
			return
		}
	}

	if artifact == nil {
		respondError(w, http.StatusBadRequest, errors.New("file part is required"))
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/generate")+"/"+artifact.ID.String())
	respondJSON(w, http.StatusCreated, artifact)
}

func (a *API) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	artifacts, err := a.app.ListArtifacts(ctx, a.tenantOf(r), skip, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifacts)
}

func (a *API) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed artifact id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	artifact, err := a.app.GetArtifact(ctx, a.tenantOf(r), id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

func (a *API) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed artifact id"))
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.UpdateArtifactDescription(ctx, a.tenantOf(r), id, req.Description); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed artifact id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.DeleteArtifact(ctx, a.tenantOf(r), id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleArtifactDownloadLink(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed artifact id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	l, err := a.app.ArtifactDownloadLink(ctx, a.tenantOf(r), id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (a *API) handleListReleases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	releases, err := a.app.ListReleases(ctx, a.tenantOf(r), strings.TrimSpace(r.URL.Query().Get("name")))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, releases)
}

func (a *API) handlePatchReleaseNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.PatchReleaseNotes(ctx, a.tenantOf(r), chi.URLParam(r, "name"), req.Notes); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	var meta map[string]any
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &meta); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	draft, err := a.app.RequestUpload(ctx, a.tenantOf(r), meta)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

func (a *API) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed upload id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.app.CompleteUpload(ctx, a.tenantOf(r), id); err != nil {
		respondAppError(w, err)
		return
	}
	// The artifact appears asynchronously once ingestion finishes.
	respondJSON(w, http.StatusAccepted, nil)
}

func (a *API) handleGetUploadIntent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("malformed upload id"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	intent, err := a.app.GetUploadIntent(ctx, a.tenantOf(r), id)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, intent)
}
