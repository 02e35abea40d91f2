package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"mime"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/inference"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// ImageEmbedder computes a reference embedding from an enrollment photo.
type ImageEmbedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
}

// Forgetter drops per-identity state held outside the index.
type Forgetter interface {
	Forget(label int64)
}

// IdentitiesHandler handles identity registration and lookup.
type IdentitiesHandler struct {
	index     *database.IdentityIndex
	embedder  ImageEmbedder
	forgetter Forgetter
}

// NewIdentitiesHandler creates a new identities handler. embedder and forgetter may be nil.
func NewIdentitiesHandler(index *database.IdentityIndex, embedder ImageEmbedder, forgetter Forgetter) *IdentitiesHandler {
	return &IdentitiesHandler{
		index:     index,
		embedder:  embedder,
		forgetter: forgetter,
	}
}

// IdentityResponse is an identity as returned by the API.
type IdentityResponse struct {
	Label     int64     `json:"label"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// IdentityListResponse is returned by List.
type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Count      int                `json:"count"`
}

type createIdentityRequest struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

type renameIdentityRequest struct {
	Name string `json:"name"`
}

type searchRequest struct {
	Embedding []float32 `json:"embedding"`
	Threshold *float64  `json:"threshold,omitempty"`
}

func toResponse(id database.Identity, withEmbedding bool) IdentityResponse {
	resp := IdentityResponse{Label: id.Label, Name: id.Name}
	if withEmbedding {
		resp.Embedding = id.Embedding
	}
	return resp
}

// persist writes the index to its store after a mutation.
func (h *IdentitiesHandler) persist(w http.ResponseWriter, r *http.Request) bool {
	if err := h.index.Save(r.Context()); err != nil {
		log.Printf("Identities: failed to persist index: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to persist identities")
		return false
	}
	return true
}

// List returns all identities ordered by label. ?name= filters by normalized name.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	var identities []database.Identity
	if name := r.URL.Query().Get("name"); name != "" {
		identities = h.index.FindByName(name)
	} else {
		identities = h.index.List()
	}

	resp := IdentityListResponse{Identities: make([]IdentityResponse, 0, len(identities))}
	for _, id := range identities {
		resp.Identities = append(resp.Identities, toResponse(id, false))
	}
	resp.Count = len(resp.Identities)
	respondJSON(w, http.StatusOK, resp)
}

// Create registers an identity. JSON bodies carry {name, embedding}; multipart
// bodies carry a "name" field and an "image" file whose largest face is enrolled.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		name      string
		embedding []float32
		ok        bool
	)
	if mediaType == "multipart/form-data" {
		name, embedding, ok = h.embeddingFromUpload(w, r)
	} else {
		var req createIdentityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		name, embedding, ok = req.Name, req.Embedding, true
	}
	if !ok {
		return
	}

	label, err := h.index.Insert(name, embedding)
	if err != nil {
		respondError(w, embeddingStatus(err), err.Error())
		return
	}
	if !h.persist(w, r) {
		return
	}

	log.Printf("Identities: registered %q as label %d", sanitizeForLog(name), label)
	respondJSON(w, http.StatusCreated, IdentityResponse{Label: label, Name: name})
}

func (h *IdentitiesHandler) embeddingFromUpload(w http.ResponseWriter, r *http.Request) (string, []float32, bool) {
	if h.embedder == nil {
		respondError(w, http.StatusNotImplemented, "image enrollment is not available")
		return "", nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return "", nil, false
	}

	name := r.FormValue("name")
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return "", nil, false
	}
	img, err := inference.DecodeImage(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported image format")
		return "", nil, false
	}

	embedding, err := h.embedder.Embed(r.Context(), img)
	switch {
	case errors.Is(err, recognition.ErrNoFace):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return "", nil, false
	case err != nil:
		log.Printf("Identities: enrollment failed: %v", err)
		respondError(w, http.StatusBadGateway, "failed to compute embedding")
		return "", nil, false
	}
	return name, embedding, true
}

// Get returns one identity. ?embedding=true includes the stored vector.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	label, err := labelParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, found := h.index.Get(label)
	if !found {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	respondJSON(w, http.StatusOK, toResponse(id, r.URL.Query().Get("embedding") == "true"))
}

// Update renames an identity. The embedding is unchanged.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	label, err := labelParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req renameIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if _, found := h.index.Get(label); !found {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if !h.index.Rename(label, req.Name) {
		respondError(w, http.StatusBadRequest, database.ErrInvalidName.Error())
		return
	}
	if !h.persist(w, r) {
		return
	}

	id, _ := h.index.Get(label)
	respondJSON(w, http.StatusOK, toResponse(id, false))
}

// Delete removes an identity and drops any cached recognition state for it.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	label, err := labelParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.index.Delete(label) {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	if h.forgetter != nil {
		h.forgetter.Forget(label)
	}
	if !h.persist(w, r) {
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": true, "label": label})
}

// Search finds the closest identity to an embedding. The index threshold is
// used unless the request overrides it.
func (h *IdentitiesHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	threshold := h.index.Threshold()
	if req.Threshold != nil {
		if *req.Threshold < -1 || *req.Threshold > 1 {
			respondError(w, http.StatusBadRequest, "threshold must be within [-1, 1]")
			return
		}
		threshold = *req.Threshold
	}

	result, err := h.index.Search(req.Embedding, threshold)
	if err != nil {
		respondError(w, embeddingStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
