package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"photobooth/internal/domain"
)

type submitRequest struct {
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt"`
	StylePrompt    string    `json:"style_prompt"`
	StyleName      string    `json:"style_name"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Steps          int       `json:"steps"`
	Guidance       []float64 `json:"guidance"`
	Seed           *int64    `json:"seed"`
	JobCount       int       `json:"job_count"`
	Funding        string    `json:"funding"`
	Premium        bool      `json:"premium"`
	KeepOriginal   bool      `json:"keep_original"`
	SourceType     string    `json:"source_type"`
	SourceURL      string    `json:"source_url"`
	SourceImage    string    `json:"source_image"`
	SourceMIME     string    `json:"source_mime"`
}

// SubmitProject accepts a generation request and starts a new project.
func (a *App) SubmitProject(w http.ResponseWriter, r *http.Request) {
	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if in.Prompt == "" && in.StylePrompt == "" {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	req := domain.GenerationRequest{
		Model:          in.Model,
		Prompt:         in.Prompt,
		NegativePrompt: in.NegativePrompt,
		StylePrompt:    in.StylePrompt,
		StyleName:      in.StyleName,
		Width:          in.Width,
		Height:         in.Height,
		Steps:          in.Steps,
		Guidance:       in.Guidance,
		Seed:           in.Seed,
		JobCount:       in.JobCount,
		Funding:        domain.FundingToken(in.Funding),
		Premium:        in.Premium,
		KeepOriginal:   in.KeepOriginal,
		SourceType:     domain.SourceType(in.SourceType),
	}
	if in.SourceImage != "" || in.SourceURL != "" {
		source := &domain.SourceImage{URL: in.SourceURL, MIME: in.SourceMIME}
		if in.SourceImage != "" {
			data, err := base64.StdEncoding.DecodeString(in.SourceImage)
			if err != nil {
				a.json(w, http.StatusBadRequest, map[string]string{"error": "source_image is not valid base64"})
				return
			}
			source.Data = data
		}
		req.Source = source
	}

	projectID, err := a.Booth.Submit(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"project_id": projectID,
		"slots":      a.Booth.Store().Len(a.Booth.Store().Mode()),
	})
}

// CancelProject aborts the active project.
func (a *App) CancelProject(w http.ResponseWriter, r *http.Request) {
	if err := a.Booth.Cancel(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
