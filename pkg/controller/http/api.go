package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/errutil"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 1 << 20

// MetaFileID keeps the caller's file identifier on the document
const MetaFileID = "file_id"

type ingestRequest struct {
	FileID   string `json:"fileId"`
	FilePath string `json:"filePath"`
	FileType string `json:"fileType"`
	Filename string `json:"filename"`
}

type ingestResponse struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

type ingestStatusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type queryRequest struct {
	Query   string          `json:"query"`
	History []model.Message `json:"history"`
}

type queryAnswer struct {
	ResponseText string                 `json:"responseText"`
	Sources      []model.ResponseSource `json:"sources"`
}

type queryResponse struct {
	Response queryAnswer         `json:"response"`
	Metadata model.QueryMetadata `json:"metadata"`
	Debug    *model.QueryDebug   `json:"debug,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return goerr.Wrap(err, "invalid request body")
	}
	return nil
}

// ingestHandler creates the document record and answers 202 before processing ends
func ingestHandler(uc DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req ingestRequest
		if err := decodeJSON(w, r, &req); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		if req.FilePath == "" {
			errutil.HandleHTTP(ctx, w, goerr.New("filePath is required"), http.StatusBadRequest)
			return
		}

		name := req.Filename
		if name == "" {
			name = req.FilePath
		}
		fileType, err := types.ParseFileType(req.FileType)
		if err != nil {
			// fall back to the extension of the file name
			if fileType, err = types.ParseFileType(name); err != nil {
				errutil.HandleHTTP(ctx, w, goerr.Wrap(model.ErrUnsupportedFileType, "unsupported file type",
					goerr.V("file_type", req.FileType), goerr.V("filename", name)), http.StatusBadRequest)
				return
			}
		}

		meta := map[string]any{model.MetaFileName: name}
		if req.FileID != "" {
			meta[MetaFileID] = req.FileID
		}

		doc, err := uc.StartIngestion(ctx, usecase.ProcessDocumentInput{
			UserID:   userIDFrom(ctx),
			Title:    name,
			FilePath: req.FilePath,
			FileType: fileType,
			Metadata: meta,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if stage, ok := model.StageOf(err); ok && stage == types.StageExtraction {
				status = http.StatusBadRequest
			}
			errutil.HandleHTTP(ctx, w, err, status)
			return
		}

		writeJSON(w, r, http.StatusAccepted, ingestResponse{
			DocumentID: doc.ID.String(),
			Status:     doc.Status.String(),
		})
	}
}

func ingestStatusHandler(uc DocumentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.URL.Query().Get("documentId")
		if id == "" {
			errutil.HandleHTTP(ctx, w, goerr.New("documentId is required"), http.StatusBadRequest)
			return
		}

		doc, err := uc.GetStatus(ctx, userIDFrom(ctx), model.DocumentID(id))
		if err != nil {
			if errors.Is(err, model.ErrDocumentNotFound) {
				errutil.HandleHTTP(ctx, w, err, http.StatusNotFound)
				return
			}
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}

		writeJSON(w, r, http.StatusOK, ingestStatusResponse{
			Status:       doc.Status.String(),
			ErrorMessage: doc.ErrorMessage,
		})
	}
}

func queryHandler(uc QueryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req queryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		result, err := uc.ProcessQuery(ctx, model.Query{
			Text:    req.Query,
			UserID:  userIDFrom(ctx),
			History: req.History,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, model.ErrInvalidQuery) {
				status = http.StatusBadRequest
			}
			errutil.HandleHTTP(ctx, w, err, status)
			return
		}

		sources := result.Sources
		if sources == nil {
			sources = []model.ResponseSource{}
		}
		writeJSON(w, r, http.StatusOK, queryResponse{
			Response: queryAnswer{ResponseText: result.Answer, Sources: sources},
			Metadata: result.Metadata,
			Debug:    result.Debug,
		})
	}
}
