package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jinford/docqa/internal/core/ask"
	"github.com/jinford/docqa/internal/core/ingestion"
)

// DefaultListLimit は GET /ingestion-status/ で返すタスク数の既定値
const DefaultListLimit = 50

const (
	detailTaskNotFound = "Task ID not found."
	detailTaskFinished = "Task has already finished."
	detailNotReady     = "The AI has not been initialized yet. Try again in a moment."
	detailBusy         = "The server is busy processing other documents. Try again later."
)

// Ingestor は取り込みの受付と状態照会を行う
type Ingestor interface {
	Submit(ctx context.Context, r io.Reader, fileName string) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*ingestion.Task, error)
	Cancel(ctx context.Context, id uuid.UUID) (*ingestion.Task, error)
	List(ctx context.Context, limit int) ([]*ingestion.Task, error)
}

// Answerer は質問に回答する
type Answerer interface {
	Answer(ctx context.Context, query string) (*ask.AskResult, error)
}

// Handler は HTTP ハンドラ群
type Handler struct {
	ingestor Ingestor
	answerer Answerer
}

// NewHandler は Handler を作成する
func NewHandler(ingestor Ingestor, answerer Answerer) *Handler {
	return &Handler{ingestor: ingestor, answerer: answerer}
}

// Root は稼働確認用のメッセージを返す
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, MessageResponse{Message: "docqa API is running!"})
}

// UploadFile はファイルを受け取り、取り込みタスクを登録する
func (h *Handler) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "A file must be sent in the \"file\" form field.")
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, fmt.Sprintf("Error uploading or processing the file: %v", err))
		return
	}
	defer f.Close()

	taskID, err := h.ingestor.Submit(c.Request.Context(), f, header.Filename)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, ingestion.ErrInvalidFileName):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingestion.ErrQueueFull), errors.Is(err, ingestion.ErrStoreFull), errors.Is(err, ingestion.ErrQueueClosed):
			respondError(c, http.StatusServiceUnavailable, detailBusy)
		default:
			respondError(c, http.StatusInternalServerError, fmt.Sprintf("Error uploading or processing the file: %v", err))
		}
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Message: fmt.Sprintf("File '%s' uploaded. Processing has started in the background.", header.Filename),
		TaskID:  taskID.String(),
	})
}

// IngestionStatus はタスクの状態を返す
func (h *Handler) IngestionStatus(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.ingestor.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskStatus(task))
}

// CancelIngestion はタスクをキャンセルする
func (h *Handler) CancelIngestion(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.ingestor.Cancel(c.Request.Context(), id)
	if err != nil {
		h.respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskStatus(task))
}

// ListIngestions は新しい順にタスクを返す
func (h *Handler) ListIngestions(c *gin.Context) {
	limit := DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = n
	}

	tasks, err := h.ingestor.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TaskListResponse{Tasks: make([]TaskStatusResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskStatus(t))
	}
	c.JSON(http.StatusOK, resp)
}

// Chat は質問に対する回答と根拠セグメントを返す
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body.")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		respondError(c, http.StatusBadRequest, "query is required.")
		return
	}

	result, err := h.answerer.Answer(c.Request.Context(), query)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, ask.ErrNotReady):
			respondError(c, http.StatusServiceUnavailable, detailNotReady)
		case errors.Is(err, ask.ErrEmptyQuery):
			respondError(c, http.StatusBadRequest, "query is required.")
		default:
			// 診断のためエラー内容をそのまま返す
			respondError(c, http.StatusInternalServerError,
				fmt.Sprintf("Error processing the request: %v. Check the server log for more details.", err))
		}
		return
	}

	c.JSON(http.StatusOK, toChatResponse(req.Query, result))
}

func (h *Handler) respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingestion.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, detailTaskNotFound)
	case errors.Is(err, ingestion.ErrTaskFinished):
		respondError(c, http.StatusConflict, detailTaskFinished)
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		respondError(c, http.StatusNotFound, detailTaskNotFound)
		return uuid.Nil, false
	}
	return id, true
}
