package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jinford/docqa/internal/core/ask"
	"github.com/jinford/docqa/internal/core/ingestion"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse は GET / のレスポンス
type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse は POST /uploadfile/ のレスポンス
type UploadResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// TaskStatusResponse はタスク状態のレスポンス
type TaskStatusResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskListResponse は GET /ingestion-status/ のレスポンス
type TaskListResponse struct {
	Tasks []TaskStatusResponse `json:"tasks"`
}

// ChatRequest は POST /chat/ のリクエスト
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse は POST /chat/ のレスポンス
type ChatResponse struct {
	Query           string           `json:"query"`
	Response        string           `json:"response"`
	SourceDocuments []SourceDocument `json:"source_documents"`
}

// SourceDocument は回答の根拠となったセグメント。page は PDF 以外では null になる。
type SourceDocument struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    *int   `json:"page"`
}

func respondError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}

func toTaskStatus(task *ingestion.Task) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:  task.ID.String(),
		Status:  string(task.Status),
		Message: task.Message,
	}
}

func toChatResponse(query string, result *ask.AskResult) ChatResponse {
	sources := make([]SourceDocument, 0, len(result.Sources))
	for _, s := range result.Sources {
		doc := SourceDocument{Content: s.Text, Source: s.SourceName}
		if p, ok := s.Page.Get(); ok {
			doc.Page = &p
		}
		sources = append(sources, doc)
	}
	return ChatResponse{
		Query:           query,
		Response:        result.Answer,
		SourceDocuments: sources,
	}
}
