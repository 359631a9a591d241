// Package tui は docqa API を使う端末チャットクライアント
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jinford/docqa/internal/client"
	"github.com/jinford/docqa/internal/interface/api"
)

const (
	// DefaultPollInterval は取り込み状態のポーリング間隔
	DefaultPollInterval = time.Second
	// PreviewLength は根拠セグメントの表示文字数
	PreviewLength = 500
)

// Role は発言者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatExchange はトランスクリプトの 1 発言
type ChatExchange struct {
	Role    Role
	Content string
	Sources []api.SourceDocument
}

// API はチャットクライアントが使う API
type API interface {
	Upload(ctx context.Context, path string) (*api.UploadResponse, error)
	Status(ctx context.Context, taskID string) (*api.TaskStatusResponse, error)
	Chat(ctx context.Context, query string) (*api.ChatResponse, error)
}

type chatResponseMsg struct {
	resp *api.ChatResponse
	err  error
}

type uploadedMsg struct {
	path string
	resp *api.UploadResponse
	err  error
}

type statusMsg struct {
	resp *api.TaskStatusResponse
	err  error
}

type pollTickMsg struct{}

// Model はチャット画面の bubbletea モデル
type Model struct {
	ctx          context.Context
	api          API
	pollInterval time.Duration

	input    textinput.Model
	viewport viewport.Model
	ready    bool

	transcript []ChatExchange
	waiting    bool

	// 追跡中の取り込みタスク（同時に 1 件のみ）
	taskID     string
	taskStatus string
}

type Option func(*Model)

// WithPollInterval はポーリング間隔を設定する
func WithPollInterval(d time.Duration) Option {
	return func(m *Model) {
		m.pollInterval = d
	}
}

// New は Model を作成する
func New(ctx context.Context, a API, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents, /upload <path>, /quit"
	ti.CharLimit = 0
	ti.Focus()

	m := Model{
		ctx:          ctx,
		api:          a,
		pollInterval: DefaultPollInterval,
		input:        ti,
		viewport:     viewport.New(80, 20),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Transcript は現在のトランスクリプトを返す
func (m Model) Transcript() []ChatExchange {
	return m.transcript
}

// Tracking は追跡中のタスク ID と状態を返す
func (m Model) Tracking() (string, string) {
	return m.taskID, m.taskStatus
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-headerHeight-inputHeight)
		m.input.Width = max(10, msg.Width-4)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			return m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case chatResponseMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendError(msg.err)
			return m, nil
		}
		m.append(ChatExchange{Role: RoleAssistant, Content: msg.resp.Response, Sources: msg.resp.SourceDocuments})
		return m, nil

	case uploadedMsg:
		if msg.err != nil {
			m.taskID, m.taskStatus = "", ""
			m.appendError(fmt.Errorf("uploading %s: %w", msg.path, msg.err))
			return m, nil
		}
		m.taskID, m.taskStatus = msg.resp.TaskID, "pending"
		m.append(ChatExchange{Role: RoleAssistant, Content: fmt.Sprintf("Upload succeeded. Task ID: %s", msg.resp.TaskID)})
		return m, m.pollTick()

	case pollTickMsg:
		if m.taskID == "" || isTerminal(m.taskStatus) {
			return m, nil
		}
		return m, m.statusCmd(m.taskID)

	case statusMsg:
		return m.handleStatus(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch {
	case line == "":
		return m, nil
	case line == "/quit" || line == "/exit":
		return m, tea.Quit
	case line == "/upload" || strings.HasPrefix(line, "/upload "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload"))
		if path == "" {
			m.append(ChatExchange{Role: RoleAssistant, Content: "Usage: /upload <path to .pdf, .txt or .docx>"})
			return m, nil
		}
		if m.ingesting() {
			m.append(ChatExchange{Role: RoleAssistant, Content: fmt.Sprintf("An ingestion is already in progress: %s", m.taskStatus)})
			return m, nil
		}
		// アップロード中も取り込み中として扱う
		m.taskID, m.taskStatus = "", "pending"
		m.append(ChatExchange{Role: RoleUser, Content: line})
		return m, m.uploadCmd(path)
	}

	if m.waiting {
		m.append(ChatExchange{Role: RoleAssistant, Content: "Still thinking about the previous question..."})
		return m, nil
	}
	m.waiting = true
	m.append(ChatExchange{Role: RoleUser, Content: line})
	return m, m.chatCmd(line)
}

func (m Model) handleStatus(msg statusMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.taskStatus = "failed"
		m.appendError(fmt.Errorf("checking ingestion status: %w", msg.err))
		return m, nil
	}

	if msg.resp.Status != m.taskStatus {
		m.taskStatus = msg.resp.Status
		switch m.taskStatus {
		case "completed":
			m.append(ChatExchange{Role: RoleAssistant, Content: "Ingestion completed: " + msg.resp.Message})
		case "failed":
			m.append(ChatExchange{Role: RoleAssistant, Content: "Ingestion failed: " + msg.resp.Message})
		default:
			m.append(ChatExchange{Role: RoleAssistant, Content: fmt.Sprintf("Current status: %s - %s", msg.resp.Status, msg.resp.Message)})
		}
	}

	if isTerminal(m.taskStatus) {
		return m, nil
	}
	return m, m.pollTick()
}

func (m Model) chatCmd(query string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.Chat(m.ctx, query)
		return chatResponseMsg{resp: resp, err: err}
	}
}

func (m Model) uploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.Upload(m.ctx, path)
		return uploadedMsg{path: path, resp: resp, err: err}
	}
}

func (m Model) statusCmd(taskID string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.api.Status(m.ctx, taskID)
		return statusMsg{resp: resp, err: err}
	}
}

func (m Model) pollTick() tea.Cmd {
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

func (m *Model) append(e ChatExchange) {
	m.transcript = append(m.transcript, e)
	m.refresh()
}

func (m *Model) appendError(err error) {
	m.append(ChatExchange{Role: RoleAssistant, Content: "An error occurred: " + describeError(err)})
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.transcript, m.viewport.Width))
	m.viewport.GotoBottom()
}

// describeError はサーバの detail があればそれを、なければ通信エラーとして表示する
func describeError(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return "API error: " + apiErr.Detail
	}
	return err.Error()
}

func (m Model) ingesting() bool {
	return m.taskStatus != "" && !isTerminal(m.taskStatus)
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}

// Run はチャットクライアントを起動し、終了するまでブロックする
func Run(ctx context.Context, a API) error {
	p := tea.NewProgram(New(ctx, a), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat client failed: %w", err)
	}
	return nil
}
