package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
)

const (
	// ExitCodePermanent は再試行しても成功しない失敗を表す終了コード
	ExitCodePermanent = 2
	// stderrTailSize はエラーメッセージに含める標準エラー出力の末尾バイト数
	stderrTailSize = 2048
)

// Runner は 1 件の取り込みを実行する
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunError は取り込み実行の失敗を表す
type RunError struct {
	Message   string // タスクに記録するメッセージ
	Permanent bool   // 再試行しても成功しない場合 true
	Err       error
}

func (e *RunError) Error() string {
	return e.Message
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsPermanent は再試行が無意味なエラーかどうかを返す
func IsPermanent(err error) bool {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Permanent
	}
	return errors.Is(err, document.ErrUnsupportedFileType) ||
		errors.Is(err, document.ErrUnreadableDocument) ||
		errors.Is(err, ErrNoDocuments) ||
		errors.Is(err, search.ErrDimensionMismatch)
}

// ClassifyExit は子プロセスの終了コードと標準エラー出力から RunError を組み立てる
func ClassifyExit(code int, stderr string) *RunError {
	tail := strings.TrimSpace(stderr)
	runErr := &RunError{
		Message:   fmt.Sprintf("Ingestion failed. Exit code: %d. Error: %s", code, tail),
		Permanent: code == ExitCodePermanent,
		Err:       fmt.Errorf("ingestion process exited with code %d", code),
	}
	if strings.Contains(strings.ToLower(tail), "batch size") {
		runErr.Message = MessageBatchSize
	}
	return runErr
}

// ProcessRunner は同じ実行ファイルを "ingest" サブコマンドで起動して取り込みを行う
type ProcessRunner struct {
	executable string
	envFile    string
	logger     *slog.Logger
}

type ProcessRunnerOption func(*ProcessRunner)

// WithRunnerLogger は ProcessRunner にロガーを設定する
func WithRunnerLogger(logger *slog.Logger) ProcessRunnerOption {
	return func(r *ProcessRunner) {
		r.logger = logger
	}
}

// WithEnvFile は子プロセスに渡す .env ファイルを設定する
func WithEnvFile(path string) ProcessRunnerOption {
	return func(r *ProcessRunner) {
		r.envFile = path
	}
}

// NewProcessRunner は新しいProcessRunnerを作成する
func NewProcessRunner(executable string, opts ...ProcessRunnerOption) *ProcessRunner {
	r := &ProcessRunner{
		executable: executable,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// Args は子プロセスの引数を返す
func (r *ProcessRunner) Args(job Job) []string {
	var args []string
	if r.envFile != "" {
		args = append(args, "--env", r.envFile)
	}
	return append(args, "ingest", job.FilePath)
}

// Run は子プロセスを起動し、終了まで待つ。ctx のキャンセルでプロセスを停止する。
func (r *ProcessRunner) Run(ctx context.Context, job Job) error {
	stderr := newTailBuffer(stderrTailSize)

	cmd := exec.CommandContext(ctx, r.executable, r.Args(job)...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	r.logger.Info("starting ingestion process", "taskID", job.TaskID, "file", job.FilePath)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ingestion process stopped: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ClassifyExit(exitErr.ExitCode(), stderr.String())
	}
	return &RunError{
		Message: fmt.Sprintf("Exception during ingestion: %v", err),
		Err:     err,
	}
}

// tailBuffer は書き込まれたデータの末尾 limit バイトだけを保持する
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
