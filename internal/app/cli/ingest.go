package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/core/ingestion"
)

// IngestAction は文書をインデックスに取り込むコマンドのアクション。
// サーバからはサブプロセスとして `docqa --env <file> ingest <path>` の形で起動される。
// 再試行しても成功しない失敗は終了コード 2 で終了する。
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	path := cmd.Args().First()
	all := cmd.Bool("all")

	if path != "" && all {
		return cli.Exit("ファイルと --all は同時に指定できません", ingestion.ExitCodePermanent)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return ingestExit(err)
	}
	defer appCtx.Close()

	service := appCtx.Container.IndexService()

	var result *ingestion.IndexResult
	if path != "" {
		result, err = service.IndexFile(ctx, path)
	} else {
		appCtx.Logger().Info("ingesting all documents", "dir", appCtx.Config.DocumentsPath)
		result, err = service.IndexDirectory(ctx, appCtx.Config.DocumentsPath)
	}
	if err != nil {
		appCtx.Logger().Error("ingestion failed", "error", err)
		return ingestExit(err)
	}

	fmt.Printf("Processed %d file(s), %d failed: %d segment(s) added in %s\n",
		result.ProcessedFiles, result.FailedFiles, result.Segments, result.Duration.Round(time.Millisecond))
	return nil
}

func ingestExit(err error) error {
	if isPermanent(err) {
		return cli.Exit(err.Error(), ingestion.ExitCodePermanent)
	}
	return cli.Exit(err.Error(), 1)
}
