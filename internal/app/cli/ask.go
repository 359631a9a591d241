package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

// AskAction は質問応答コマンドのアクション。サーバを介さずローカルのインデックスに問い合わせる。
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	showSources := cmd.Bool("show-sources")

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	holder, reloader, err := appCtx.Container.QueryPipeline()
	if err != nil {
		return err
	}
	if err := reloader.Reload(ctx); err != nil {
		return fmt.Errorf("パイプラインの初期化に失敗: %w", err)
	}

	result, err := holder.Answer(ctx, question)
	if err != nil {
		appCtx.Logger().Error("質問応答に失敗しました", "error", err)
		return err
	}

	fmt.Println(result.Answer)

	if showSources && len(result.Sources) > 0 {
		fmt.Println("\n--- Sources ---")
		for i, source := range result.Sources {
			page := "N/A"
			if p, ok := source.Page.Get(); ok {
				page = fmt.Sprintf("%d", p)
			}
			fmt.Printf("[%d] %s - Page: %s (score: %.4f)\n", i+1, source.SourceName, page, source.Score)
		}
	}
	return nil
}
