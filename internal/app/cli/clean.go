package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/platform/container"
)

// CleanAction はベクトルインデックスを空にするコマンドのアクション
func CleanAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := LoadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	removed, err := container.ResetIndex(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("インデックスの削除に失敗: %w", err)
	}

	if removed {
		logger.Info("vector index cleared", "store", cfg.VectorStore, "path", cfg.VectorIndexPath)
		fmt.Println("Vector index cleared.")
	} else {
		fmt.Println("Vector index is already empty. Nothing to clean.")
	}
	return nil
}
