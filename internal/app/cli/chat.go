package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/client"
	"github.com/jinford/docqa/internal/interface/api"
	"github.com/jinford/docqa/internal/interface/tui"
)

// ChatAction は端末チャットクライアントを起動するコマンドのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	return tui.Run(ctx, client.New(cmd.String("api-url")))
}

// StatusAction は取り込みタスクの状態を表示するコマンドのアクション。
// タスク ID を省略した場合は最近のタスク一覧を表示する。
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	c := client.New(cmd.String("api-url"))

	taskID := cmd.Args().First()
	if taskID == "" {
		tasks, err := c.ListTasks(ctx, int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No ingestion tasks.")
			return nil
		}
		for i := range tasks {
			printTask(&tasks[i])
		}
		return nil
	}

	if cmd.Bool("cancel") {
		st, err := c.Cancel(ctx, taskID)
		if err != nil {
			return err
		}
		printTask(st)
		return nil
	}

	st, err := c.Status(ctx, taskID)
	if err != nil {
		return err
	}
	printTask(st)
	return nil
}

func printTask(t *api.TaskStatusResponse) {
	fmt.Printf("%s  %-10s  %s\n", t.TaskID, t.Status, t.Message)
}
