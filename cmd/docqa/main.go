package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/docqa/internal/app/cli"
	"github.com/jinford/docqa/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiURLFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "api-url",
			Usage:   "docqa API のベースURL",
			Value:   client.DefaultBaseURL,
			Sources: cli.EnvVars("DOCQA_API_URL"),
		}
	}

	app := &cli.Command{
		Name:  "docqa",
		Usage: "アップロードした文書に対する質問応答サービス",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "環境変数ファイルパス",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバと取り込みワーカーを起動",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数 PORT またはデフォルトの8000）",
								Value: 8000,
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "文書をベクトルインデックスに取り込む（ファイル省略時は DOCUMENTS_PATH の全ファイル）",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "DOCUMENTS_PATH の対応ファイルをすべて取り込む",
					},
				},
				Action: appcli.IngestAction,
			},
			{
				Name:   "clean",
				Usage:  "ベクトルインデックスを削除",
				Action: appcli.CleanAction,
			},
			{
				Name:      "ask",
				Usage:     "ローカルのインデックスに質問する",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照した文書を表示",
					},
				},
				Action: appcli.AskAction,
			},
			{
				Name:   "chat",
				Usage:  "端末チャットクライアントを起動",
				Flags:  []cli.Flag{apiURLFlag()},
				Action: appcli.ChatAction,
			},
			{
				Name:      "status",
				Usage:     "取り込みタスクの状態を表示（ID 省略時は一覧）",
				ArgsUsage: "[task-id]",
				Flags: []cli.Flag{
					apiURLFlag(),
					&cli.BoolFlag{
						Name:  "cancel",
						Usage: "タスクをキャンセル",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "一覧表示する件数",
						Value: 20,
					},
				},
				Action: appcli.StatusAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
