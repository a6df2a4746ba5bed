// Package cli は運用向けのコマンドラインインターフェースです。
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/auth"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/history"
	"github.com/yourusername/media-forge/internal/settings"
	"github.com/yourusername/media-forge/internal/storage"
)

var (
	// Version はビルド時に設定されます。
	Version = "dev"
)

// options はサブコマンド共通のフラグです。
type options struct {
	dbPath    string
	baseURL   string
	outputDir string
	asJSON    bool
}

// NewRootCmd はルートコマンドを作成します。
func NewRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "mediactl",
		Short: "media-forge のジョブ履歴と設定を操作します",
		Long: `mediactl は API サーバーと同じデータベースを直接参照する運用ツールです。

例:
  # 直近のジョブを表示
  mediactl history --limit 20

  # ジョブの詳細と成果物
  mediactl show 42

  # テーマ色を変更
  mediactl settings set theme_primary_color "#33ccff"`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dbPath, "db", "", "SQLite データベースのパス（既定: DATABASE_PATH）")
	flags.StringVar(&opts.baseURL, "base-url", "", "成果物 URL のベース（既定: PUBLIC_BASE_URL）")
	flags.StringVar(&opts.outputDir, "output-dir", "", "出力ルート（既定: OUTPUT_DIR）")
	flags.BoolVar(&opts.asJSON, "json", false, "JSON で出力する")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newSettingsCmd(opts))
	rootCmd.AddCommand(newHashPasswordCmd())

	return rootCmd
}

// services はデータベースと参照サービスのまとまりです。
type services struct {
	store    *storage.Storage
	history  *history.Service
	settings *settings.Service
}

func (o *options) open() (*services, error) {
	if o.dbPath == "" || o.baseURL == "" || o.outputDir == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
		}
		if o.dbPath == "" {
			o.dbPath = cfg.DatabasePath
		}
		if o.baseURL == "" {
			o.baseURL = cfg.PublicBaseURL
		}
		if o.outputDir == "" {
			o.outputDir = cfg.OutputDir
		}
	}

	store, err := storage.New(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベースを開けませんでした: %w", err)
	}
	resolver := artifacts.NewResolver(strings.TrimRight(o.baseURL, "/"), o.outputDir)
	return &services{
		store:    store,
		history:  history.NewService(store, resolver),
		settings: settings.NewService(store),
	}, nil
}

func (s *services) Close() {
	_ = s.store.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newVersionCmd は version コマンドを作成します。
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mediactl %s\n", Version)
		},
	}
}

// newHistoryCmd は history コマンドを作成します。
func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "ジョブ履歴を新しい順に表示",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			items, err := svc.history.GetHistory(commandContext(cmd))
			if err != nil {
				return err
			}
			filtered := items[:0]
			for _, it := range items {
				if status == "" || string(it.Status) == status {
					filtered = append(filtered, it)
				}
			}
			if limit > 0 && len(filtered) > limit {
				filtered = filtered[:limit]
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, filtered)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOPERATION\tSTATUS\tFILE\tARTIFACTS\tCREATED")
			for _, it := range filtered {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
					it.ID, it.Operation, it.Status, it.OriginalName, it.FrameCount,
					it.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "表示件数（0 なら全件）")
	cmd.Flags().StringVar(&status, "status", "", "状態で絞り込む（processing, completed, failed）")
	return cmd
}

// newShowCmd は show コマンドを作成します。
func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "ジョブの詳細と成果物を表示",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("ジョブIDが不正です: %q", args[0])
			}

			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			detail, err := svc.history.GetJobDetail(commandContext(cmd), id)
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("ジョブ %d は存在しません", id)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, detail)
			}
			fmt.Fprintf(out, "Job %d: %s (%s)\n", detail.ID, detail.Operation, detail.Status)
			fmt.Fprintf(out, "  file:      %s (%d bytes, %s)\n", detail.OriginalName, detail.FileSize, detail.MimeType)
			fmt.Fprintf(out, "  created:   %s\n", detail.CreatedAt.Local().Format(time.DateTime))
			if detail.CompletedAt != nil {
				fmt.Fprintf(out, "  completed: %s\n", detail.CompletedAt.Local().Format(time.DateTime))
			}
			if detail.OutputPath != "" {
				fmt.Fprintf(out, "  output:    %s\n", detail.OutputPath)
			}
			if detail.ErrorMessage != "" {
				fmt.Fprintf(out, "  error:     %s\n", detail.ErrorMessage)
			}
			for _, f := range detail.Frames {
				fmt.Fprintf(out, "  #%-4d %8.3fs  %s\n", f.FrameNumber, f.Timestamp, f.URL)
			}
			return nil
		},
	}
}

// newStatsCmd は stats コマンドを作成します。
func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "状態ごとのジョブ件数を表示",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			counts, err := svc.store.CountByStatus(commandContext(cmd))
			if err != nil {
				return err
			}
			var total int64
			for _, n := range counts {
				total += n
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, map[string]int64{
					"total":      total,
					"completed":  counts[storage.StatusCompleted],
					"failed":     counts[storage.StatusFailed],
					"processing": counts[storage.StatusProcessing],
				})
			}
			fmt.Fprintf(out, "Total:      %d\n", total)
			fmt.Fprintf(out, "Completed:  %d\n", counts[storage.StatusCompleted])
			fmt.Fprintf(out, "Failed:     %d\n", counts[storage.StatusFailed])
			fmt.Fprintf(out, "Processing: %d\n", counts[storage.StatusProcessing])
			return nil
		},
	}
}

// newSettingsCmd は settings コマンドを作成します。
func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "アプリケーション設定を表示・変更",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "設定を一覧表示",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.settings.Load(commandContext(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, snap.Values())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, k := range snap.Keys() {
				v, _ := snap.Get(k)
				fmt.Fprintf(tw, "%s\t%s\n", k, v)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "設定を1件変更",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.settings.Save(commandContext(cmd), map[string]string{args[0]: args[1]})
			if err != nil {
				return err
			}
			v, _ := snap.Get(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "未登録の既定値を登録",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.settings.Seed(commandContext(cmd), settings.Defaults); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ensured %d default keys\n", len(settings.Defaults))
			return nil
		},
	})

	return cmd
}

// newHashPasswordCmd は hash-password コマンドを作成します。パスワードは標準入力の1行目から読みます。
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "APP_PASSWORD_HASH 用の bcrypt ハッシュを生成",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
