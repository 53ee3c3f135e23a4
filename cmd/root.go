// Package cmd 实现 bgremover 命令行
package cmd

import (
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/preview"
	"github.com/chaos-io/bgremover/rembg"
	nhttp "github.com/chaos-io/bgremover/util/http"
	"github.com/chaos-io/bgremover/util/logger"
	"github.com/chaos-io/bgremover/workflow"
)

var (
	cfgFile string
	envFile string
	noColor bool

	cfg *config.Config
	log *zap.Logger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bgremover",
		Short:        "Remove image backgrounds through a remote service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			// .env 可选
			_ = godotenv.Load(envFile)

			c, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			l, err := logger.New(logger.Options{Level: c.Log.Level, Development: c.Log.Development})
			if err != nil {
				return err
			}

			cfg, log = c, l
			zap.ReplaceGlobals(l)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./bgremover.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(removeCmd(), serveCmd())
	return root
}

func newRemover() (*rembg.HTTPRemover, error) {
	return rembg.NewHTTPRemover(cfg.Endpoint, cfg.HealthURL, nhttp.NewHTTPClientWithTimeout(cfg.Timeout), log)
}

func newController(remover rembg.Remover, outputDir string) *workflow.Controller {
	return workflow.New(remover,
		workflow.WithPreviewer(preview.NewDecoder(cfg.PreviewMaxEdge)),
		workflow.WithSaver(workflow.DirSaver{Dir: outputDir}),
		workflow.WithLogger(log),
	)
}
