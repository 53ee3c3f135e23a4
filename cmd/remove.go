package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
	"github.com/chaos-io/bgremover/workflow"
)

// remove: 选择 -> 预览 -> 处理 -> 下载, 一次走完
func removeCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "remove <image path or URL>",
		Short: "Remove the background of one image and save it as " + workflow.DownloadName,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer util.Trace("remove " + args[0])()
			ctx := cmd.Context()

			if output == "" {
				output = cfg.OutputDir
			}
			remover, err := newRemover()
			if err != nil {
				return err
			}
			ctrl := newController(remover, output)
			defer ctrl.Close()

			f, err := util.LoadFile(ctx, nhttp.NewHTTPClientWithTimeout(cfg.Timeout), args[0])
			if err != nil {
				return err
			}
			if err := ctrl.Select(f); err != nil {
				return err
			}
			ctrl.Wait()
			// 本地解码失败不影响远程处理
			if werr := ctrl.Err(); werr != nil {
				log.Warn("preview unavailable", zap.String("error", werr.Message))
				warning(cmd.ErrOrStderr(), "%s", werr.Message)
			}

			sp := newSpinner(cmd.ErrOrStderr(), "Removing background...")
			sp.Start()
			err = ctrl.Process(ctx)
			sp.Stop()
			if err != nil {
				return err
			}
			if err := ctrl.Download(); err != nil {
				return err
			}

			dst := filepath.Join(output, workflow.DownloadName)
			success(cmd.ErrOrStderr(), "Background removed from %s", f.Name)
			fmt.Fprintln(cmd.OutOrStdout(), dst)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	return cmd
}
