package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"commentflow/internal/app"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	processAutomationID uint
	processPostID       string
	processToken        string
)

// 供外部调度器（cron 等）调用，单次执行后输出 JSON 汇总
var processPostCmd = &cobra.Command{
	Use:   "process-post",
	Short: "Process every comment of one post for one automation",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if processAutomationID == 0 {
			return fmt.Errorf("--automation is required")
		}
		if processPostID == "" {
			return fmt.Errorf("--post is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.close()

		svc := app.New(deps.cfg, deps.db, logrus.StandardLogger()).Service()
		result, err := svc.ProcessPost(cmd.Context(), processAutomationID, processPostID, processToken)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var runActiveCmd = &cobra.Command{
	Use:   "run-active",
	Short: "Process all monitored posts of every active automation once",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := bootstrap(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.close()

		svc := app.New(deps.cfg, deps.db, logrus.StandardLogger()).Service()
		result, err := svc.RunActiveAutomations(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	processPostCmd.Flags().UintVar(&processAutomationID, "automation", 0, "automation id")
	processPostCmd.Flags().StringVar(&processPostID, "post", "", "platform post (media) id")
	processPostCmd.Flags().StringVar(&processToken, "token", "", "access token (defaults to the integration token)")
	rootCmd.AddCommand(processPostCmd)
	rootCmd.AddCommand(runActiveCmd)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
