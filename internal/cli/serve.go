package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"buildmedic/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only web UI over the run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openHistory()
		if err != nil {
			return err
		}
		defer d.Close()

		port, _ := cmd.Flags().GetInt("port")
		fmt.Fprintf(cmd.OutOrStdout(), "medic UI on http://127.0.0.1:%d\n", port)
		return web.NewServer(d, port).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8377, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}
