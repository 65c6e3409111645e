package cli

import (
	"github.com/spf13/cobra"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/mcp"
)

func addMCP(root *cobra.Command, a *app) {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol server",
		Long: `Expose the task tree as MCP tools. Serves stdio by default;
--http serves the streamable HTTP transport at /mcp instead.`,
		Example: `
taskmaster mcp
taskmaster mcp --http 127.0.0.1:8081
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, closeSession, err := a.openSession(cmd.Context(), engine.WithSyncCascade())
			if err != nil {
				return err
			}
			defer closeSession()

			transport := mcp.TransportStdio
			if httpAddr != "" {
				transport = mcp.TransportHTTP
			}
			return mcp.NewServer(session, Version).Run(cmd.Context(), transport, httpAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	root.AddCommand(cmd)
}
