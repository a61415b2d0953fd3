package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"DocSage/backend/go/pkg/mcp_host"

	"github.com/spf13/cobra"
)

var mcpFlags struct {
	transport string
	url       string
	command   string
	args      []string
	env       []string
	callArgs  []string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Talk to an MCP server such as rag_mcp",
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools an MCP server exposes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		host, err := connectMCP(cmd)
		if err != nil {
			return err
		}
		defer host.Close()

		all, err := host.Tools(ctx)
		if err != nil {
			return err
		}
		tools := all["rag"]
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		if asJSON {
			return printJSON(cmd.OutOrStdout(), tools)
		}
		for _, t := range tools {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", t.Name, t.Description)
		}
		return nil
	},
}

var mcpCallCmd = &cobra.Command{
	Use:   "call [tool]",
	Short: "Call a tool with --arg key=value pairs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs, err := parseToolArgs(mcpFlags.callArgs)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		host, err := connectMCP(cmd)
		if err != nil {
			return err
		}
		defer host.Close()

		res, err := host.Call(ctx, args[0], toolArgs)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), mcp_host.ResultText(res))
		if res.IsError {
			return fmt.Errorf("tool %s reported an error", args[0])
		}
		return nil
	},
}

func connectMCP(cmd *cobra.Command) (*mcp_host.Host, error) {
	host := mcp_host.NewHost()
	err := host.Connect(cmd.Context(), mcp_host.ConnectOptions{
		ServerName: "rag",
		Transport:  mcpFlags.transport,
		Command:    mcpFlags.command,
		Args:       mcpFlags.args,
		Env:        mcpFlags.env,
		URL:        mcpFlags.url,
	})
	if err != nil {
		return nil, err
	}
	return host, nil
}

// parseToolArgs turns key=value pairs into tool arguments. Integers are sent as numbers.
func parseToolArgs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", p)
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	if _, ok := out["company_id"]; !ok && companyID != "" {
		out["company_id"] = companyID
	}
	return out, nil
}

func init() {
	f := mcpCmd.PersistentFlags()
	f.StringVar(&mcpFlags.transport, "transport", "stdio", "transport: stdio, sse or httpstream")
	f.StringVar(&mcpFlags.url, "url", "http://localhost:8085/mcp", "server URL for sse and httpstream")
	f.StringVar(&mcpFlags.command, "command", "rag_mcp", "server command for stdio")
	f.StringSliceVar(&mcpFlags.args, "command-arg", nil, "argument passed to the stdio server command")
	f.StringSliceVar(&mcpFlags.env, "env", nil, "KEY=VALUE environment for the stdio server command")
	mcpCallCmd.Flags().StringArrayVar(&mcpFlags.callArgs, "arg", nil, "tool argument as key=value")

	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	mcpCmd.AddCommand(mcpCallCmd)
}
