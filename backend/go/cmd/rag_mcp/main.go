package main

import (
	"fmt"
	"os"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/mcptools"
	"DocSage/backend/go/internal/rag_service/ragclient"
	"DocSage/backend/go/pkg/logger"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// STDIO transport (default)
//   rag_mcp --server http://localhost:8080 --company acme
//
// SSE transport on port 8085
//   rag_mcp --transport sse --port 8085
//
// StreamableHTTP transport on port 9000
//   rag_mcp --transport httpstream --port 9000

func main() {
	var (
		transport string
		port      string
		serverURL string
		company   string
		logLevel  string
	)

	rootCmd := &cobra.Command{
		Use:          "rag_mcp",
		Short:        "MCP server exposing document question answering tools",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdio 传输占用标准输出，日志只能写到标准错误
			log := logger.NewWithOutput(os.Stderr, "rag_mcp", logger.ParseLevel(logLevel))

			client, err := ragclient.New(serverURL, company, config.CircuitBreakerConfig{
				Enabled: true, FailureThreshold: 5, SuccessThreshold: 1, Timeout: "30s",
			})
			if err != nil {
				return err
			}
			s := mcptools.NewServer(mcptools.New(client, company, log), "DocSage", "1.0.0")
			return serve(s, transport, port, log)
		},
	}
	rootCmd.Flags().StringVar(&transport, "transport", "stdio", "transport method: stdio, sse or httpstream")
	rootCmd.Flags().StringVar(&port, "port", "8085", "port for HTTP-based transports")
	rootCmd.Flags().StringVar(&serverURL, "server", envOr("RAG_SERVER_URL", "http://localhost:8080"), "RAG service base URL")
	rootCmd.Flags().StringVar(&company, "company", os.Getenv("RAG_COMPANY_ID"), "default company id for tool calls")
	rootCmd.Flags().StringVar(&logLevel, "log-level", logrus.InfoLevel.String(), "log level")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(s *server.MCPServer, transport, port string, log *logger.Logger) error {
	switch transport {
	case "sse":
		log.WithField("port", port).Info("Starting MCP server with SSE transport")
		return server.NewSSEServer(s).Start(":" + port)
	case "httpstream":
		log.WithField("port", port).Info("Starting MCP server with StreamableHTTP transport")
		return server.NewStreamableHTTPServer(s).Start(":" + port)
	case "stdio":
		log.Info("Starting MCP server with STDIO transport")
		return server.ServeStdio(s)
	default:
		return fmt.Errorf("unknown transport %q, use stdio, sse or httpstream", transport)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
