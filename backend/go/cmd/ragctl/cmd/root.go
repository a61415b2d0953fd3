package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/ragclient"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	companyID string
	timeout   time.Duration
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:          "ragctl",
	Short:        "A CLI client for the DocSage RAG service",
	Long:         `A command-line interface for ingesting documents, asking questions and operating the RAG service.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ragctl: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RAG_SERVER_URL", "http://localhost:8080"), "RAG service base URL")
	rootCmd.PersistentFlags().StringVar(&companyID, "company", os.Getenv("RAG_COMPANY_ID"), "tenant (company) ID")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON responses")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newClient builds a client without a circuit breaker.
func newClient() (*ragclient.Client, error) {
	return ragclient.New(serverURL, companyID, config.CircuitBreakerConfig{})
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func requireCompany() error {
	if companyID == "" {
		return fmt.Errorf("--company or RAG_COMPANY_ID is required")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
