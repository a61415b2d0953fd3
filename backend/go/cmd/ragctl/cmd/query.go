package cmd

import (
	"errors"
	"fmt"
	"strings"

	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/schema"

	"github.com/spf13/cobra"
)

var searchLimit int

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the tenant's documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCompany(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		ans, err := c.Answer(ctx, strings.Join(args, " "), companyID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, ans)
		}
		fmt.Fprintln(out, ans.Text)
		if len(ans.Sources) > 0 {
			fmt.Fprintf(out, "\nSources (%s, top similarity %.2f):\n", ans.Strategy, ans.TopSimilarity)
			printSources(cmd, ans.Sources, false)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search chunks without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCompany(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		res, err := c.Search(ctx, strings.Join(args, " "), companyID, searchLimit)
		if err != nil && !(errors.Is(err, pipeline.ErrRetrievalUnavailable) && res != nil) {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			if perr := printJSON(out, res); perr != nil {
				return perr
			}
			return err
		}
		if res.Degraded {
			fmt.Fprintf(out, "warning: degraded retrieval (attempted %v, circuit open: %t)\n", res.Attempted, res.CircuitOpen)
		}
		if len(res.Results) == 0 {
			fmt.Fprintln(out, "no results")
		}
		printSources(cmd, res.Results, true)
		return err
	},
}

func printSources(cmd *cobra.Command, results []schema.SearchResult, withContent bool) {
	out := cmd.OutOrStdout()
	for i, r := range results {
		fmt.Fprintf(out, "%2d. [%s #%d] score=%.3f method=%s\n", i+1, r.DocumentName, r.ChunkIndex, r.Score, r.Method)
		if withContent {
			fmt.Fprintf(out, "    %s\n", snippet(r.Content, 200))
		}
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 uses the server default)")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(searchCmd)
}
