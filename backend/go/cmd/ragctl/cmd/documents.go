package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/loaders"

	"github.com/spf13/cobra"
)

var ingestFlags struct {
	id        string
	name      string
	text      string
	objectKey string
	parentID  string
	supersede bool
	async     bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Index a document from a file, --text or a stored --object-key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCompany(); err != nil {
			return err
		}
		req, err := buildIngestRequest(args)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		out := cmd.OutOrStdout()
		if ingestFlags.async {
			id, err := c.IngestAsync(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "queued job %s\n", id)
			return nil
		}
		res, err := c.Ingest(ctx, req)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, res)
		}
		fmt.Fprintf(out, "document %s: %d chunks, %d stored, %d embedded (%s)\n",
			res.DocumentID, res.Chunks, res.Stored, res.Embedded, res.Status)
		return nil
	},
}

// buildIngestRequest decodes a local file before upload: HTML becomes Markdown
// and binary files are rejected.
func buildIngestRequest(args []string) (models.IngestRequest, error) {
	req := models.IngestRequest{
		DocumentID: ingestFlags.id,
		CompanyID:  companyID,
		Name:       ingestFlags.name,
		Text:       ingestFlags.text,
		ObjectKey:  ingestFlags.objectKey,
		Supersede:  ingestFlags.supersede,
	}
	if ingestFlags.parentID != "" {
		req.ParentID = &ingestFlags.parentID
	}
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return req, err
		}
		text, err := loaders.DecodeText(data)
		if err != nil {
			return req, fmt.Errorf("%s: %w", args[0], err)
		}
		req.Text = text
		if req.Name == "" {
			req.Name = filepath.Base(args[0])
		}
		req.Type = strings.TrimPrefix(filepath.Ext(args[0]), ".")
	}
	if req.Text == "" && req.ObjectKey == "" {
		return req, fmt.Errorf("a file, --text or --object-key is required")
	}
	if req.Name == "" {
		return req, fmt.Errorf("--name is required without a file")
	}
	return req, nil
}

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage the tenant's documents",
}

var listDocumentsCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
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

		docs, err := c.ListDocuments(ctx, companyID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), docs)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tACTIVE\tUPDATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.ID, d.Name, d.Type, d.Active, d.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [document-id]",
		Short: fmt.Sprintf("Set a document's active flag to %t", active),
		Args:  cobra.ExactArgs(1),
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

			if err := c.SetActive(ctx, companyID, args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", args[0], active)
			return nil
		},
	}
}

var deleteDocumentCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document with its chunks",
	Args:  cobra.ExactArgs(1),
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

		if err := c.Delete(ctx, companyID, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.id, "id", "", "document ID (generated when empty)")
	f.StringVar(&ingestFlags.name, "name", "", "document name (defaults to the file name)")
	f.StringVar(&ingestFlags.text, "text", "", "document text")
	f.StringVar(&ingestFlags.objectKey, "object-key", "", "object storage key of the extracted text")
	f.StringVar(&ingestFlags.parentID, "parent", "", "parent document ID")
	f.BoolVar(&ingestFlags.supersede, "supersede", false, "deactivate the parent document")
	f.BoolVar(&ingestFlags.async, "async", false, "queue the document and return the job ID")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(listDocumentsCmd)
	documentsCmd.AddCommand(setActiveCmd("activate", true))
	documentsCmd.AddCommand(setActiveCmd("deactivate", false))
	documentsCmd.AddCommand(deleteDocumentCmd)
}
