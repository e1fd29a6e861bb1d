package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/audit"
	"github.com/spf13/cobra"
)

func (c *cli) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(c.newAuditExportCmd())
	return cmd
}

func (c *cli) newAuditExportCmd() *cobra.Command {
	var (
		ownerFlag  string
		sinceFlag  string
		formatFlag string
		outPath    string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's audit records as a workbook or CSV",
		Long: `export reads audit records straight from the backend the server would bind
(the distributed runtime when reachable, the relational fallback otherwise)
and writes them as an xlsx workbook or CSV, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := uuid.Parse(ownerFlag)
			if err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}
			format, err := audit.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			var since time.Time
			if sinceFlag != "" {
				since, err = time.Parse(time.RFC3339, sinceFlag)
				if err != nil {
					return fmt.Errorf("invalid --since, want RFC 3339: %w", err)
				}
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			binding, err := c.deps.bind(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = binding.Close() }()

			records, err := binding.Backend.ListAudit(cmd.Context(), owner, since, limit)
			if err != nil {
				return fmt.Errorf("failed to list audit records: %w", err)
			}

			w := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outPath, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if err := audit.Export(w, records, format); err != nil {
				return fmt.Errorf("failed to export audit records: %w", err)
			}

			if outPath != "" && outPath != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d records from %s backend to %s\n",
					len(records), binding.Backend.Name(), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "only records created at or after this RFC 3339 time")
	cmd.Flags().StringVar(&formatFlag, "format", string(audit.FormatXLSX), "output format: xlsx or csv")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
