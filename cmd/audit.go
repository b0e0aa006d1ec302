package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/bqaudit-cli/internal/audit"
	"github.com/sells-group/bqaudit-cli/internal/model"
)

var (
	auditProject string
	auditRegions []string
	auditDays    int
	auditLimit   int
	auditTopN    int
	auditFormat  string
	auditOut     string
	auditReqFile string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit recent jobs and export the most expensive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := buildRequest()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			zap.L().Warn("run history disabled", zap.Error(err))
			st = nil
		}
		if st != nil {
			defer st.Close()
		}

		auditor := audit.New(initClient(), st)
		result, err := auditor.Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		format := auditFormat
		if format == "" {
			format = cfg.Export.Format
		}
		out := auditOut
		if out == "" {
			out = cfg.Export.Path
		}
		if err := audit.Export(format, out, result.Jobs); err != nil {
			return err
		}

		printSummary(result, out)
		return nil
	},
}

// buildRequest layers the audit parameters: config defaults, then an
// optional request file, then explicit flags.
func buildRequest() (model.AuditRequest, error) {
	req := model.AuditRequest{
		Project:        cfg.Audit.Project,
		Regions:        cfg.Audit.Regions,
		LookbackDays:   cfg.Audit.LookbackDays,
		PerRegionLimit: cfg.Audit.PerRegionLimit,
		TopN:           cfg.Audit.TopN,
		Concurrency:    cfg.Audit.Concurrency,
	}
	if auditReqFile != "" {
		data, err := os.ReadFile(auditReqFile)
		if err != nil {
			return req, eris.Wrapf(err, "audit: read request file %s", auditReqFile)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, eris.Wrapf(err, "audit: parse request file %s", auditReqFile)
		}
	}
	if auditProject != "" {
		req.Project = auditProject
	}
	if len(auditRegions) > 0 {
		req.Regions = auditRegions
	}
	if auditDays > 0 {
		req.LookbackDays = auditDays
	}
	if auditLimit > 0 {
		req.PerRegionLimit = auditLimit
	}
	if auditTopN > 0 {
		req.TopN = auditTopN
	}

	if req.Project == "" {
		return req, eris.New("audit: project is required (--project or config)")
	}
	if len(req.Regions) == 0 {
		return req, eris.New("audit: at least one region is required")
	}
	if req.TopN <= 0 {
		return req, eris.New("audit: top-n must be positive")
	}
	return req, nil
}

func printSummary(result *model.AuditResult, outPath string) {
	if len(result.Jobs) == 0 {
		fmt.Println("No jobs found in the configured window/regions.")
		return
	}

	top := result.Jobs[0]
	fmt.Println("Most expensive query in the window:")
	fmt.Printf("  Region:   %s\n", top.Region)
	fmt.Printf("  Job ID:   %s\n", top.JobID)
	fmt.Printf("  User:     %s\n", top.UserEmail)
	fmt.Printf("  Billed:   %d bytes\n", top.TotalBytesBilled)
	fmt.Printf("  Slot ms:  %d\n", top.TotalSlotMS)
	fmt.Printf("  Type:     %s\n", top.StatementType)

	fmt.Printf("\nTop %d most expensive queries:\n", len(result.Jobs))
	for i, j := range result.Jobs {
		fmt.Printf("[%d] %s/%s  billed=%d  slot_ms=%d  user=%s\n",
			i+1, j.Region, j.JobID, j.TotalBytesBilled, j.TotalSlotMS, j.UserEmail)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: region %s excluded: %s\n", w.Region, w.Reason)
	}

	abs, err := filepath.Abs(outPath)
	if err != nil {
		abs = outPath
	}
	fmt.Printf("\nWrote job export to: %s\n", abs)
}

func init() {
	auditCmd.Flags().StringVar(&auditProject, "project", "", "GCP project ID")
	auditCmd.Flags().StringSliceVar(&auditRegions, "regions", nil, "regions to scan (default from config)")
	auditCmd.Flags().IntVar(&auditDays, "days", 0, "lookback window in days")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "max jobs per region")
	auditCmd.Flags().IntVar(&auditTopN, "topn", 0, "number of most expensive jobs to keep")
	auditCmd.Flags().StringVar(&auditFormat, "format", "", "export format: csv or xlsx")
	auditCmd.Flags().StringVar(&auditOut, "out", "", "export file path")
	auditCmd.Flags().StringVar(&auditReqFile, "request-file", "", "YAML file with audit parameters")
	rootCmd.AddCommand(auditCmd)
}
