// cmd/tools/kpi-registry/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/importer"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

const defaultRegistryPath = "configs/kpi-framework.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kpi-registry",
		Short:         "Validate, import and dry-run KPI frameworks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newValidateCmd(),
		newImportCmd(),
		newApplicableCmd(),
		newScoreCmd(),
		newHistoryCmd(),
	)
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a framework document and report its shape",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultRegistryPath
			if len(args) == 1 {
				path = args[0]
			}
			reg, err := registry.LoadFile(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "framework %s is valid\n", reg.Version())
			fmt.Fprintf(out, "  categories:   %d\n", len(reg.Categories()))
			fmt.Fprintf(out, "  kpis:         %d\n", len(reg.KPIs()))
			fmt.Fprintf(out, "  fatal flags:  %d\n", len(reg.FatalFlags()))
			fmt.Fprintf(out, "  dependencies: %d\n", len(reg.Dependencies()))
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		outPath string
		opts    importer.Options
	)
	cmd := &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Convert a KPI workbook into a framework YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.FrameworkVersion == "" {
				return fmt.Errorf("--framework-version is required")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			doc, err := importer.ReadWorkbook(f, opts)
			if err != nil {
				return err
			}
			data, err := importer.ToYAML(doc)
			if err != nil {
				return err
			}
			reg, err := registry.Load(data, registry.FormatYAML)
			if err != nil {
				return fmt.Errorf("imported framework does not validate: %w", err)
			}

			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote framework %s (%d kpis) to %s\n", reg.Version(), len(reg.KPIs()), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (stdout when empty)")
	cmd.Flags().StringVar(&opts.FrameworkVersion, "framework-version", "", "version stamped on the document")
	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "sheet to read (first sheet when empty)")
	return cmd
}

// startupFlags describe a hypothetical startup for dry runs.
type startupFlags struct {
	registryPath  string
	stage         string
	solo          bool
	revenue       bool
	mvp           bool
	businessModel string
	answersPath   string
}

func (f *startupFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.registryPath, "registry", defaultRegistryPath, "framework document")
	cmd.Flags().StringVar(&f.stage, "stage", string(registry.StageIdea), "startup stage")
	cmd.Flags().BoolVar(&f.solo, "solo", false, "single founder")
	cmd.Flags().BoolVar(&f.revenue, "revenue", false, "startup has revenue")
	cmd.Flags().BoolVar(&f.mvp, "mvp", false, "startup has an MVP")
	cmd.Flags().StringVar(&f.businessModel, "business-model", "", "business model, e.g. b2b_saas")
	cmd.Flags().StringVar(&f.answersPath, "answers", "", "JSON file of responses keyed by KPI id")
}

func (f *startupFlags) load(now time.Time) (*registry.Registry, *models.Startup, models.Responses, error) {
	stage := registry.Stage(f.stage)
	if !stage.Valid() {
		return nil, nil, nil, fmt.Errorf("unknown stage %q", f.stage)
	}
	reg, err := registry.LoadFile(f.registryPath)
	if err != nil {
		return nil, nil, nil, err
	}
	responses, err := readAnswers(f.answersPath, now)
	if err != nil {
		return nil, nil, nil, err
	}
	startup := &models.Startup{
		ID:            "dry-run",
		Stage:         stage,
		IsSoloFounder: f.solo,
		HasRevenue:    f.revenue,
		HasMVP:        f.mvp,
		BusinessModel: f.businessModel,
	}
	return reg, startup, responses, nil
}

// readAnswers accepts either full responses or bare values. Missing
// submission times default to now and missing evidence to self-reported.
func readAnswers(path string, now time.Time) (models.Responses, error) {
	responses := models.Responses{}
	if path == "" {
		return responses, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for id, msg := range raw {
		var resp models.Response
		var keys map[string]json.RawMessage
		if json.Unmarshal(msg, &keys) == nil {
			if _, ok := keys["value"]; ok {
				if err := json.Unmarshal(msg, &resp); err != nil {
					return nil, fmt.Errorf("parse %s.%s: %w", path, id, err)
				}
			}
		}
		if resp.Value == nil {
			if err := json.Unmarshal(msg, &resp.Value); err != nil {
				return nil, fmt.Errorf("parse %s.%s: %w", path, id, err)
			}
		}
		if resp.EvidenceType == "" {
			resp.EvidenceType = registry.EvidenceSelfReported
		}
		if resp.SubmittedAt.IsZero() {
			resp.SubmittedAt = now
		}
		responses[id] = resp
	}
	return responses, nil
}

func newApplicableCmd() *cobra.Command {
	var flags startupFlags
	cmd := &cobra.Command{
		Use:   "applicable",
		Short: "List the KPIs in scope for a startup profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, startup, responses, err := flags.load(time.Now().UTC())
			if err != nil {
				return err
			}
			result := applicability.Evaluate(reg, startup, startup.Stage, responses)
			writeApplicability(cmd.OutOrStdout(), reg, result)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func writeApplicability(out io.Writer, reg *registry.Registry, result *applicability.Result) {
	progress := result.Progress()
	fmt.Fprintf(out, "framework %s: %d applicable, %d answered (%.1f%%)\n",
		reg.Version(), progress.Applicable, progress.Answered, progress.Percent)
	for _, id := range result.Applicable.IDs() {
		fmt.Fprintf(out, "  + %s\n", id)
	}

	excluded := make([]string, 0, len(result.Excluded))
	for id := range result.Excluded {
		excluded = append(excluded, id)
	}
	sort.Strings(excluded)
	for _, id := range excluded {
		fmt.Fprintf(out, "  - %s\n", result.Explain(id))
	}

	if missing := result.MissingRequired(); len(missing) > 0 {
		fmt.Fprintf(out, "missing required: %v\n", missing)
	}
}

func newScoreCmd() *cobra.Command {
	var (
		flags  startupFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a readiness score for a startup profile and answers file",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			reg, startup, responses, err := flags.load(now)
			if err != nil {
				return err
			}
			a := models.NewAssessment(startup.ID, startup.Stage, reg.Version(), now)
			a.Responses = responses

			b, err := scoring.New(reg, scoring.DefaultOptions()).Compute(a, startup, now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			fmt.Fprintf(out, "score %d (%s), framework %s\n", b.Score, b.Band, b.FrameworkVersion)
			for _, c := range b.Categories {
				fmt.Fprintf(out, "  %-24s weight %.2f  score %.3f\n", c.ID, c.Weight, c.Score)
			}
			for _, f := range b.FatalFlags {
				fmt.Fprintf(out, "fatal flag %s (%s)\n", f.RuleID, f.Severity)
			}
			for _, r := range b.Recommendations {
				fmt.Fprintf(out, "recommend [%s] %s\n", r.Kind, r.Message)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full breakdown as JSON")
	return cmd
}
