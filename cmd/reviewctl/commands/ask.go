package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reco-agent/backend/internal/query"
	"github.com/reco-agent/backend/internal/research"
	"github.com/reco-agent/backend/internal/storage/models"
)

var (
	askProduct string
	askMode    string
	askSession string
	askJSON    bool

	researchProduct string
	researchPoll    time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a shopper question from stored reviews",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var researchCmd = &cobra.Command{
	Use:   "research <question>",
	Short: "Run a research session and wait for its answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResearch,
}

func init() {
	askCmd.Flags().StringVarP(&askProduct, "product", "p", "", "restrict to one product id")
	askCmd.Flags().StringVarP(&askMode, "mode", "m", "auto", "standard, research or auto")
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to record the exchange under")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")

	researchCmd.Flags().StringVarP(&researchProduct, "product", "p", "", "restrict to one product id")
	researchCmd.Flags().DurationVar(&researchPoll, "poll", time.Second, "status polling interval")

	rootCmd.AddCommand(askCmd, researchCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	mode := query.Mode(strings.ToLower(askMode))
	switch mode {
	case query.ModeAuto, query.ModeStandard, query.ModeResearch:
	default:
		return fmt.Errorf("unknown mode %q", askMode)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.Engine.Ask(ctx, query.AskRequest{
		Question:  strings.Join(args, " "),
		ProductID: askProduct,
		Mode:      mode,
		SessionID: askSession,
	})

	out := cmd.OutOrStdout()
	if askJSON {
		return printJSON(out, resp)
	}

	fmt.Fprintln(out, resp.Answer)
	if !resp.OK {
		fmt.Fprintln(out, "\n(answered from recent reviews; the full pipeline was unavailable)")
	}
	fmt.Fprintf(out, "\nBased on %d reviews.\n", len(resp.Evidence))
	for _, s := range resp.Suggestions {
		fmt.Fprintf(out, "  > %s\n", s)
	}
	return nil
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	id, err := a.Runner.Start(ctx, research.StartRequest{
		Question:  strings.Join(args, " "),
		ProductID: researchProduct,
		Observer: func(_, step string) {
			fmt.Fprintf(out, "• %s\n", step)
		},
	})
	if err != nil {
		return fmt.Errorf("start research: %w", err)
	}

	session, err := waitForResearch(ctx, a.Runner, id, researchPoll)
	if err != nil {
		return err
	}
	if session.Status == models.ResearchError {
		return fmt.Errorf("research %s failed", id)
	}

	fmt.Fprintf(out, "\n%s\n\nSources: %d reviews\n", session.Answer, len(session.Sources))
	for _, s := range session.Suggestions {
		fmt.Fprintf(out, "  > %s\n", s)
	}
	return nil
}

type sessionGetter interface {
	Get(ctx context.Context, id string) (*models.ResearchSession, error)
}

func waitForResearch(ctx context.Context, runner sessionGetter, id string, every time.Duration) (*models.ResearchSession, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		session, err := runner.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get research %s: %w", id, err)
		}
		if session.Status != models.ResearchRunning {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
