package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genbot/internal/accounts"
	"genbot/internal/catalog"
	"genbot/internal/domain"
	"genbot/internal/engine"
	"genbot/internal/ledger"
	"genbot/internal/polling"
	"genbot/internal/providers/gateway"
)

var (
	submitUser    string
	submitModel   string
	submitSession string
	submitParams  []string
	submitFund    int64
	submitWait    time.Duration
)

// printSink writes every state change of the job.
type printSink struct {
	cmd   *cobra.Command
	start time.Time
}

func (s printSink) JobUpdated(job *domain.Job) {
	fmt.Fprintf(s.cmd.OutOrStdout(), "%6s  %s  %s\n", time.Since(s.start).Round(time.Millisecond), job.ID, job.State)
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run one generation against the in-process mock provider",
	Long: `Builds a throwaway engine with the mock provider, a temporary file ledger
and in-memory accounts, funds the user, submits one request and waits for
its completion event. Nothing touches the configured databases or the real
provider, so it is safe to run anywhere.`,
	Example: `  genctl submit --model nano-banana --param prompt="a lighthouse at dusk"
  genctl submit --model veo3-fast --param prompt=waves --param duration=8 --fund 500`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(submitParams)
		if err != nil {
			return err
		}
		cat, err := catalog.Load(resolveModelsPath())
		if err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "genctl-ledger-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		store, err := ledger.NewFileStore(dir)
		if err != nil {
			return err
		}
		logger := cliLogger()
		led := ledger.New(store, nil, &logger)

		eng, err := engine.New(engine.Options{
			Gateway:          gateway.NewMock(gateway.MockOptions{}),
			Catalog:          cat,
			Accounts:         accounts.NewMemory(),
			Ledger:           led,
			Poll:             polling.Config{InitialDelay: 100 * time.Millisecond, Multiplier: 1.5, MaxDelay: 400 * time.Millisecond, MaxPolls: 100},
			MaxActivePerUser: 3,
			DedupWindow:      10 * time.Second,
			Logger:           &logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = eng.Shutdown(ctx)
		}()

		done := make(chan engine.CompletionEvent, 4)
		eng.OnCompletion(func(ev engine.CompletionEvent) { done <- ev })

		ctx, cancel := context.WithTimeout(cmd.Context(), submitWait)
		defer cancel()

		if submitFund > 0 {
			if _, err := led.AddBalance(ctx, submitUser, submitFund); err != nil {
				return err
			}
		}

		start := time.Now()
		res, err := eng.Submit(ctx, domain.GenerationRequest{
			UserID:    submitUser,
			SessionID: submitSession,
			ModelID:   submitModel,
			Params:    params,
		}, printSink{cmd: cmd, start: start})
		if err != nil {
			return err
		}
		if res.Rejection != nil {
			return fmt.Errorf("rejected (%s): %s", res.Rejection.Kind, res.Rejection.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "accepted job %s, price %d (free=%t)\n", res.JobID, res.Pricing.Price, res.Pricing.Free)

		for {
			select {
			case ev := <-done:
				if ev.JobID != res.JobID || ev.Outcome == domain.OutcomeTimeout {
					continue
				}
				bal, _ := led.GetBalance(context.Background(), submitUser)
				fmt.Fprintf(cmd.OutOrStdout(), "outcome=%s charged=%d balance=%d\n", ev.Outcome, ev.Charged, bal)
				for _, u := range ev.ResultURLs {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}
				if ev.Outcome != domain.OutcomeSuccess {
					return fmt.Errorf("generation %s: %s", ev.Outcome, ev.Message)
				}
				return nil
			case <-ctx.Done():
				return fmt.Errorf("no completion within %s", submitWait)
			}
		}
	},
}

// parseParams turns repeated key=value flags into a parameter map. Values
// stay strings; the model schema coerces them.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func init() {
	submitCmd.Flags().StringVar(&submitUser, "user", "local", "user id to submit as")
	submitCmd.Flags().StringVar(&submitModel, "model", "", "model id from the catalog")
	submitCmd.Flags().StringVar(&submitSession, "session", "", "optional session id")
	submitCmd.Flags().StringArrayVar(&submitParams, "param", nil, "model parameter as key=value (repeatable)")
	submitCmd.Flags().Int64Var(&submitFund, "fund", 1000, "credit the user before submitting")
	submitCmd.Flags().DurationVar(&submitWait, "wait", 30*time.Second, "how long to wait for completion")
	_ = submitCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(submitCmd)
}
