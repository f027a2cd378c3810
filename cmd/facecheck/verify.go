package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/gesture"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

var errNotVerified = errors.New("verification did not succeed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a liveness session from recorded observations",
	Long: `Replay a JSON-lines observation file through a liveness session, one
line per tick. With --reference the capture is also matched against a
reference photo. Exits non-zero unless the session captures.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("observations", "", "JSON-lines observation file (required)")
	verifyCmd.Flags().String("reference", "", "Reference photo to match the capture against")
	verifyCmd.Flags().String("mode", "", "Gesture mode: blink or expressions (overrides config)")
	verifyCmd.Flags().StringSlice("expressions", nil, "Expressions to perform in expression mode")
	verifyCmd.Flags().Bool("json", false, "Print the result as JSON")
	verifyCmd.Flags().Bool("no-save", false, "Do not store the session record")
	_ = verifyCmd.MarkFlagRequired("observations")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineCfg := cfg.Engine()
	if mode := mustGetString(cmd, "mode"); mode != "" {
		engineCfg.Gesture.Kind = gesture.Kind(mode)
	}
	if exprs := mustGetStringSlice(cmd, "expressions"); len(exprs) > 0 {
		engineCfg.Gesture.Expressions = exprs
	}

	reference, err := readImage(mustGetString(cmd, "reference"))
	if err != nil {
		return err
	}

	src, err := observation.OpenReplay(mustGetString(cmd, "observations"))
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := runSession(ctx, engineCfg, e.deps(src), reference)
	if err != nil {
		return err
	}

	if !mustGetBool(cmd, "no-save") {
		rec := storage.NewRecord(res, string(engineCfg.Gesture.Kind))
		rec.Metadata = map[string]string{
			"source":       "replay",
			"observations": mustGetString(cmd, "observations"),
		}
		if len(reference) > 0 {
			rec.Metadata["reference"] = mustGetString(cmd, "reference")
		}
		if err := e.store.Save(rec); err != nil {
			logging.WithError(err).Warnf("Failed to save session record %s", res.SessionID)
		}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(cmd, res)
	}

	if res.Status != session.StatusCaptured {
		return errNotVerified
	}
	return nil
}

// runSession runs one session until it ends or ctx is cancelled.
func runSession(ctx context.Context, cfg session.Config, deps session.Deps, reference []byte) (*session.Result, error) {
	ctrl, err := session.New(cfg, deps, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	logging.Infof("Session %s started (mode %s)", ctrl.ID(), cfg.Gesture.Kind)
	return ctrl.Run(ctx), nil
}

func printResult(cmd *cobra.Command, res *session.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:  %s\n", res.SessionID)
	fmt.Fprintf(out, "Status:   %s\n", res.Status)
	fmt.Fprintf(out, "Ticks:    %d (%d skipped)\n", res.Ticks, res.SkippedTicks)
	fmt.Fprintf(out, "Duration: %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if res.Capture != nil {
		fmt.Fprintf(out, "Score:    %.1f\n", res.Capture.LivenessScore)
		fmt.Fprintf(out, "Remote:   %t", res.Capture.AIVerified)
		if res.Capture.RemoteReason != "" {
			fmt.Fprintf(out, " (%s)", res.Capture.RemoteReason)
		}
		fmt.Fprintln(out)
	}
	if res.FaceMatch != nil {
		printDecision(cmd, res.FaceMatch.Outcome, res.FaceMatch.SimilarityPercent, res.FaceMatch.Reason)
	}
	if res.Failure != nil {
		fmt.Fprintf(out, "Failure:  %s: %s\n", res.Failure.Reason, res.Failure.Message)
	}
}
