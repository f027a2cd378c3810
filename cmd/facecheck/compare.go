package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/facematch"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

var errNoMatch = errors.New("faces do not match")

var compareCmd = &cobra.Command{
	Use:   "compare <reference> <candidate>",
	Short: "Decide whether two photos show the same person",
	Long: `Compare two photos with the local face comparator and the remote
verifier, then fuse both signals into a match decision. Exits non-zero
unless the outcome is a match.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().Bool("json", false, "Print the decision as JSON")
}

// compareResult is the machine-readable output of compare.
type compareResult struct {
	Distance *float64           `json:"distance,omitempty"`
	Remote   *facematch.Remote  `json:"remote,omitempty"`
	Decision facematch.Decision `json:"decision"`
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reference, err := readImage(args[0])
	if err != nil {
		return err
	}
	candidate, err := readImage(args[1])
	if err != nil {
		return err
	}

	e, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	var res compareResult
	if e.comparator != nil {
		d, err := e.comparator.Distance(reference, candidate)
		if err != nil {
			logging.WithError(err).Warnf("Local face comparison unavailable")
		} else {
			res.Distance = d
		}
	}

	remote, err := e.verifier.CompareFaces(ctx, verifier.CompareRequest{Reference: reference, Candidate: candidate})
	switch {
	case err != nil:
		logging.WithError(err).Warnf("Remote face comparison unavailable")
	case remote != nil:
		res.Remote = &facematch.Remote{Match: remote.IsMatch, Confidence: remote.Confidence, Reason: remote.Reason}
	}

	res.Decision = facematch.Decide(res.Distance, res.Remote, cfg.Engine().Match)

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		if res.Distance != nil {
			fmt.Fprintf(out, "Distance: %.3f\n", *res.Distance)
		} else {
			fmt.Fprintln(out, "Distance: n/a")
		}
		printDecision(cmd, res.Decision.Outcome, res.Decision.SimilarityPercent, res.Decision.Reason)
	}

	if res.Decision.Outcome != facematch.Match {
		return errNoMatch
	}
	return nil
}

func printDecision(cmd *cobra.Command, outcome facematch.Outcome, similarity *int, reason string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Match:    %s", outcome)
	if similarity != nil {
		fmt.Fprintf(out, " (similarity %d%%)", *similarity)
	}
	fmt.Fprintln(out)
	if reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", reason)
	}
}
