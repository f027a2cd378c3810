package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().Bool("yaml", false, "Print the effective configuration as YAML")
}

func runConfig(cmd *cobra.Command, args []string) error {
	logging.Debugf("Showing configuration")

	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "yaml") {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}

	printConfig(out)
	return nil
}

func printConfig(out io.Writer) {
	fmt.Fprintln(out, "Current Configuration:")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Session]")
	fmt.Fprintf(out, "  Tick Interval:   %d ms\n", cfg.Session.TickIntervalMs)
	fmt.Fprintf(out, "  Centered Frames: %d\n", cfg.Session.RequiredCenteredFrames)
	fmt.Fprintf(out, "  Score Threshold: %.0f\n", cfg.Session.ScoreThreshold)
	fmt.Fprintf(out, "  Max Duration:    %d seconds\n", cfg.Session.MaxDuration)
	fmt.Fprintf(out, "  Require Remote:  %t\n", cfg.Session.RequireRemoteLiveness)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Gesture]")
	fmt.Fprintf(out, "  Mode:            %s\n", cfg.Gesture.Mode)
	fmt.Fprintf(out, "  Blinks:          %d (EAR < %.2f)\n", cfg.Gesture.RequiredBlinks, cfg.Gesture.EARThreshold)
	fmt.Fprintf(out, "  Expressions:     %s\n", strings.Join(cfg.Gesture.Expressions, ", "))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Liveness]")
	fmt.Fprintf(out, "  Static Limit:    %d frames\n", cfg.Liveness.StaticFrameLimit)
	fmt.Fprintf(out, "  Min Confidence:  %.2f\n", cfg.Liveness.MinDetectionConfidence)
	fmt.Fprintf(out, "  Smoothing:       %.2f\n", cfg.Liveness.Smoothing)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Face Match]")
	fmt.Fprintf(out, "  Distances:       strong %.2f, fallback %.2f, weak %.2f, reject %.2f\n",
		cfg.Match.StrongDistance, cfg.Match.FallbackDistance, cfg.Match.WeakDistance, cfg.Match.RejectDistance)
	fmt.Fprintf(out, "  Reject Unsure:   %t\n", cfg.Session.RejectInconclusive)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Verifier]")
	fmt.Fprintf(out, "  Provider:        %s\n", cfg.Verifier.Provider)
	fmt.Fprintf(out, "  Model:           %s\n", cfg.Verifier.Model)
	fmt.Fprintf(out, "  Timeout:         %d seconds\n", cfg.Verifier.Timeout)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Recognition]")
	fmt.Fprintf(out, "  Enabled:         %t\n", cfg.Recognition.Enabled)
	fmt.Fprintf(out, "  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Storage]")
	fmt.Fprintf(out, "  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(out, "  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Server]")
	fmt.Fprintf(out, "  Listen:          %s\n", cfg.Server.Listen)
	fmt.Fprintf(out, "  Max Sessions:    %d\n", cfg.Server.MaxSessions)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Logging]")
	fmt.Fprintf(out, "  Level:           %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  File:            %s\n", cfg.Logging.File)
}
