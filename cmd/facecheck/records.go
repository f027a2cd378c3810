package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/storage"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect stored session records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session records, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runRecordsList,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a stored session record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd, recordsShowCmd, recordsDeleteCmd)
}

func openStore() (*storage.FileStorage, error) {
	return storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No session records.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tREASON\tSCORE\tFINISHED")
	for _, id := range ids {
		rec, err := store.Load(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t%v\t-\t-\n", id, err)
			continue
		}
		reason := string(rec.Reason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			rec.ID, rec.Mode, rec.Status, reason, rec.Score, rec.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	rec, err := store.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session record %s\n", args[0])
	return nil
}
