package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/google/uuid"

	"netmanthan/rpc"
	"netmanthan/utils"
)

var (
	socketPath string
	quiet      bool
	fileDir    string
	filename   string
	referrer   string
)

var rootCmd = &cobra.Command{
	Use:     "netmanthan [OPTIONS] <URL>",
	Short:   "Multi-connection download client for the netmanthan daemon",
	Version: "v1.0.0",
	Long: `netmanthan is the CLI front-end for the netmanthand daemon: it submits a
download over RPC and reports progress until the daemon marks it complete.

Examples:
  netmanthan https://example.com/file.iso
  netmanthan -o /downloads -n myfile.iso https://example.com/file.iso
  netmanthan list
  netmanthan pause <id>
  netmanthan resume <id>
  netmanthan rm <id>`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads known to the daemon",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <id>...",
	Short: "Pause one or more downloads",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>...",
	Short: "Resume one or more paused downloads",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResume,
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Cancel and remove one or more downloads",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

var deleteFiles bool

func init() {
	home, _ := os.UserHomeDir()
	defaultSocket := filepath.Join(home, ".netmanthan", "netmanthan.sock")

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "path to the daemon's unix socket")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress bar output")

	rootCmd.Flags().StringVarP(&fileDir, "output-dir", "o", "", "directory to save the file in (daemon default if omitted)")
	rootCmd.Flags().StringVarP(&filename, "name", "n", "", "override the destination filename")
	rootCmd.Flags().StringVar(&referrer, "referrer", "", "Referer header to send with each request")

	rmCmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "also delete the partial output file on disk")

	rootCmd.AddCommand(listCmd, pauseCmd, resumeCmd, rmCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func dial() (*rpc.Client, error) {
	client, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to netmanthand at %s: %w (is the daemon running?)", socketPath, err)
	}
	return client, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	url := args[0]
	created, err := client.AddDownload(rpc.AddDownloadRequest{
		URL:      url,
		FileDir:  fileDir,
		Filename: filename,
		Referrer: referrer,
	})
	if err != nil {
		return fmt.Errorf("adding download: %w", err)
	}

	if !quiet {
		fmt.Printf("Added %s (%s)\n", created.Filename, created.ID)
	}

	return watchUntilDone(client, created.ID)
}

// watchUntilDone polls GetDownload until the download reaches a terminal
// status, driving a ProgressTracker off the polled bytes_downloaded.
func watchUntilDone(client *rpc.Client, id uuid.UUID) error {
	first, err := client.GetDownload(id)
	if err != nil {
		return err
	}

	tracker := utils.NewProgressTracker(first.TotalBytes, quiet)
	tracker.SetFilename(first.Filename)

	for {
		snap, err := client.GetDownload(id)
		if err != nil {
			return err
		}
		tracker.Update(snap.BytesDownloaded)

		switch snap.Status {
		case "complete":
			tracker.Finish()
			return nil
		case "failed", "cancelled":
			tracker.Finish()
			return fmt.Errorf("download %s", snap.Status)
		}

		time.Sleep(250 * time.Millisecond)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	downloads, err := client.GetDownloads()
	if err != nil {
		return fmt.Errorf("listing downloads: %w", err)
	}
	if len(downloads) == 0 {
		fmt.Println("no downloads")
		return nil
	}
	for _, d := range downloads {
		fmt.Printf("%s  %-10s  %10d/%-10d  %s\n", d.ID, d.Status, d.BytesDownloaded, d.TotalBytes, d.Filename)
	}
	return nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid download id %q: %w", a, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func runPause(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.PauseDownloads(ids); err != nil {
		return fmt.Errorf("pausing downloads: %w", err)
	}
	if !quiet {
		fmt.Printf("paused %d download(s)\n", len(ids))
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.ResumeDownloads(ids); err != nil {
		return fmt.Errorf("resuming downloads: %w", err)
	}
	if !quiet {
		fmt.Printf("resumed %d download(s)\n", len(ids))
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.RemoveDownloads(ids, deleteFiles); err != nil {
		return fmt.Errorf("removing downloads: %w", err)
	}
	if !quiet {
		fmt.Printf("removed %d download(s)\n", len(ids))
	}
	return nil
}
