package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/events"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status <recording-id>",
	Short: "Show the upload status of a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var compileCmd = &cobra.Command{
	Use:   "compile <recording-id>",
	Short: "Compile and store a recording's metadata now",
	Long: `Compile a recording whose chunks all carry a content id and mark it
complete. Already complete recordings print their stored metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List completed recordings, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runRecordings,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, recordingsCmd} {
		rootCmd.AddCommand(c)
		addStoreFlags(c)
		c.Flags().Bool("json", false, "Print JSON instead of a table")
		viper.BindPFlags(c.Flags())
	}

	rootCmd.AddCommand(compileCmd)
	addPipelineFlags(compileCmd)
	compileCmd.Flags().Bool("json", false, "Print JSON instead of a summary")
	viper.BindPFlags(compileCmd.Flags())
}

// withStore opens the configured store for one command.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store metastore.Store) error) error {
	cfg := loadStoreOpts(NewFlagLoader(cmd))
	if cfg.Driver == metastore.DriverMemory {
		logger.Warn().Msg("the memory store only holds recordings of this process; use --store_driver")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store metastore.Store) error {
		rec, err := store.GetRecord(ctx, args[0])
		if errors.Is(err, metastore.ErrRecordNotFound) {
			return types.NotFoundError("recording %s not found", args[0])
		}
		if err != nil {
			return err
		}
		st := types.StatusOf(rec)
		if wantJSON(cmd) {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printStatus(cmd.OutOrStdout(), rec, st)
		return nil
	})
}

func runRecordings(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store metastore.Store) error {
		recs, err := store.ListCompleted(ctx)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			metas := make([]*types.CompiledMetadata, 0, len(recs))
			for _, r := range recs {
				metas = append(metas, r.Compiled)
			}
			return printJSON(cmd.OutOrStdout(), metas)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RECORDING\tCREATOR\tCHUNKS\tDURATION\tSIZE\tCOMPLETED\tMETADATA")
		for _, r := range recs {
			meta := r.Compiled
			if meta == nil {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				r.ID, r.Creator, meta.TotalChunks,
				seconds(meta.TotalDurationSeconds),
				humanize.IBytes(uint64(meta.TotalSize)),
				humanize.Time(metastore.CompletionTime(meta)),
				meta.MetadataURL)
		}
		return tw.Flush()
	})
}

func runCompile(cmd *cobra.Command, args []string) error {
	opts, err := loadStackOpts(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Pipeline.CompletionTimeout+time.Minute)
	defer cancel()

	stack, err := buildStack(ctx, opts, events.NoopEmitter())
	if err != nil {
		return err
	}
	defer stack.Close()

	meta, err := stack.Coordinator.CompileMetadata(ctx, args[0])
	if err != nil {
		return err
	}
	if meta == nil {
		return types.NotFoundError("recording %s not found", args[0])
	}
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), meta)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recording %s complete: %d chunks, %s, %s\n",
		meta.RecordingID, meta.TotalChunks, seconds(meta.TotalDurationSeconds), humanize.IBytes(uint64(meta.TotalSize)))
	if meta.MetadataURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "metadata: %s\n", meta.MetadataURL)
	}
	return nil
}

func printStatus(w io.Writer, rec *types.Recording, st *types.UploadStatus) {
	fmt.Fprintf(w, "recording %s (%s)\n", st.RecordingID, st.Status)
	fmt.Fprintf(w, "  chunks: %d uploaded, %d failed, %d total\n", st.UploadedChunks, st.FailedChunks, st.TotalChunks)
	fmt.Fprintf(w, "  duration: %s, size: %s\n", seconds(rec.TotalDuration), humanize.IBytes(uint64(rec.TotalSize)))
	if rec.ProofSetID != "" {
		fmt.Fprintf(w, "  proof set: %s (provider %s)\n", rec.ProofSetID, rec.ProviderID)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  CHUNK\tSTATUS\tFALLBACK\tCONTENT ID")
	// rec.Chunks is already in sequence order.
	for _, c := range rec.Chunks {
		cs := st.Chunks[c.ChunkID]
		fmt.Fprintf(tw, "  %s\t%s\t%t\t%s\n", c.ChunkID, cs.Status, cs.UsedFallback, cs.ContentID)
	}
	tw.Flush()
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(100 * time.Millisecond).String()
}

