package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/dvrr/internal/observability"
	"github.com/jmylchreest/dvrr/internal/tsindex"
	"github.com/jmylchreest/dvrr/pkg/format"
)

var (
	indexVideoPID int
	indexAudioPID int
	indexFormat   string
	indexQuiet    bool
)

// indexCmd runs the TS indexer over a (possibly compressed) capture file.
var indexCmd = &cobra.Command{
	Use:   "index <file.ts[.gz|.xz|.bz2|.br]>",
	Short: "Build a seek index from a TS capture",
	Long: `Walk a transport stream and print its seek index: PTS timestamps and
video I-frame positions. PIDs and the video codec are discovered from the
PAT/PMT unless given explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexVideoPID, "video-pid", 0, "video PID (default: discover from PMT)")
	indexCmd.Flags().IntVar(&indexAudioPID, "audio-pid", 0, "audio PID (default: discover from PMT)")
	indexCmd.Flags().StringVar(&indexFormat, "format", "", "video format: mpeg2, h264, hevc (default: discover from PMT)")
	indexCmd.Flags().BoolVar(&indexQuiet, "quiet", false, "print only the summary")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(_ *cobra.Command, args []string) error {
	path := args[0]

	videoPID, audioPID := indexVideoPID, indexAudioPID
	videoFormat, err := parseVideoFormat(indexFormat)
	if err != nil {
		return err
	}

	if videoPID == 0 {
		sel, err := discoverPIDs(path)
		if err != nil {
			return fmt.Errorf("discovering PIDs: %w", err)
		}
		videoPID = sel.VideoPID
		if audioPID == 0 {
			audioPID = sel.AudioPID
		}
		if videoFormat == tsindex.FormatNone {
			videoFormat = sel.VideoFormat
		}
		fmt.Fprintf(os.Stderr, "discovered video pid %d (format %s), audio pid %d\n",
			videoPID, indexFormatName(videoFormat), audioPID)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	stream, err := tsindex.OpenStream(f, path)
	if err != nil {
		return err
	}

	ix := tsindex.New()
	ix.SetVideoPID(videoPID)
	if audioPID > 0 {
		ix.SetAudioPID(audioPID)
	}
	ix.SetVideoFormat(videoFormat)

	var ptsEvents, iFrames int64
	ix.SetEventFunc(func(evt tsindex.Event) {
		switch evt.Type {
		case tsindex.EventVideoIFrame:
			iFrames++
			observability.IndexEvents.WithLabelValues("i_frame").Inc()
			if !indexQuiet {
				fmt.Printf("I-FRAME pid=%d offset=%#x pts=%s\n", evt.PID, evt.Offset, format.PTS(evt.PTS))
			}
		case tsindex.EventVideoPTS:
			ptsEvents++
			observability.IndexEvents.WithLabelValues("video_pts").Inc()
			if !indexQuiet {
				fmt.Printf("V-PTS   pid=%d offset=%#x pts=%s\n", evt.PID, evt.Offset, format.PTS(evt.PTS))
			}
		case tsindex.EventAudioPTS:
			ptsEvents++
			observability.IndexEvents.WithLabelValues("audio_pts").Inc()
			if !indexQuiet {
				fmt.Printf("A-PTS   pid=%d offset=%#x pts=%s\n", evt.PID, evt.Offset, format.PTS(evt.PTS))
			}
		}
	})

	consumed, err := tsindex.IndexReader(ix, stream)
	if err != nil {
		return err
	}

	fmt.Printf("indexed %s: %s packets, %s PTS events, %s I-frames\n",
		format.Bytes(int64(consumed)),
		format.Number(int64(consumed/tsindex.PacketSize)),
		format.Number(ptsEvents),
		format.Number(iFrames))
	return nil
}

// discoverPIDs opens the capture separately for the PSI scan so the index
// pass starts from offset zero.
func discoverPIDs(path string) (tsindex.Selection, error) {
	f, err := os.Open(path)
	if err != nil {
		return tsindex.Selection{}, err
	}
	defer f.Close()

	stream, err := tsindex.OpenStream(f, path)
	if err != nil {
		return tsindex.Selection{}, err
	}
	return tsindex.DiscoverPIDs(stream)
}

func parseVideoFormat(s string) (tsindex.Format, error) {
	switch s {
	case "":
		return tsindex.FormatNone, nil
	case "mpeg2":
		return tsindex.FormatMPEG2, nil
	case "h264", "avc":
		return tsindex.FormatH264, nil
	case "hevc", "h265":
		return tsindex.FormatHEVC, nil
	default:
		return tsindex.FormatNone, fmt.Errorf("unknown video format %q", s)
	}
}

func indexFormatName(f tsindex.Format) string {
	switch f {
	case tsindex.FormatMPEG2:
		return "mpeg2"
	case tsindex.FormatH264:
		return "h264"
	case tsindex.FormatHEVC:
		return "hevc"
	default:
		return "unknown"
	}
}
