package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/database"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/dvr/driver"
	"github.com/jmylchreest/dvrr/internal/models"
	"github.com/jmylchreest/dvrr/internal/observability"
	"github.com/jmylchreest/dvrr/internal/service"
	"github.com/jmylchreest/dvrr/internal/storage"
	"github.com/jmylchreest/dvrr/pkg/format"
)

var (
	recordLocation    string
	recordDevice      string
	recordVideoPID    int
	recordAudioPID    int
	recordTimeshift   bool
	recordMaxTime     time.Duration
	recordMaxSize     string
	recordSegmentSize string
	recordFor         time.Duration
)

// recordCmd runs a one-shot recording from the CLI.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a TS feed to segmented storage",
	Long: `Record a transport stream from a demux device (or capture file) into a
segmented recording. Runs until interrupted, --for elapses, or a
configured retention limit closes the session.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordLocation, "location", "", "recording name (default: a fresh ULID)")
	recordCmd.Flags().StringVar(&recordDevice, "device", "", "demux device or capture file (required)")
	recordCmd.Flags().IntVar(&recordVideoPID, "video-pid", 0, "video PID to record (required)")
	recordCmd.Flags().IntVar(&recordAudioPID, "audio-pid", 0, "audio PID to record")
	recordCmd.Flags().BoolVar(&recordTimeshift, "timeshift", false, "record as the timeshift ring")
	recordCmd.Flags().DurationVar(&recordMaxTime, "max-time", 0, "retention time cap (0 = config default)")
	recordCmd.Flags().StringVar(&recordMaxSize, "max-size", "", "retention size cap, e.g. 4GB")
	recordCmd.Flags().StringVar(&recordSegmentSize, "segment-size", "", "segment rollover size, e.g. 1GB")
	recordCmd.Flags().DurationVar(&recordFor, "for", 0, "stop automatically after this long")
	_ = recordCmd.MarkFlagRequired("device")
	_ = recordCmd.MarkFlagRequired("video-pid")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	store, err := storage.New(cfg.Storage, db, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	engine, err := dvr.New(dvr.Config{
		Store:        store,
		OpenRecorder: driver.OpenRecorder(store, logger),
		OpenPlayer:   driver.NoPlayer(),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	records := service.NewRecords(engine, store, cfg.Record, logger)

	location := recordLocation
	if location == "" {
		location = models.NewULID().String()
	}

	req := service.RecordRequest{
		Location:   location,
		DevicePath: recordDevice,
		Timeshift:  recordTimeshift,
		MaxTime:    recordMaxTime,
		PIDs:       []dvr.StreamInfo{{PID: recordVideoPID, Type: dvr.StreamVideo}},
	}
	if recordAudioPID > 0 {
		req.PIDs = append(req.PIDs, dvr.StreamInfo{PID: recordAudioPID, Type: dvr.StreamAudio})
	}
	if recordMaxSize != "" {
		size, err := config.ParseByteSize(recordMaxSize)
		if err != nil {
			return err
		}
		req.MaxSize = uint64(size.Bytes())
	}
	if recordSegmentSize != "" {
		size, err := config.ParseByteSize(recordSegmentSize)
		if err != nil {
			return err
		}
		req.SegmentSize = uint64(size.Bytes())
	}

	handle, err := records.Start(req)
	if err != nil {
		return err
	}
	fmt.Printf("recording %q from %s (handle %d)\n", location, recordDevice, handle)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if recordFor > 0 {
		timeout = time.After(recordFor)
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case <-timeout:
			break loop
		case <-ticker.C:
			status, err := records.Status(handle)
			if err != nil {
				break loop
			}
			fmt.Printf("  %s  %s  %s packets\n",
				format.Duration(status.Info.Time),
				format.Bytes(int64(status.Info.Size)),
				format.Number(int64(status.Info.Packets)))
		}
	}

	if err := records.Stop(handle); err != nil {
		logger.Warn("stopping recording", slog.String("error", err.Error()))
	}
	status, statusErr := records.Status(handle)
	if err := records.Close(handle); err != nil {
		return err
	}
	if statusErr == nil {
		fmt.Printf("recorded %q: %s, %s\n", location,
			format.Duration(status.Info.Time),
			format.Bytes(int64(status.Info.Size)))
	}
	return nil
}
