// Package storage implements the on-disk segment store: directory layout,
// per-segment metadata persisted to the database and as YAML sidecars, and
// deletion. One recording location is a directory of numbered .ts segment
// files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asticode/go-astits"
	"github.com/shirou/gopsutil/v4/disk"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/database"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/models"
	"github.com/jmylchreest/dvrr/internal/observability"
)

// ErrDiskFull is returned when the volume holding the store is above the
// configured watermark.
var ErrDiskFull = errors.New("disk usage above watermark")

// ErrNotFound is returned when a segment has no stored metadata or file.
var ErrNotFound = errors.New("segment not found")

// sidecar is the YAML segment metadata blob written next to each segment.
type sidecar struct {
	SegmentID  uint64           `yaml:"segment_id"`
	DurationMS int64            `yaml:"duration_ms"`
	SizeBytes  uint64           `yaml:"size_bytes"`
	Packets    uint32           `yaml:"packets"`
	PIDs       []models.PIDInfo `yaml:"pids,omitempty"`
}

// Store is the segment store. It satisfies dvr.SegmentStore.
type Store struct {
	cfg config.StorageConfig
	db  *database.DB
	log *slog.Logger
}

// New creates a store rooted at cfg.BaseDir.
func New(cfg config.StorageConfig, db *database.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}
	return &Store{cfg: cfg, db: db, log: observability.WithComponent(log, "storage")}, nil
}

// dir resolves a location to its directory under the base dir.
func (s *Store) dir(location string) string {
	return filepath.Join(s.cfg.BaseDir, filepath.Clean("/"+location))
}

// SegmentPath returns the path of one segment file.
func (s *Store) SegmentPath(location string, segmentID uint64) string {
	return filepath.Join(s.dir(location), fmt.Sprintf("%06d.ts", segmentID))
}

func (s *Store) sidecarPath(location string, segmentID uint64) string {
	return filepath.Join(s.dir(location), fmt.Sprintf("%06d.yaml", segmentID))
}

// EnsureLocation prepares a location for recording: checks the disk
// watermark, creates the directory, and registers the recording row.
func (s *Store) EnsureLocation(location string, timeshift bool) error {
	usage, err := disk.Usage(s.cfg.BaseDir)
	if err == nil && usage.UsedPercent > s.cfg.DiskWatermark {
		return fmt.Errorf("%w: %.1f%% used, watermark %.1f%%",
			ErrDiskFull, usage.UsedPercent, s.cfg.DiskWatermark)
	}

	if err := os.MkdirAll(s.dir(location), 0o755); err != nil {
		return fmt.Errorf("creating location: %w", err)
	}

	rec := models.Recording{Location: location, Timeshift: timeshift}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location"}},
		DoUpdates: clause.AssignmentColumns([]string{"timeshift", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("registering recording: %w", err)
	}
	return nil
}

// List returns the segment ids at location, oldest (lowest id) first.
// When the database has no rows for the location the directory itself is
// enumerated, so recordings survive a lost database.
func (s *Store) List(location string) ([]uint64, error) {
	var rows []models.SegmentRecord
	err := s.db.Where("location = ?", location).Order("segment_id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	if len(rows) > 0 {
		ids := make([]uint64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.SegmentID)
		}
		return ids, nil
	}
	return s.listDir(location)
}

// listDir enumerates segment files on disk.
func (s *Store) listDir(location string) ([]uint64, error) {
	entries, err := os.ReadDir(s.dir(location))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading location: %w", err)
	}
	var ids []uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".ts") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".ts"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Info returns one segment's metadata: the database row when present,
// falling back to the YAML sidecar and finally to a full rescan of the
// segment file.
func (s *Store) Info(location string, segmentID uint64) (dvr.SegmentInfo, error) {
	var row models.SegmentRecord
	err := s.db.Where("location = ? AND segment_id = ?", location, segmentID).First(&row).Error
	if err == nil {
		return dvr.SegmentInfo{
			ID:       row.SegmentID,
			Duration: time.Duration(row.DurationMS) * time.Millisecond,
			Size:     row.SizeBytes,
			Packets:  row.Packets,
			PIDs:     pidsFromModel(row.PIDs),
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dvr.SegmentInfo{}, fmt.Errorf("loading segment: %w", err)
	}

	if info, err := s.readSidecar(location, segmentID); err == nil {
		return info, nil
	}
	return s.RebuildInfo(location, segmentID)
}

// SaveInfo upserts one segment's metadata.
func (s *Store) SaveInfo(location string, info dvr.SegmentInfo) error {
	row := models.SegmentRecord{
		Location:   location,
		SegmentID:  info.ID,
		DurationMS: info.Duration.Milliseconds(),
		SizeBytes:  info.Size,
		Packets:    info.Packets,
		PIDs:       pidsToModel(info.PIDs),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "location"}, {Name: "segment_id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"duration_ms", "size_bytes", "packets", "pids", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving segment: %w", err)
	}

	s.db.Model(&models.Recording{}).
		Where("location = ?", location).
		Update("updated_at", time.Now())

	if s.cfg.Sidecars {
		if err := s.writeSidecar(location, info); err != nil {
			s.log.Warn("writing sidecar",
				slog.String("location", location),
				slog.Uint64("segment", info.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Delete removes the segment's file, sidecar and metadata row.
func (s *Store) Delete(location string, segmentID uint64) error {
	if err := os.Remove(s.SegmentPath(location, segmentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing segment file: %w", err)
	}
	if err := os.Remove(s.sidecarPath(location, segmentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Debug("removing sidecar", slog.String("error", err.Error()))
	}
	err := s.db.Where("location = ? AND segment_id = ?", location, segmentID).
		Delete(&models.SegmentRecord{}).Error
	if err != nil {
		return fmt.Errorf("deleting segment row: %w", err)
	}
	return nil
}

// RemoveLocation deletes a whole recording: every segment, the directory
// and the recording row.
func (s *Store) RemoveLocation(location string) error {
	if err := os.RemoveAll(s.dir(location)); err != nil {
		return fmt.Errorf("removing location dir: %w", err)
	}
	if err := s.db.Where("location = ?", location).Delete(&models.SegmentRecord{}).Error; err != nil {
		return fmt.Errorf("deleting segment rows: %w", err)
	}
	if err := s.db.Where("location = ?", location).Delete(&models.Recording{}).Error; err != nil {
		return fmt.Errorf("deleting recording row: %w", err)
	}
	return nil
}

// StaleRecordings returns non-timeshift recordings untouched since the
// cutoff, for the janitor to reclaim.
func (s *Store) StaleRecordings(cutoff time.Time) ([]models.Recording, error) {
	var rows []models.Recording
	err := s.db.Where("updated_at < ? AND timeshift = ?", cutoff, false).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale recordings: %w", err)
	}
	return rows, nil
}

// RebuildInfo rescans a segment file and reconstructs its metadata:
// packet count from the file size, duration from the first and last PTS,
// and the PID list from the PMT.
func (s *Store) RebuildInfo(location string, segmentID uint64) (dvr.SegmentInfo, error) {
	path := s.SegmentPath(location, segmentID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dvr.SegmentInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return dvr.SegmentInfo{}, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return dvr.SegmentInfo{}, fmt.Errorf("stat segment: %w", err)
	}

	info := dvr.SegmentInfo{
		ID:      segmentID,
		Size:    uint64(stat.Size()),
		Packets: uint32(stat.Size() / 188),
	}

	var firstPTS, lastPTS int64 = -1, -1
	dmx := astits.NewDemuxer(context.Background(), f)
	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			// Trailing partial packets are expected on segments cut
			// mid-write.
			break
		}
		if data.PMT != nil && len(info.PIDs) == 0 {
			for _, es := range data.PMT.ElementaryStreams {
				if len(info.PIDs) >= dvr.MaxPIDs {
					break
				}
				info.PIDs = append(info.PIDs, dvr.StreamInfo{
					PID:  int(es.ElementaryPID),
					Type: streamTypeOf(uint8(es.StreamType)),
				})
			}
		}
		if data.PES != nil && data.PES.Header != nil && data.PES.Header.OptionalHeader != nil &&
			data.PES.Header.OptionalHeader.PTS != nil {
			pts := data.PES.Header.OptionalHeader.PTS.Base
			if firstPTS < 0 {
				firstPTS = pts
			}
			lastPTS = pts
		}
	}

	if firstPTS >= 0 && lastPTS > firstPTS {
		info.Duration = time.Duration((lastPTS-firstPTS)/90) * time.Millisecond
	}
	return info, nil
}

// streamTypeOf maps PMT stream types onto the engine's coarse classes.
func streamTypeOf(pmtType uint8) dvr.StreamType {
	switch pmtType {
	case 0x01, 0x02, 0x1b, 0x24:
		return dvr.StreamVideo
	case 0x03, 0x04, 0x0f, 0x81:
		return dvr.StreamAudio
	default:
		return dvr.StreamPCR
	}
}

func (s *Store) writeSidecar(location string, info dvr.SegmentInfo) error {
	blob := sidecar{
		SegmentID:  info.ID,
		DurationMS: info.Duration.Milliseconds(),
		SizeBytes:  info.Size,
		Packets:    info.Packets,
		PIDs:       pidsToModel(info.PIDs),
	}
	data, err := yaml.Marshal(&blob)
	if err != nil {
		return fmt.Errorf("marshaling sidecar: %w", err)
	}
	return os.WriteFile(s.sidecarPath(location, info.ID), data, 0o644)
}

func (s *Store) readSidecar(location string, segmentID uint64) (dvr.SegmentInfo, error) {
	data, err := os.ReadFile(s.sidecarPath(location, segmentID))
	if err != nil {
		return dvr.SegmentInfo{}, err
	}
	var blob sidecar
	if err := yaml.Unmarshal(data, &blob); err != nil {
		return dvr.SegmentInfo{}, fmt.Errorf("unmarshaling sidecar: %w", err)
	}
	return dvr.SegmentInfo{
		ID:       blob.SegmentID,
		Duration: time.Duration(blob.DurationMS) * time.Millisecond,
		Size:     blob.SizeBytes,
		Packets:  blob.Packets,
		PIDs:     pidsFromModel(blob.PIDs),
	}, nil
}

func pidsToModel(pids []dvr.StreamInfo) models.PIDList {
	out := make(models.PIDList, 0, len(pids))
	for _, p := range pids {
		out = append(out, models.PIDInfo{PID: p.PID, Type: int(p.Type), Format: p.Format})
	}
	return out
}

func pidsFromModel(pids models.PIDList) []dvr.StreamInfo {
	out := make([]dvr.StreamInfo, 0, len(pids))
	for _, p := range pids {
		out = append(out, dvr.StreamInfo{PID: p.PID, Type: dvr.StreamType(p.Type), Format: p.Format})
	}
	return out
}
