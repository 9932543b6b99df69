package track

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/meshgps/internal/config"
	"github.com/shaunagostinho/meshgps/internal/gps"
)

// Recorder appends every published status snapshot to CSV files with
// automatic rotation.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	now     func() time.Time
	log     *zap.SugaredLogger

	file   *os.File
	writer *csv.Writer
	rows   int
	seq    int
}

const defaultMaxRows = 100_000

var csvHeader = []string{
	"timestamp", "connected", "has_lock",
	"fix_time", "lat", "lon", "alt_m", "fix_quality",
	"fix_sats", "sats",
}

// New creates a new Recorder. now supplies row timestamps; nil means
// time.Now.
func New(cfg config.Track, now func() time.Time, log *zap.SugaredLogger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/meshgps"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		now:     now,
		log:     log,
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes one snapshot.
func (r *Recorder) Record(st gps.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	now := r.now()
	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(now); err != nil {
			r.log.Errorf("rotate failed: %v", err)
			return
		}
	}

	if err := r.writer.Write(buildRow(now, st)); err != nil {
		r.log.Errorf("write failed: %v", err)
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	r.seq++
	filename := fmt.Sprintf("track_%s_%03d.csv", now.UTC().Format("2006-01-02_150405"), r.seq)
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Infof("opened %s", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, st gps.Status) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.UTC().Format(time.RFC3339Nano)
	row[1] = boolStr(st.IsConnected)
	row[2] = boolStr(st.HasValidLocation)

	if st.HasValidLocation {
		p := st.Position
		row[3] = strconv.FormatUint(uint64(p.Time), 10)
		row[4] = fmt.Sprintf("%.7f", p.Latitude)
		row[5] = fmt.Sprintf("%.7f", p.Longitude)
		row[6] = strconv.Itoa(int(p.Altitude))
		row[7] = strconv.Itoa(p.FixQuality)
		row[8] = strconv.FormatUint(uint64(p.Satellites), 10)
	}
	row[9] = strconv.FormatUint(uint64(st.NumSatellites), 10)
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
