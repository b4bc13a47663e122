package persist

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Arkalin/ccxt-plus/pkg/series"
)

var chunksWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harvest_chunks_written_total",
	Help: "Total chunk files written",
})

// writeChunks splits the final table into contiguous chunks of at most
// ChunkSize rows and writes each as an independent CSV file named
// <n>.<ext>, numbered from 0, each with the declared header row.
func (s *Saver) writeChunks() error {
	fileCount := 0
	for offset := 0; offset < len(s.rows); offset += s.cfg.ChunkSize {
		end := offset + s.cfg.ChunkSize
		if end > len(s.rows) {
			end = len(s.rows)
		}
		name := filepath.Join(s.workDir, strconv.Itoa(fileCount)+"."+s.cfg.FileExt)
		if err := s.writeChunkFile(name, s.rows[offset:end]); err != nil {
			return err
		}
		fileCount++
	}

	chunksWrittenTotal.Add(float64(fileCount))
	s.logger.Info().
		Int("files", fileCount).
		Int("rows", len(s.rows)).
		Str("dir", s.workDir).
		Msg("Chunks written")
	return nil
}

func (s *Saver) writeChunkFile(name string, rows []series.Row) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create chunk %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(s.columns); err != nil {
		return fmt.Errorf("write header of %s: %w", name, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row of %s: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush chunk %s: %w", name, err)
	}
	return nil
}
