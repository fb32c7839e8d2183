package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/models"
	"vibration-monitor/internal/pipeline"
	"vibration-monitor/internal/report"
	"vibration-monitor/internal/session"
	"vibration-monitor/internal/storage"
)

func replayCmd(configFile *string) *cobra.Command {
	var (
		outDir    string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "replay <raw_samples.csv>...",
		Short: "Run recorded samples through the pipeline and print the report",
		Long: `Replays one or more raw sample logs (timestamp;x;y;z) through the same windowing,
scoring and smoothing pipeline as the service and prints the session report.
Elapsed time is taken from the sample timestamps.`,
		Example: `vibration-monitor replay recordings_field/bike/raw_samples.csv --out replayed`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			log := logrus.NewEntry(newLogger(cfg))
			m := loadModel(cmd.Context(), cfg, log)

			for _, path := range args {
				sum, err := replayFile(cfg, m, path, outDir, batchSize, log)
				if err != nil {
					return fmt.Errorf("replay %s: %w", path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Text(sum))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "write report log, summary and chart into this directory")
	cmd.Flags().IntVar(&batchSize, "batch", 128, "samples per ingested batch")
	return cmd
}

// replayClock время воспроизведения, идущее по меткам отсчетов
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(ms int64) {
	c.mu.Lock()
	c.now = time.UnixMilli(ms)
	c.mu.Unlock()
}

func replayFile(cfg config.Config, m model.Model, path, outDir string, batchSize int, log *logrus.Entry) (models.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Summary{}, err
	}
	defer f.Close()

	samples, err := storage.ReadSamples(f)
	if err != nil {
		return models.Summary{}, err
	}
	if len(samples) == 0 {
		return models.Summary{}, fmt.Errorf("%w: no samples", models.ErrMalformedInput)
	}
	if batchSize <= 0 {
		batchSize = cfg.Classifier.Stride
	}

	// больший пакет вытеснил бы отсчеты из буфера раньше, чем из них
	// нарезаются окна
	if limit := cfg.Classifier.MaxBufferSamples - cfg.Classifier.WindowSize + 1; batchSize > limit {
		batchSize = limit
	}

	clock := &replayClock{}
	clock.Set(samples[0].Timestamp)
	store := session.NewStore(cfg.Classifier)
	store.SetClock(clock.Now)

	var emitter pipeline.SyncEmitter
	if outDir != "" {
		recorder, err := storage.NewFileRecorder(outDir, cfg.Classifier.AlertThreshold)
		if err != nil {
			return models.Summary{}, err
		}
		emitter.Sinks = append(emitter.Sinks, recorder)
		store.SetRecorded(recorder.Recorded)
	}

	pipe, err := pipeline.New(cfg.Classifier, model.NewScorer(m, cfg.Classifier.Weights), store, emitter, log)
	if err != nil {
		return models.Summary{}, err
	}

	id := filepath.Base(filepath.Dir(path))
	if id == "." || id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	// длительность не ограничивает воспроизведение, сессия завершается в конце файла
	if _, err := pipe.Start(id, 365*24*time.Hour, "replay"); err != nil {
		return models.Summary{}, err
	}

	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[start:end]
		clock.Set(batch[len(batch)-1].Timestamp)
		if _, err := pipe.Ingest(id, batch); err != nil {
			return models.Summary{}, err
		}
	}
	return pipe.Finalize(id)
}
