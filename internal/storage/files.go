// Package storage сохраняет сырые отсчеты, журнал окон и итоговые отчеты
// сессий: в файлы и, при наличии, в PostgreSQL
package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vibration-monitor/internal/models"
	"vibration-monitor/internal/report"
)

// Имена файлов в каталоге сессии
const (
	RawFile     = "raw_samples.csv"
	ReportFile  = "report_log.csv"
	SummaryFile = "summary.txt"
	ChartFile   = "ema_chart.svg"
)

// TimeLayout формат метки времени в журнале сырых отсчетов
const TimeLayout = "2006-01-02 15:04:05.000"

var (
	rawHeader    = []string{"timestamp", "x", "y", "z"}
	reportHeader = []string{
		"timestamp", "window", "status", "severity", "confidence", "point_estimate",
		"damage", "ema", "rms_x", "rms_y", "rms_z", "distance",
	}
)

// FileRecorder записывает события сессии в каталог dir/<session>
type FileRecorder struct {
	dir            string
	alertThreshold float64
}

// NewFileRecorder создает каталог записей
func NewFileRecorder(dir string, alertThreshold float64) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &FileRecorder{dir: dir, alertThreshold: alertThreshold}, nil
}

// Name реализует контракт потребителя событий
func (r *FileRecorder) Name() string { return "files" }

// SessionDir возвращает каталог сессии
func (r *FileRecorder) SessionDir(sessionID string) string {
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			return c
		}
		return '_'
	}, sessionID)
	if safe == "" || safe == "." || safe == ".." {
		safe = "_"
	}
	return filepath.Join(r.dir, safe)
}

// Recorded сообщает, есть ли у сессии записанные файлы
func (r *FileRecorder) Recorded(sessionID string) bool {
	entries, err := os.ReadDir(r.SessionDir(sessionID))
	return err == nil && len(entries) > 0
}

// Consume записывает событие
func (r *FileRecorder) Consume(_ context.Context, e models.Event) error {
	switch e.Kind {
	case models.EventSamples:
		return r.appendRaw(e.SessionID, e.Samples)
	case models.EventWindow:
		if e.Status != nil {
			return r.appendReport(e.SessionID, *e.Status)
		}
	case models.EventSummary:
		if e.Summary != nil {
			return r.writeSummary(*e.Summary)
		}
	}
	return nil
}

func (r *FileRecorder) appendRaw(sessionID string, samples []models.Sample) error {
	rows := make([][]string, len(samples))
	for i, s := range samples {
		rows[i] = []string{
			time.UnixMilli(s.Timestamp).UTC().Format(TimeLayout),
			formatValue(s.X),
			formatValue(s.Y),
			formatValue(s.Z),
		}
	}
	return r.appendCSV(sessionID, RawFile, rawHeader, rows)
}

func (r *FileRecorder) appendReport(sessionID string, st models.LiveStatus) error {
	row := []string{
		strconv.FormatInt(st.Timestamp, 10),
		strconv.FormatInt(st.Window, 10),
		st.Status,
		string(st.Severity),
		formatValue(st.Confidence),
		st.PointEstimate,
		formatValue(st.DamageScore),
		formatValue(st.EMAScore),
		formatValue(st.Features.RMSX),
		formatValue(st.Features.RMSY),
		formatValue(st.Features.RMSZ),
		formatValue(st.Features.DistanceFromNormal),
	}
	return r.appendCSV(sessionID, ReportFile, reportHeader, [][]string{row})
}

func (r *FileRecorder) appendCSV(sessionID, name string, header []string, rows [][]string) error {
	dir := r.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(dir, name)

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	if errors.Is(statErr, os.ErrNotExist) {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (r *FileRecorder) writeSummary(sum models.Summary) error {
	dir := r.SessionDir(sum.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), []byte(report.Text(sum)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	chart := report.Chart("Smoothed damage score, "+sum.SessionID, sum.History, r.alertThreshold)
	if err := os.WriteFile(filepath.Join(dir, ChartFile), chart, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

// formatValue всегда точка и четыре знака после нее
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// ReadSamples читает журнал сырых отсчетов (timestamp;x;y;z). Метка
// времени допускается в формате TimeLayout или в миллисекундах Unix.
func ReadSamples(r io.Reader) ([]models.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var out []models.Sample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrMalformedInput, line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "timestamp") {
			continue
		}

		s, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", models.ErrMalformedInput, line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseRow(rec []string) (models.Sample, error) {
	var s models.Sample
	if ms, err := strconv.ParseInt(rec[0], 10, 64); err == nil {
		s.Timestamp = ms
	} else {
		t, err := time.Parse(TimeLayout, rec[0])
		if err != nil {
			return s, fmt.Errorf("bad timestamp %q", rec[0])
		}
		s.Timestamp = t.UnixMilli()
	}

	vals := [3]*float64{&s.X, &s.Y, &s.Z}
	for i, p := range vals {
		// десятичная запятая встречается в записях с локалью Индонезии
		v, err := strconv.ParseFloat(strings.Replace(rec[i+1], ",", ".", 1), 64)
		if err != nil {
			return s, fmt.Errorf("bad value %q", rec[i+1])
		}
		*p = v
	}
	return s, nil
}
