package session

import (
	"time"

	"vibration-monitor/internal/models"
	"vibration-monitor/internal/severity"
)

const adviceNoData = "No windows were analyzed. Check the sensor."

// buildSummary собирает итоговый отчет; вызывается под блокировкой сессии
func (s *Session) buildSummary(st *State, finishedAt time.Time) models.Summary {
	sum := models.Summary{
		SessionID:     s.ID,
		Label:         s.Label,
		StartedAt:     s.StartedAt,
		FinishedAt:    finishedAt,
		DurationLimit: s.Duration,
		Stopped:       s.Stopped(),
		Windows:       len(st.History),
		Majority:      models.SeverityUnknown,
		Counts:        make(map[models.Severity]int, len(st.Counts)),
		WarningSent:   st.EMA.WarningSent,
		History:       append([]models.HistoryEntry(nil), st.History...),
	}
	for sev, n := range st.Counts {
		sum.Counts[sev] = n
	}

	if sum.Windows == 0 {
		sum.Advice = adviceNoData
		return sum
	}

	total := 0.0
	for _, h := range st.History {
		total += h.ScorePercent
		if h.ScorePercent > sum.PeakDamage {
			sum.PeakDamage = h.ScorePercent
		}
	}
	sum.MeanDamage = total / float64(sum.Windows)

	sum.Majority = majority(st.Counts)
	sum.MajorityShare = float64(st.Counts[sum.Majority]) / float64(sum.Windows) * 100
	sum.Advice = severity.Advice(sum.Majority)
	return sum
}

// majority возвращает самую частую точечную оценку; при равенстве
// выбирается более тяжелая степень
func majority(counts map[models.Severity]int) models.Severity {
	best := models.SeverityUnknown
	bestN := 0
	for _, sev := range []models.Severity{models.SeveritySevere, models.SeverityLight, models.SeverityNormal} {
		if n := counts[sev]; n > bestN {
			best, bestN = sev, n
		}
	}
	return best
}
