package report

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibration-monitor/internal/models"
)

func TestText_WithWindows(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := models.Summary{
		SessionID:     "bike",
		Label:         "rusak_ringan",
		StartedAt:     start,
		FinishedAt:    start.Add(90 * time.Second),
		Windows:       4,
		MeanDamage:    42.5,
		PeakDamage:    61,
		Majority:      models.SeverityLight,
		MajorityShare: 75,
		Counts:        map[models.Severity]int{models.SeverityLight: 3, models.SeverityNormal: 1},
		Advice:        "change the oil",
	}

	text := Text(s)
	assert.Contains(t, text, "Actual duration: 1.5 minutes")
	assert.Contains(t, text, "RESULT: LIGHT")
	assert.Contains(t, text, "Confidence: 75.0%")
	assert.Contains(t, text, "Peak damage: 61.0%")
	assert.Contains(t, text, "Label: rusak_ringan")
	assert.True(t, strings.HasSuffix(text, "change the oil\n"))
	assert.NotContains(t, text, "SEVERE")
}

func TestText_NoWindows(t *testing.T) {
	text := Text(models.Summary{SessionID: "empty", Advice: "no data"})
	assert.Contains(t, text, "Windows analyzed: 0")
	assert.NotContains(t, text, "RESULT")
	assert.Contains(t, text, "no data")
}

func TestChart_IsValidSVG(t *testing.T) {
	history := []models.HistoryEntry{
		{ElapsedSeconds: 0, ScorePercent: 0},
		{ElapsedSeconds: 10, ScorePercent: 40},
		{ElapsedSeconds: 20, ScorePercent: 120},
	}
	svg := Chart(`EMA <session & "x">`, history, 0.75)

	var doc struct {
		XMLName  xml.Name `xml:"svg"`
		Polyline []struct {
			Points string `xml:"points,attr"`
		} `xml:"polyline"`
		Lines []struct {
			Class string `xml:"class,attr"`
		} `xml:"line"`
	}
	require.NoError(t, xml.Unmarshal(svg, &doc))
	require.Len(t, doc.Polyline, 1)

	points := strings.Fields(doc.Polyline[0].Points)
	require.Len(t, points, 3)
	assert.Equal(t, "60.0,350.0", points[0])
	// значения выше 100% прижимаются к верхней границе
	assert.Equal(t, "780.0,30.0", points[2])

	thresholds := 0
	for _, l := range doc.Lines {
		if l.Class == "threshold" {
			thresholds++
		}
	}
	assert.Equal(t, 1, thresholds)
}

func TestChart_EmptyHistory(t *testing.T) {
	svg := Chart("empty", nil)
	assert.NotContains(t, string(svg), "polyline")
	assert.True(t, strings.HasPrefix(string(svg), "<svg"))
}
