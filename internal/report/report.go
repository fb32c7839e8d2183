// Package report формирует итоговый отчет сессии: текст и график
// сглаженной оценки повреждения в SVG
package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"vibration-monitor/internal/models"
)

// Text возвращает текстовый отчет по итогам сессии
func Text(s models.Summary) string {
	var b strings.Builder
	b.WriteString("FINAL DIAGNOSIS REPORT\n")
	b.WriteString("-----------------------------\n")
	fmt.Fprintf(&b, "Session: %s\n", s.SessionID)
	if s.Label != "" {
		fmt.Fprintf(&b, "Label: %s\n", s.Label)
	}
	fmt.Fprintf(&b, "Actual duration: %.1f minutes\n", s.ActualDuration().Minutes())
	fmt.Fprintf(&b, "Windows analyzed: %d\n", s.Windows)
	if s.Stopped {
		b.WriteString("Stopped manually before the time limit\n")
	}

	if s.Windows == 0 {
		b.WriteString("\n")
		b.WriteString(s.Advice)
		b.WriteString("\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nRESULT: %s\n", s.Majority)
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", s.MajorityShare)
	fmt.Fprintf(&b, "Mean damage: %.1f%%\n", s.MeanDamage)
	fmt.Fprintf(&b, "Peak damage: %.1f%%\n", s.PeakDamage)
	if s.WarningSent {
		b.WriteString("Damage warning was raised during the session\n")
	}
	for _, sev := range []models.Severity{models.SeverityNormal, models.SeverityLight, models.SeveritySevere} {
		if n := s.Counts[sev]; n > 0 {
			fmt.Fprintf(&b, "  %-7s %d windows\n", sev, n)
		}
	}
	b.WriteString("\n")
	b.WriteString(s.Advice)
	b.WriteString("\n")
	return b.String()
}

// Размеры графика
const (
	chartWidth  = 800
	chartHeight = 400
	marginLeft  = 60
	marginRight = 20
	marginTop   = 30
	marginBot   = 50
)

// Chart строит график EMA (%) от прошедшего времени с линиями порогов
func Chart(title string, history []models.HistoryEntry, thresholds ...float64) []byte {
	plotW := float64(chartWidth - marginLeft - marginRight)
	plotH := float64(chartHeight - marginTop - marginBot)

	maxT := 1.0
	for _, h := range history {
		maxT = math.Max(maxT, h.ElapsedSeconds)
	}
	x := func(t float64) float64 { return marginLeft + t/maxT*plotW }
	y := func(p float64) float64 { return marginTop + (1-math.Max(0, math.Min(100, p))/100)*plotH }

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		chartWidth, chartHeight, chartWidth, chartHeight)
	b.WriteString(`<rect width="100%" height="100%" fill="white"/>` + "\n")
	fmt.Fprintf(&b, `<text x="%d" y="20" font-family="sans-serif" font-size="14">%s</text>`+"\n",
		marginLeft, escape(title))

	// оси и сетка
	for p := 0; p <= 100; p += 25 {
		fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#ddd" stroke-dasharray="4 2"/>`+"\n",
			marginLeft, y(float64(p)), chartWidth-marginRight, y(float64(p)))
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" font-family="sans-serif" font-size="11" text-anchor="end">%d%%</text>`+"\n",
			marginLeft-6, y(float64(p))+4, p)
	}
	fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-family="sans-serif" font-size="12" text-anchor="middle">elapsed, s (max %.0f)</text>`+"\n",
		marginLeft+plotW/2, chartHeight-15, maxT)

	for _, th := range thresholds {
		fmt.Fprintf(&b, `<line class="threshold" x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#d9534f" stroke-dasharray="6 3"/>`+"\n",
			marginLeft, y(th*100), chartWidth-marginRight, y(th*100))
	}

	if len(history) > 0 {
		pts := make([]string, len(history))
		for i, h := range history {
			pts[i] = fmt.Sprintf("%.1f,%.1f", x(h.ElapsedSeconds), y(h.ScorePercent))
		}
		fmt.Fprintf(&b, `<polyline fill="none" stroke="#337ab7" stroke-width="2" points="%s"/>`+"\n",
			strings.Join(pts, " "))
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}
