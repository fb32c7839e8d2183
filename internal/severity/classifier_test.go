package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/model"
	"vibration-monitor/internal/models"
)

func moving() models.FeatureVector {
	return models.FeatureVector{TotalRMS: 1.0}
}

func scored(dist, decision float64) model.ScoreResult {
	return model.ScoreResult{Status: model.StatusOK, Distance: dist, Decision: decision}
}

func TestClassifier_UnavailableModel(t *testing.T) {
	for _, policy := range []config.Policy{config.PolicyDistance, config.PolicyProbability} {
		cfg := config.DefaultClassifierConfig()
		cfg.Policy = policy
		c := New(cfg)

		// даже стационарное окно без модели остается UNKNOWN
		v := c.Classify(models.FeatureVector{TotalRMS: 0.01}, model.Unavailable())
		assert.Equal(t, models.SeverityUnknown, v.Severity, policy)
		assert.Equal(t, 0.0, v.Confidence, policy)
	}
}

func TestClassifier_StationaryShortCircuit(t *testing.T) {
	for _, policy := range []config.Policy{config.PolicyDistance, config.PolicyProbability} {
		cfg := config.DefaultClassifierConfig()
		cfg.Policy = policy
		c := New(cfg)

		severe := model.ScoreResult{
			Status:   model.StatusOK,
			Distance: 10,
			Decision: -5,
			Damage:   1,
			Probabilities: []model.ClassProbability{
				{Severity: models.SeveritySevere, Probability: 1},
			},
		}
		v := c.Classify(models.FeatureVector{TotalRMS: 0.03}, severe)
		assert.Equal(t, models.SeverityNormal, v.Severity, policy)
		assert.True(t, v.Stationary)
		assert.InDelta(t, 0.97, v.Confidence, 1e-12)

		v = c.Classify(models.FeatureVector{TotalRMS: 0.149}, severe)
		assert.GreaterOrEqual(t, v.Confidence, 0.85)
		assert.InDelta(t, 0.851, v.Confidence, 1e-3)
	}
}

func TestDistanceRule(t *testing.T) {
	c := New(config.DefaultClassifierConfig())

	tests := []struct {
		name     string
		dist     float64
		decision float64
		want     models.Severity
		conf     float64
	}{
		{"close and corroborated", 0.05, 0.5, models.SeverityNormal, 0.8},
		{"close but anomalous", 0.05, -0.1, models.SeverityLight, 0.6},
		{"band and anomalous", 0.185, -0.2, models.SeverityLight, 0.7},
		{"band without detector agreement", 0.2, 0.9, models.SeverityNormal, 0.7},
		{"far and anomalous", 0.5, -1, models.SeveritySevere, 0.95},
		{"far anomalous confidence grows", 0.25 + 1e-9, -1, models.SeveritySevere, 0.85},
		{"far without detector agreement", 0.5, 0.3, models.SeverityLight, 0.85},
		{"boundary ringan is inclusive", 0.12, 0.1, models.SeverityNormal, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(moving(), scored(tt.dist, tt.decision))
			assert.Equal(t, tt.want, v.Severity)
			assert.InDelta(t, tt.conf, v.Confidence, 1e-6)
			assert.False(t, v.Stationary)
		})
	}
}

func TestDistanceRule_NormalConfidenceCapped(t *testing.T) {
	c := New(config.DefaultClassifierConfig())
	v := c.Classify(moving(), scored(0, 0))
	assert.Equal(t, models.SeverityNormal, v.Severity)
	assert.Equal(t, 0.99, v.Confidence)
}

func TestProbabilityRule(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	cfg.Policy = config.PolicyProbability
	c := New(cfg)

	probs := []model.ClassProbability{
		{Class: "normal", Severity: models.SeverityNormal, Probability: 0.5},
		{Class: "rusak_ringan", Severity: models.SeverityLight, Probability: 0.3},
		{Class: "rusak_berat", Severity: models.SeveritySevere, Probability: 0.2},
	}
	tests := []struct {
		damage float64
		want   models.Severity
		conf   float64
	}{
		{0.0, models.SeverityNormal, 0.5},
		{0.2999, models.SeverityNormal, 0.5},
		{0.30, models.SeverityLight, 0.3},
		{0.65, models.SeverityLight, 0.3},
		{0.651, models.SeveritySevere, 0.2},
		{1.0, models.SeveritySevere, 0.2},
	}
	for _, tt := range tests {
		r := model.ScoreResult{Status: model.StatusOK, Damage: tt.damage, Probabilities: probs}
		v := c.Classify(moving(), r)
		assert.Equal(t, tt.want, v.Severity, "damage %v", tt.damage)
		assert.InDelta(t, tt.conf, v.Confidence, 1e-12, "damage %v", tt.damage)
	}
}

func TestClassifier_Stateless(t *testing.T) {
	c := New(config.DefaultClassifierConfig())
	r := scored(0.5, -1)
	first := c.Classify(moving(), r)
	for i := 0; i < 10; i++ {
		c.Classify(moving(), scored(0.01, 1))
	}
	assert.Equal(t, first, c.Classify(moving(), r))
}

func TestAdvice(t *testing.T) {
	for _, s := range []models.Severity{models.SeverityNormal, models.SeverityLight, models.SeveritySevere} {
		assert.NotEmpty(t, Explanation(s), s)
		assert.NotEmpty(t, Tips(s), s)
		assert.NotEqual(t, manualAdvice, Advice(s), s)
	}
	assert.Equal(t, manualAdvice, Advice(models.SeverityUnknown))
	assert.Empty(t, Explanation(models.SeverityUnknown))
}
