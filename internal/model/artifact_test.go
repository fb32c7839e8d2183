package model

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"vibration-monitor/internal/models"
)

// testArtifact projects the first two features onto two components and
// classifies by the first one.
func testArtifact(n int) *Artifact {
	comp1 := make([]float64, n)
	comp2 := make([]float64, n)
	comp1[0] = 1
	comp2[1] = 1
	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	return &Artifact{
		Name:    "test",
		Scaler:  Scaler{Mean: mean, Scale: scale},
		Reducer: Reducer{Components: [][]float64{comp1, comp2}},
		Classifier: Classifier{
			Classes: []Class{
				{Name: "normal"},
				{Name: "rusak_ringan"},
				{Name: "rusak_berat"},
			},
			Coef:      [][]float64{{-4, 0}, {0, 0}, {4, 0}},
			Intercept: []float64{0, 0, 0},
		},
	}
}

func TestParse_YAMLRoundTrip(t *testing.T) {
	a := testArtifact(9)
	a.Detector = &Detector{Center: []float64{0, 0}, Scale: []float64{1, 1}, Offset: 0.5}
	data, err := yaml.Marshal(a)
	require.NoError(t, err)

	parsed, err := Parse(data, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, parsed.InputLen())
	assert.Equal(t, models.SeverityNormal, parsed.Classifier.Classes[0].Severity)
	assert.Equal(t, models.SeverityLight, parsed.Classifier.Classes[1].Severity)
	assert.Equal(t, models.SeveritySevere, parsed.Classifier.Classes[2].Severity)
	require.NotNil(t, parsed.Detector)
	assert.Equal(t, 0.5, parsed.Detector.Offset)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
	  "name": "json",
	  "scaler": {"mean": [0, 0, 0], "scale": [1, 2, 0]},
	  "reducer": {"components": [[1, 0, 0]]},
	  "classifier": {
	    "classes": [{"name": "ok", "severity": "NORMAL"}, {"name": "bad", "severity": "SEVERE"}],
	    "coef": [[-1], [1]],
	    "intercept": [0, 0]
	  }
	}`
	a, err := Parse([]byte(doc), 3)
	require.NoError(t, err)

	z, err := a.Standardize([]float64{1, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 5}, z, "zero scale only centers")
}

func TestValidate_Mismatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Artifact)
		n      int
	}{
		{"feature length", func(a *Artifact) {}, 10},
		{"scale length", func(a *Artifact) { a.Scaler.Scale = a.Scaler.Scale[:3] }, 9},
		{"no components", func(a *Artifact) { a.Reducer.Components = nil }, 9},
		{"component width", func(a *Artifact) { a.Reducer.Components[1] = []float64{1} }, 9},
		{"single class", func(a *Artifact) {
			a.Classifier.Classes = a.Classifier.Classes[:1]
			a.Classifier.Coef = a.Classifier.Coef[:1]
			a.Classifier.Intercept = a.Classifier.Intercept[:1]
		}, 9},
		{"coef width", func(a *Artifact) { a.Classifier.Coef[2] = []float64{1, 2, 3} }, 9},
		{"unknown class", func(a *Artifact) { a.Classifier.Classes[0].Name = "mystery" }, 9},
		{"detector dims", func(a *Artifact) { a.Detector = &Detector{Center: []float64{0}} }, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifact(9)
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(tt.n), models.ErrInvalidConfig)
		})
	}
}

func TestClassifier_PredictSoftmax(t *testing.T) {
	a := testArtifact(4)
	require.NoError(t, a.Validate(4))

	pred, err := a.Predict([]float64{2, 0})
	require.NoError(t, err)

	sum := 0.0
	for _, p := range pred.Probabilities {
		sum += p.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, "rusak_berat", pred.Label)
	assert.Equal(t, models.SeveritySevere, pred.Severity)

	pred, err = a.Predict([]float64{-2, 0})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityNormal, pred.Severity)

	// huge logits stay finite
	pred, err = a.Predict([]float64{1e6, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pred.Probabilities[2].Probability, 1e-12)
}

func TestArtifact_DecisionWithoutDetector(t *testing.T) {
	a := testArtifact(4)
	require.NoError(t, a.Validate(4))

	inlier, err := a.Decision([]float64{-3, 0})
	require.NoError(t, err)
	assert.Greater(t, inlier, 0.0)

	outlier, err := a.Decision([]float64{3, 0})
	require.NoError(t, err)
	assert.Less(t, outlier, 0.0)
}

func TestDetector_Decision(t *testing.T) {
	d := Detector{Center: []float64{0, 0}, Scale: []float64{2, 2}, Offset: 1}
	v, err := d.Decision([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = d.Decision([]float64{6, 8})
	require.NoError(t, err)
	assert.InDelta(t, 1-5, v, 1e-12)

	_, err = d.Decision([]float64{1})
	assert.Error(t, err)
}

func TestReducer_Reduce(t *testing.T) {
	r := Reducer{
		Mean:       []float64{1, 1},
		Components: [][]float64{{1, 0}, {0.5, 0.5}},
	}
	z, err := r.Reduce([]float64{3, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, z)

	_, err = r.Reduce([]float64{1})
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	data, err := yaml.Marshal(testArtifact(6))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	a, err := Load(context.Background(), path, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", a.Name)
}

func TestLoad_MissingFileIsUnavailable(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.yaml"), 6, nil)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	lastKey string
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestLoad_S3(t *testing.T) {
	data, err := yaml.Marshal(testArtifact(6))
	require.NoError(t, err)
	client := &fakeS3{objects: map[string][]byte{"models/chain/model.yaml": data}}
	fetcher := NewS3FetcherWithClient(client)

	a, err := Load(context.Background(), "s3://models/chain/model.yaml", 6, fetcher)
	require.NoError(t, err)
	assert.Equal(t, "models/chain/model.yaml", client.lastKey)
	assert.Equal(t, 6, a.InputLen())

	_, err = Load(context.Background(), "s3://models/missing.yaml", 6, fetcher)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)

	_, err = Load(context.Background(), "s3://models/chain/model.yaml", 6, nil)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://bucket/a/b.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "a/b.yaml", key)

	for _, bad := range []string{"bucket/a", "s3://bucket", "s3:///key", "s3://bucket/"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestScaler_LengthMismatch(t *testing.T) {
	s := Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}
	_, err := s.Standardize([]float64{1, 2, 3})
	assert.Error(t, err)
}
