package analytics

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vibration-monitor/internal/config"
	"vibration-monitor/internal/models"
)

// HighPassOrder порядок фильтра удаления гравитации
const HighPassOrder = 4

// Extractor превращает окно отсчетов в вектор признаков. Результат
// зависит только от окна и конфигурации.
type Extractor struct {
	size     int
	startBin int
	clip     float64
	highPass *HighPass
	ffts     sync.Pool
}

// NewExtractor создает экстрактор признаков для заданной конфигурации
func NewExtractor(cfg config.ClassifierConfig) (*Extractor, error) {
	if cfg.WindowSize <= 0 || cfg.StartBin < 0 || cfg.StartBin >= cfg.WindowSize/2 {
		return nil, fmt.Errorf("%w: window %d, start bin %d", models.ErrInvalidConfig, cfg.WindowSize, cfg.StartBin)
	}
	if cfg.ClipG <= 0 {
		return nil, fmt.Errorf("%w: clip amplitude must be positive", models.ErrInvalidConfig)
	}

	e := &Extractor{
		size:     cfg.WindowSize,
		startBin: cfg.StartBin,
		clip:     cfg.ClipG,
	}
	if cfg.HighPass {
		hp, err := NewHighPass(HighPassOrder, cfg.HighPassCutoff, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		e.highPass = hp
	}

	size := cfg.WindowSize
	// fourier.FFT хранит рабочие буферы и не безопасен для конкурентного
	// использования, поэтому держим пул
	e.ffts.New = func() any { return fourier.NewFFT(size) }
	return e, nil
}

// Len возвращает длину вектора признаков: 3 + 3*(W/2 - START_BIN)
func (e *Extractor) Len() int {
	return 3 + 3*e.spectrumLen()
}

func (e *Extractor) spectrumLen() int {
	return e.size/2 - e.startBin
}

// Extract вычисляет признаки окна
func (e *Extractor) Extract(w models.Window) (models.FeatureVector, error) {
	if len(w.Samples) != e.size {
		return models.FeatureVector{}, fmt.Errorf("%w: window has %d samples, want %d",
			models.ErrInsufficientData, len(w.Samples), e.size)
	}

	x, y, z := w.Axes()
	axes := [3][]float64{x, y, z}

	var (
		tilt     [3]float64
		spectrum [3][]float64
		rms      [3]float64
	)

	fft := e.ffts.Get().(*fourier.FFT)
	defer e.ffts.Put(fft)
	coeff := make([]complex128, e.size/2+1)

	for i, axis := range axes {
		clipSignal(axis, e.clip)

		// наклон считается до фильтрации
		tilt[i] = stat.Mean(axis, nil)

		signal := axis
		if e.highPass != nil {
			centered := make([]float64, len(axis))
			copy(centered, axis)
			floats.AddConst(-tilt[i], centered)
			filtered, err := e.highPass.Apply(centered)
			if err != nil {
				return models.FeatureVector{}, err
			}
			signal = filtered
		}

		rms[i] = math.Sqrt(floats.Dot(signal, signal) / float64(len(signal)))

		coeff = fft.Coefficients(coeff, signal)
		spec := make([]float64, e.spectrumLen())
		for k := range spec {
			spec[k] = cmplx.Abs(coeff[e.startBin+k])
		}
		spectrum[i] = spec
	}

	total := math.Sqrt(rms[0]*rms[0] + rms[1]*rms[1] + rms[2]*rms[2])

	fv, err := models.NewFeatureVector(tilt, spectrum, rms, total)
	if err != nil {
		return models.FeatureVector{}, fmt.Errorf("%w: %v", models.ErrTransientComputation, err)
	}
	if !allFinite(fv) {
		return models.FeatureVector{}, fmt.Errorf("%w: non-finite feature in window %d",
			models.ErrTransientComputation, w.Start)
	}
	return fv, nil
}

// clipSignal ограничивает амплитуду: удары (ямы на дороге) иначе
// доминируют в спектре
func clipSignal(v []float64, limit float64) {
	for i := range v {
		if v[i] > limit {
			v[i] = limit
		} else if v[i] < -limit {
			v[i] = -limit
		}
	}
}

func allFinite(fv models.FeatureVector) bool {
	for _, v := range fv.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !math.IsNaN(fv.TotalRMS) && !math.IsInf(fv.TotalRMS, 0)
}
