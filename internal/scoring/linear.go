package scoring

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/jbouniol/finovera/pkg/logger"
)

// Linear is a logistic classifier exported from an offline training job
type Linear struct {
	ModelName    string    `yaml:"name"`
	Weight       float64   `yaml:"weight"`
	Intercept    float64   `yaml:"intercept"`
	Coefficients []float64 `yaml:"coefficients"`
}

// Name implements Classifier
func (l *Linear) Name() string { return l.ModelName }

// PredictProba implements Classifier
func (l *Linear) PredictProba(ctx context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(row) != len(l.Coefficients) {
			return nil, fmt.Errorf("%s: row %d has %d features, model expects %d",
				l.ModelName, i, len(row), len(l.Coefficients))
		}
		z := l.Intercept + floats.Dot(l.Coefficients, row)
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}

type modelFile struct {
	Models []*Linear `yaml:"models"`
}

// LoadEnsemble reads linear members from a YAML model file
func LoadEnsemble(path string, log *logger.Logger) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf modelFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	if len(mf.Models) == 0 {
		return nil, fmt.Errorf("models: at least one model required")
	}

	members := make([]Member, 0, len(mf.Models))
	for i, m := range mf.Models {
		if m.ModelName == "" || m.Weight <= 0 || len(m.Coefficients) == 0 {
			return nil, fmt.Errorf("models[%d]: name, positive weight and coefficients required", i)
		}
		members = append(members, Member{Classifier: m, Weight: m.Weight})
	}
	return NewEnsemble(log, members...), nil
}
