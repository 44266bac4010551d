package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

const (
	artifactMagic   = "FNVPOLICY"
	artifactVersion = 1
)

// ErrCorruptArtifact is returned when an artifact fails to decode or its shapes disagree
var ErrCorruptArtifact = errors.New("corrupt policy artifact")

type layerRecord struct {
	Rows    int       `msgpack:"rows"`
	Cols    int       `msgpack:"cols"`
	Weights []float64 `msgpack:"weights"`
	Bias    []float64 `msgpack:"bias"`
}

type artifact struct {
	Magic   string        `msgpack:"magic"`
	Version int           `msgpack:"version"`
	Hidden  int           `msgpack:"hidden"`
	Actor   []layerRecord `msgpack:"actor"`
	Critic  []layerRecord `msgpack:"critic"`
	LogStd  []float64     `msgpack:"log_std"`
}

func recordsOf(n network) []layerRecord {
	out := make([]layerRecord, len(n))
	for i, l := range n {
		w := mat.DenseCopyOf(l.W)
		out[i] = layerRecord{
			Rows:    l.out(),
			Cols:    l.in(),
			Weights: w.RawMatrix().Data,
			Bias:    mat.VecDenseCopyOf(l.B).RawVector().Data,
		}
	}
	return out
}

func networkOf(records []layerRecord) (network, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty network", ErrCorruptArtifact)
	}
	n := make(network, len(records))
	for i, r := range records {
		if r.Rows <= 0 || r.Cols <= 0 || len(r.Weights) != r.Rows*r.Cols || len(r.Bias) != r.Rows {
			return nil, fmt.Errorf("%w: layer %d shape %dx%d", ErrCorruptArtifact, i, r.Rows, r.Cols)
		}
		if i > 0 && r.Cols != records[i-1].Rows {
			return nil, fmt.Errorf("%w: layer %d input %d does not follow %d", ErrCorruptArtifact, i, r.Cols, records[i-1].Rows)
		}
		n[i] = &layer{
			W: mat.NewDense(r.Rows, r.Cols, r.Weights),
			B: mat.NewVecDense(r.Rows, r.Bias),
		}
	}
	return n, nil
}

// Save writes m as a msgpack artifact
func Save(w io.Writer, m *MLP) error {
	a := artifact{
		Magic:   artifactMagic,
		Version: artifactVersion,
		Hidden:  m.hidden,
		Actor:   recordsOf(m.actor),
		Critic:  recordsOf(m.critic),
		LogStd:  mat.VecDenseCopyOf(m.logStd).RawVector().Data,
	}
	if err := msgpack.NewEncoder(w).Encode(&a); err != nil {
		return fmt.Errorf("encode policy artifact: %w", err)
	}
	return nil
}

// Load reads an artifact written by Save
func Load(r io.Reader) (*MLP, error) {
	var a artifact
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if a.Magic != artifactMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptArtifact, a.Magic)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptArtifact, a.Version)
	}

	actor, err := networkOf(a.Actor)
	if err != nil {
		return nil, err
	}
	critic, err := networkOf(a.Critic)
	if err != nil {
		return nil, err
	}

	actionDim := actor[len(actor)-1].out()
	if len(a.LogStd) != actionDim {
		return nil, fmt.Errorf("%w: log-std width %d for action width %d", ErrCorruptArtifact, len(a.LogStd), actionDim)
	}
	if critic[len(critic)-1].out() != 1 {
		return nil, fmt.Errorf("%w: value head width %d", ErrCorruptArtifact, critic[len(critic)-1].out())
	}
	if actor[0].in() != critic[0].in() || actor[0].out() != a.Hidden || critic[0].out() != a.Hidden {
		return nil, fmt.Errorf("%w: towers disagree on input or hidden width", ErrCorruptArtifact)
	}

	return &MLP{
		hidden: a.Hidden,
		actor:  actor,
		critic: critic,
		logStd: mat.NewVecDense(actionDim, a.LogStd),
	}, nil
}

// LoadFile reads an artifact from path
func LoadFile(path string) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(bufio.NewReader(f))
}

// SaveFile atomically writes m to path, creating parent directories
func SaveFile(path string, m *MLP) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".policy-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := Save(bw, m); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
