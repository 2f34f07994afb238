package vae

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/born-vae/internal/nn"
	"github.com/born-ml/born-vae/internal/optim"
	"github.com/born-ml/born-vae/internal/serialization"
	"github.com/born-ml/born-vae/internal/tensor"
)

// ModelType is written into the header of every saved model.
const ModelType = "VAE"

// CheckpointDir returns the directory that holds training checkpoints under
// an output directory.
func CheckpointDir(outDir string) string {
	return filepath.Join(outDir, "checkpoints")
}

// CheckpointPath names the checkpoint written at the given epoch and step.
func CheckpointPath(outDir string, epoch int, step int64) string {
	return filepath.Join(CheckpointDir(outDir), fmt.Sprintf("vae-e%04d-s%06d.born", epoch, step))
}

// LatestCheckpoint returns the checkpoint with the highest step under outDir.
// It returns a *LoadError wrapping fs.ErrNotExist when there is none.
func LatestCheckpoint(outDir string) (string, error) {
	dir := CheckpointDir(outDir)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", &IOError{Op: "list checkpoints", Path: dir, Err: err}
	}

	latest, best := "", int64(-1)
	for _, e := range entries {
		var epoch int
		var step int64
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".born") {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "vae-e%d-s%d.born", &epoch, &step); err != nil {
			continue
		}
		if step > best {
			latest, best = filepath.Join(dir, e.Name()), step
		}
	}
	if latest == "" {
		return "", &LoadError{Path: dir, Reason: "no checkpoint found", Err: fs.ErrNotExist}
	}
	return latest, nil
}

// CheckpointInfo is the training position stored alongside a checkpoint.
type CheckpointInfo struct {
	RunID string
	Epoch int
	Step  int64
	Loss  float64
}

// Save writes the model parameters and architecture to path.
func (m *Model[B]) Save(path string) error {
	header, err := m.header()
	if err != nil {
		return err
	}
	if err := serialization.SaveFile(path, m.StateDict(), header); err != nil {
		return &IOError{Op: "save model", Path: path, Err: err}
	}
	slog.Debug("model saved", "path", path, "tensors", len(m.Parameters()))
	return nil
}

// SaveCheckpoint writes the model together with the optimizer state and the
// training position.
func (m *Model[B]) SaveCheckpoint(path string, opt optim.Optimizer, info CheckpointInfo) error {
	header, err := m.header()
	if err != nil {
		return err
	}
	header.CheckpointMeta = &serialization.CheckpointMeta{
		IsCheckpoint:    true,
		RunID:           info.RunID,
		Epoch:           info.Epoch,
		Step:            info.Step,
		Loss:            info.Loss,
		OptimizerType:   "Adam",
		OptimizerConfig: map[string]any{"lr": opt.GetLR()},
	}

	sd := m.StateDict()
	for pair := opt.StateDict().Oldest(); pair != nil; pair = pair.Next() {
		sd.Set(pair.Key, pair.Value)
	}
	if err := serialization.SaveFile(path, sd, header); err != nil {
		return &IOError{Op: "save checkpoint", Path: path, Err: err}
	}
	return nil
}

// Load replaces the model parameters with those stored in path. The file
// must describe the same architecture; optimizer state in it is ignored.
func (m *Model[B]) Load(path string) error {
	sd, _, err := m.read(path)
	if err != nil {
		return err
	}
	return m.loadParameters(path, sd)
}

// LoadCheckpoint restores model and optimizer state from a checkpoint.
func (m *Model[B]) LoadCheckpoint(path string, opt optim.Optimizer) (CheckpointInfo, error) {
	sd, header, err := m.read(path)
	if err != nil {
		return CheckpointInfo{}, err
	}
	if header.CheckpointMeta == nil || !header.CheckpointMeta.IsCheckpoint {
		return CheckpointInfo{}, &LoadError{Path: path, Reason: "file has no training state"}
	}
	if err := m.loadParameters(path, sd); err != nil {
		return CheckpointInfo{}, err
	}
	if err := opt.LoadStateDict(sd); err != nil {
		return CheckpointInfo{}, &LoadError{Path: path, Reason: "optimizer state mismatch", Err: err}
	}

	meta := header.CheckpointMeta
	return CheckpointInfo{RunID: meta.RunID, Epoch: meta.Epoch, Step: meta.Step, Loss: meta.Loss}, nil
}

// LoadModel builds a model from the architecture stored in path and loads
// its parameters.
func LoadModel[B tensor.Backend](path string, backend B, seed uint64) (*Model[B], error) {
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	cfg, err := configFromHeader(path, header)
	if err != nil {
		return nil, err
	}
	m, err := New(cfg, seed, backend)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "invalid architecture", Err: err}
	}
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadCheckpointInfo returns the architecture and training position stored
// in path without loading tensors.
func ReadCheckpointInfo(path string) (Config, *CheckpointInfo, error) {
	header, err := readHeader(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfg, err := configFromHeader(path, header)
	if err != nil {
		return Config{}, nil, err
	}
	meta := header.CheckpointMeta
	if meta == nil || !meta.IsCheckpoint {
		return cfg, nil, nil
	}
	return cfg, &CheckpointInfo{RunID: meta.RunID, Epoch: meta.Epoch, Step: meta.Step, Loss: meta.Loss}, nil
}

func (m *Model[B]) header() (serialization.Header, error) {
	config, err := json.Marshal(m.cfg)
	if err != nil {
		return serialization.Header{}, fmt.Errorf("encode model config: %w", err)
	}
	return serialization.Header{
		ModelType:   ModelType,
		ModelConfig: config,
		Metadata: map[string]string{
			"parameters": fmt.Sprint(nn.CountParameters(m.Parameters())),
		},
	}, nil
}

// read loads path and checks that it was written for this architecture.
func (m *Model[B]) read(path string) (*nn.StateDict, serialization.Header, error) {
	sd, header, err := serialization.LoadFile(path)
	if err != nil {
		return nil, header, openError(path, err)
	}
	cfg, err := configFromHeader(path, header)
	if err != nil {
		return nil, header, err
	}
	if !cfg.Equal(m.cfg) {
		return nil, header, &LoadError{
			Path:   path,
			Reason: fmt.Sprintf("architecture mismatch: file has %v, model is %v", cfg, m.cfg),
		}
	}
	return sd, header, nil
}

func (m *Model[B]) loadParameters(path string, sd *nn.StateDict) error {
	params := nn.NewStateDict()
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key, optim.StatePrefix) {
			params.Set(pair.Key, pair.Value)
		}
	}
	if err := nn.LoadStateDict(m.Parameters(), params); err != nil {
		return &LoadError{Path: path, Reason: "parameter mismatch", Err: err}
	}
	return nil
}

func readHeader(path string) (serialization.Header, error) {
	header, err := serialization.ReadHeader(path)
	if err != nil {
		return header, openError(path, err)
	}
	return header, nil
}

func configFromHeader(path string, header serialization.Header) (Config, error) {
	if header.ModelType != ModelType {
		return Config{}, &LoadError{Path: path, Reason: fmt.Sprintf("not a %s file (model type %q)", ModelType, header.ModelType)}
	}
	var cfg Config
	if err := json.Unmarshal(header.ModelConfig, &cfg); err != nil {
		return Config{}, &LoadError{Path: path, Reason: "unreadable architecture", Err: err}
	}
	return cfg, nil
}

func openError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &LoadError{Path: path, Reason: "checkpoint not found", Err: err}
	}
	return &LoadError{Path: path, Reason: "invalid checkpoint file", Err: err}
}
