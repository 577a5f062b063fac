// Package config loads training run definitions from HCL files.
//
// A run file sets the epoch count and cadence at the top level and groups the
// rest of the setup into optional blocks:
//
//	epochs           = 20
//	eval_every       = 2
//	checkpoint_every = 5
//
//	data {
//	  kind                = "blobs"
//	  validation_fraction = 0.2
//	}
//
//	optimizer {
//	  name          = "adam"
//	  learning_rate = 0.01
//	}
//
//	checkpoint {
//	  directory = "${env.HOME}/runs/blobs"
//	}
//
// Environment variables are available to expressions as env.NAME.
package config

import (
	"time"

	"github.com/tsawler/go-trainloop/training"
)

// Run is the root of a run file.
type Run struct {
	Name            string  `hcl:"name,optional"`
	Epochs          int     `hcl:"epochs"`
	Seed            int64   `hcl:"seed,optional"`
	EvalEvery       *int    `hcl:"eval_every,optional"`
	CheckpointEvery *int    `hcl:"checkpoint_every,optional"`
	VisualizeEvery  *int    `hcl:"visualize_every,optional"`
	NonFinite       string  `hcl:"non_finite,optional"`
	MaxGradNorm     float64 `hcl:"max_grad_norm,optional"`

	Data          *Data          `hcl:"data,block"`
	Model         *Model         `hcl:"model,block"`
	Optimizer     *Optimizer     `hcl:"optimizer,block"`
	Scheduler     *Scheduler     `hcl:"scheduler,block"`
	Checkpoint    *Checkpoint    `hcl:"checkpoint,block"`
	Visualization *Visualization `hcl:"visualization,block"`
	Dashboard     *Dashboard     `hcl:"dashboard,block"`
}

// Data selects the synthetic dataset and how it is batched.
type Data struct {
	Kind               string  `hcl:"kind,optional"` // "blobs" or "linear"
	Samples            int     `hcl:"samples,optional"`
	Features           int     `hcl:"features,optional"`
	Classes            int     `hcl:"classes,optional"` // blobs only
	Spread             float64 `hcl:"spread,optional"`  // blobs only
	Noise              float64 `hcl:"noise,optional"`   // linear only
	ValidationFraction float64 `hcl:"validation_fraction,optional"`
	BatchSize          int     `hcl:"batch_size,optional"`
	Shuffle            *bool   `hcl:"shuffle,optional"`
	Prefetch           int     `hcl:"prefetch,optional"` // batches loaded ahead, 0 disables
}

// Classification reports whether the dataset has class labels.
func (d *Data) Classification() bool {
	return d.Kind == "blobs"
}

// Model describes a multilayer perceptron. The output layer is sized from the data.
type Model struct {
	Hidden     []int   `hcl:"hidden,optional"`
	Activation string  `hcl:"activation,optional"` // "relu", "tanh" or "sigmoid"
	Dropout    float64 `hcl:"dropout,optional"`
}

type Optimizer struct {
	Name         string  `hcl:"name,optional"`
	LearningRate float64 `hcl:"learning_rate,optional"`
}

// Scheduler selects the per-epoch learning rate strategy.
type Scheduler struct {
	Name     string  `hcl:"name"`
	StepSize int     `hcl:"step_size,optional"`
	Gamma    float64 `hcl:"gamma,optional"`
	TMax     int     `hcl:"t_max,optional"`
	EtaMin   float64 `hcl:"eta_min,optional"`
}

// Settings converts the block into the schedule constructor's config.
func (s *Scheduler) Settings() training.SchedulerConfig {
	return training.SchedulerConfig{
		Name:     s.Name,
		StepSize: s.StepSize,
		Gamma:    s.Gamma,
		TMax:     s.TMax,
		EtaMin:   s.EtaMin,
	}
}

type Checkpoint struct {
	Directory      string   `hcl:"directory"`
	Format         string   `hcl:"format,optional"`
	MaxKeep        *int     `hcl:"max_keep,optional"`
	SaveBest       *bool    `hcl:"save_best,optional"`
	BestMetric     string   `hcl:"best_metric,optional"`
	HigherIsBetter bool     `hcl:"higher_is_better,optional"`
	Description    string   `hcl:"description,optional"`
	Tags           []string `hcl:"tags,optional"`
	Resume         string   `hcl:"resume,optional"` // checkpoint file to restore before training
}

// Visualization sends weight grids of one parameter to the plotting sidecar.
type Visualization struct {
	URL          string   `hcl:"url,optional"`
	Parameter    string   `hcl:"parameter"`
	Shape        []int    `hcl:"shape,optional"`
	Height       int      `hcl:"height,optional"`
	Width        int      `hcl:"width,optional"`
	Timeout      string   `hcl:"timeout,optional"`
	AutoStart    bool     `hcl:"auto_start,optional"`
	Command      []string `hcl:"command,optional"`
	Dir          string   `hcl:"dir,optional"`
	StartTimeout string   `hcl:"start_timeout,optional"`
}

// Dashboard streams progress events to a socket.io server.
type Dashboard struct {
	URL       string `hcl:"url"`
	Namespace string `hcl:"namespace,optional"`
	Timeout   string `hcl:"timeout,optional"`
}

// TimeoutDuration returns the parsed connect timeout. Validate has already
// rejected malformed values.
func (d *Dashboard) TimeoutDuration() time.Duration {
	dur, _ := time.ParseDuration(d.Timeout)
	return dur
}

// TimeoutDuration returns the parsed request timeout.
func (v *Visualization) TimeoutDuration() time.Duration {
	dur, _ := time.ParseDuration(v.Timeout)
	return dur
}

// StartTimeoutDuration returns how long to wait for an auto-started sidecar.
func (v *Visualization) StartTimeoutDuration() time.Duration {
	dur, _ := time.ParseDuration(v.StartTimeout)
	return dur
}

// applyDefaults fills every block the file left out and every optional
// attribute left at its zero value.
func (r *Run) applyDefaults() {
	if r.Name == "" {
		r.Name = "run"
	}
	if r.NonFinite == "" {
		r.NonFinite = "abort"
	}

	if r.Data == nil {
		r.Data = &Data{}
	}
	d := r.Data
	if d.Kind == "" {
		d.Kind = "blobs"
	}
	if d.Samples == 0 {
		d.Samples = 300
	}
	if d.Features == 0 {
		d.Features = 2
	}
	if d.Classes == 0 && d.Classification() {
		d.Classes = 3
	}
	if d.Spread == 0 {
		d.Spread = 1.0
	}
	if d.BatchSize == 0 {
		d.BatchSize = 32
	}
	if d.Shuffle == nil {
		shuffle := true
		d.Shuffle = &shuffle
	}

	if r.Model == nil {
		r.Model = &Model{}
	}
	if r.Model.Hidden == nil {
		r.Model.Hidden = []int{16}
	}
	if r.Model.Activation == "" {
		r.Model.Activation = "relu"
	}

	if r.Optimizer == nil {
		r.Optimizer = &Optimizer{}
	}
	if r.Optimizer.Name == "" {
		r.Optimizer.Name = "sgd"
	}
	if r.Optimizer.LearningRate == 0 {
		r.Optimizer.LearningRate = 0.01
	}

	if c := r.Checkpoint; c != nil {
		if c.Format == "" {
			c.Format = "json"
		}
		if c.MaxKeep == nil {
			keep := 5
			c.MaxKeep = &keep
		}
		if c.SaveBest == nil {
			saveBest := true
			c.SaveBest = &saveBest
		}
		if c.BestMetric == "" {
			c.BestMetric = "loss"
		}
	}

	if v := r.Visualization; v != nil {
		if v.URL == "" {
			v.URL = "http://localhost:8080"
		}
		if v.Timeout == "" {
			v.Timeout = "30s"
		}
		if v.StartTimeout == "" {
			v.StartTimeout = "30s"
		}
	}

	if db := r.Dashboard; db != nil {
		if db.Namespace == "" {
			db.Namespace = "/"
		}
		if db.Timeout == "" {
			db.Timeout = "15s"
		}
	}
}
