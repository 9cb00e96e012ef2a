// Package fl enumerates the pluggable federated-learning variants the
// coordinator can launch. The actual training math lives in the external
// framework; this catalog only decides what may be launched and what a
// job's server config must carry for each variant.
package fl

import (
	"encoding/json"

	"github.com/flockml/flock/pkg/ferr"
)

// Model selects the trainable architecture provided by the FL framework.
type Model string

const (
	ModelLeNet    Model = "lenet"
	ModelCNN      Model = "cnn"
	ModelMLP      Model = "mlp"
	ModelResNet18 Model = "resnet18"
)

// Strategy selects the aggregation strategy used by the server process.
type Strategy string

const (
	StrategyFedAvg   Strategy = "fedavg"
	StrategyFedProx  Strategy = "fedprox"
	StrategyScaffold Strategy = "scaffold"
)

// Optimizer selects the client-side optimizer.
type Optimizer string

const (
	OptimizerSGD     Optimizer = "sgd"
	OptimizerAdam    Optimizer = "adam"
	OptimizerRMSProp Optimizer = "rmsprop"
)

// ModelSpec ties a model to its companion client type and the server-config
// keys that must be present before a job may start.
type ModelSpec struct {
	// ClientType is passed to remote client services so they construct the
	// matching client-side trainer.
	ClientType string

	// RequiredConfig lists the mandatory keys of the job's server_config
	// blob, validated lazily at start time.
	RequiredConfig []string
}

// Models is the closed mapping table. Adding a variant means adding an
// entry here; there is no runtime lookup-or-raise fallback.
var Models = map[Model]ModelSpec{
	ModelLeNet:    {ClientType: "image", RequiredConfig: []string{"num_channels", "num_classes", "lr", "batch_size"}},
	ModelCNN:      {ClientType: "image", RequiredConfig: []string{"num_channels", "num_classes", "lr", "batch_size"}},
	ModelMLP:      {ClientType: "tabular", RequiredConfig: []string{"input_dim", "num_classes", "lr", "batch_size"}},
	ModelResNet18: {ClientType: "image", RequiredConfig: []string{"num_classes", "lr", "batch_size", "pretrained"}},
}

var strategies = map[Strategy]bool{
	StrategyFedAvg:   true,
	StrategyFedProx:  true,
	StrategyScaffold: true,
}

var optimizers = map[Optimizer]bool{
	OptimizerSGD:     true,
	OptimizerAdam:    true,
	OptimizerRMSProp: true,
}

// ParseModel validates a string-encoded model identifier.
func ParseModel(s string) (Model, error) {
	m := Model(s)
	if _, ok := Models[m]; !ok {
		return "", ferr.Newf(ferr.CodeIncompleteJob, "unknown model %q", s)
	}
	return m, nil
}

// ParseStrategy validates a string-encoded strategy identifier.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !strategies[st] {
		return "", ferr.Newf(ferr.CodeIncompleteJob, "unknown strategy %q", s)
	}
	return st, nil
}

// ParseOptimizer validates a string-encoded optimizer identifier.
func ParseOptimizer(s string) (Optimizer, error) {
	o := Optimizer(s)
	if !optimizers[o] {
		return "", ferr.Newf(ferr.CodeIncompleteJob, "unknown optimizer %q", s)
	}
	return o, nil
}

// ParseServerConfig decodes a job's opaque server_config blob and enforces
// the model's mandatory-field list. Missing fields are reported by name.
func ParseServerConfig(m Model, raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, ferr.Newf(ferr.CodeIncompleteJob, "missing required field server_config")
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, ferr.Newf(ferr.CodeIncompleteJob, "server_config is not a valid JSON object: %v", err)
	}

	spec, ok := Models[m]
	if !ok {
		return nil, ferr.Newf(ferr.CodeIncompleteJob, "unknown model %q", m)
	}
	for _, key := range spec.RequiredConfig {
		if _, present := cfg[key]; !present {
			return nil, ferr.Newf(ferr.CodeIncompleteConfig, "server_config for model %s is missing %q", m, key)
		}
	}

	return cfg, nil
}
