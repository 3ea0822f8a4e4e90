package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// WeightSample is one posterior draw: a deep copy of the model parameters taken at Epoch.
// Samples are never mutated after they are harvested.
type WeightSample struct {
	Epoch  int             `json:"epoch"`
	Params ParameterVector `json:"params"`
}

// Checkpoint is a resumable point estimate, typically the best-dev-error weights of a run.
type Checkpoint struct {
	VersionedRecord
	RunID          string          `json:"run_id"`
	Epoch          int             `json:"epoch"`
	LR             float64         `json:"lr"`
	Params         ParameterVector `json:"params"`
	OptimizerState ParameterVector `json:"optimizer_state,omitempty"`
}

// NoiseState summarises the Langevin update rule at the end of an epoch.
type NoiseState struct {
	Steps          int     `json:"steps"`
	LR             float64 `json:"lr"`
	NoiseStd       float64 `json:"noise_std"`
	Preconditioner float64 `json:"preconditioner"`
}

type EpochMetrics struct {
	Epoch     int         `json:"epoch"`
	TrainCost float64     `json:"train_cost"`
	TrainErr  float64     `json:"train_err"`
	DevCost   float64     `json:"dev_cost"`
	DevErr    float64     `json:"dev_err"`
	Evaluated bool        `json:"evaluated"`
	Harvested bool        `json:"harvested"`
	LR        float64     `json:"lr"`
	Noise     *NoiseState `json:"noise,omitempty"`
}

type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	Method       string  `json:"method"`
	CreatedAtUTC string  `json:"created_at_utc"`
	InputDim     int     `json:"input_dim"`
	Hidden       []int   `json:"hidden"`
	Classes      int     `json:"classes"`
	DropRate     float64 `json:"drop_rate"`
	Activation   string  `json:"activation"`
	Epochs       int     `json:"epochs"`
	Seed         int64   `json:"seed"`
	BestEpoch    int     `json:"best_epoch"`
	BestDevErr   float64 `json:"best_dev_err"`
	Samples      int     `json:"samples"`
}
