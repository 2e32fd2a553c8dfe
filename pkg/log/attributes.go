package log

// Standard attribute keys. Keys are hierarchical ("model.name", "data.samples")
// so log pipelines can filter by prefix.

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "RandomForestClassifier", "StandardScaler"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "clean", "encode", "scale", "split"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	// Examples: "pipeline", "tracking", "registry"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the workflow.
	PhaseKey = "ml.phase"

	// StageKey records the preprocessing stage.
	StageKey = "ml.stage"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
	ColumnsKey  = "data.columns"

	// DuplicatesKey records how many duplicate rows Clean removed.
	DuplicatesKey = "data.duplicates_removed"

	// ImputedKey records how many missing numeric cells Clean filled.
	ImputedKey = "data.imputed"
)

// Performance and metrics.
const (
	DurationMsKey  = "perf.duration_ms"
	MemoryUsageKey = "perf.memory_bytes"
	AccuracyKey    = "metrics.accuracy"
	LossKey        = "metrics.loss"
	F1Key          = "metrics.f1"
	IterationKey   = "training.iteration"
)

// Experiment tracking and registry.
const (
	// ExperimentKey names the experiment a run belongs to.
	ExperimentKey = "tracking.experiment"

	// RunIDKey identifies a tracking run.
	RunIDKey = "tracking.run_id"

	// RunStatusKey records a run's terminal status (FINISHED, FAILED).
	RunStatusKey = "tracking.run_status"

	// TrackingURIKey records where runs are stored.
	TrackingURIKey = "tracking.uri"

	// ArtifactKey names a logged artifact.
	ArtifactKey = "tracking.artifact"

	// RegisteredModelKey and ModelVersionKey describe a registry entry.
	RegisteredModelKey = "registry.model"
	ModelVersionKey    = "registry.version"

	// PathKey records a file path (config documents, datasets).
	PathKey = "file.path"
)

// Hyperparameters and configuration.
const (
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// TestFractionKey records the held-out fraction of the split.
	TestFractionKey = "config.test_fraction"
)

// Error context.
const (
	ErrorTypeKey = "error.type"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationClean     = "clean"
	OperationEncode    = "encode"
	OperationScale     = "scale"
	OperationSplit     = "split"

	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseEvaluation    = "evaluation"
	PhaseTracking      = "tracking"
)
