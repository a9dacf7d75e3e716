package ir

// Version constants for the rule-base description and the engine.
const (
	// IRVersion is the rule-base description version.
	IRVersion = "1"

	// EngineVersion is the rulecore engine version.
	EngineVersion = "0.1.0"

	// SnapshotVersion is the session snapshot format version.
	SnapshotVersion = 1
)
