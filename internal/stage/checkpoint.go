package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// hashContent returns the hex SHA-256 digest of content, the same
// checkpoint primitive the ingestion pipeline uses for content hashes.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// checkpointInput is the canonical shape hashed for a stage's inputs:
// whatever upstream data that stage consumes, plus the config knobs that
// would change its output. Stages build this per-invocation and compare
// the resulting hash against the last StageRecord.CheckpointHash to
// decide whether a resume can skip re-running the stage entirely.
type checkpointInput struct {
	Stage  string         `json:"stage"`
	Inputs map[string]any `json:"inputs"`
}

// Checksum computes the checkpoint hash for a stage's inputs. Map key
// order doesn't affect the digest: json.Marshal on a map[string]any
// sorts keys, so two logically-identical input sets always hash
// identically regardless of construction order.
func Checksum(stageName string, inputs map[string]any) (string, error) {
	payload, err := json.Marshal(checkpointInput{Stage: stageName, Inputs: inputs})
	if err != nil {
		return "", err
	}
	return hashContent(string(payload)), nil
}
