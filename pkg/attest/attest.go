// Package attest signs run records so a consumer can check that a recorded
// run was produced by a holder of the signing key and not edited after the
// fact.
package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runlet/runlet/pkg/record"
)

// Schema identifies the attestation format.
const Schema = "runlet-attestation/v1"

// Attestation binds a signature to a run's record file.
type Attestation struct {
	Schema      string    `json:"schema"`
	RunID       string    `json:"run_id"`
	Workflow    string    `json:"workflow"`
	State       string    `json:"state"`
	RunJSONHash string    `json:"run_json_hash"`
	SignedAt    time.Time `json:"signed_at"`
	PublicKey   string    `json:"public_key"`
	Signature   string    `json:"signature"`
}

// Sign hashes the run's run.json, signs the hash, and writes
// attestation.json next to it.
func Sign(runDir string, priv ed25519.PrivateKey) (*Attestation, error) {
	if runDir == "" {
		return nil, fmt.Errorf("run directory is required")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size")
	}

	runPath := filepath.Join(runDir, "run.json")
	data, err := os.ReadFile(runPath)
	if err != nil {
		return nil, err
	}

	var runRec record.RunRecord
	if err := json.Unmarshal(data, &runRec); err != nil {
		return nil, fmt.Errorf("decode run record: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	att := &Attestation{
		Schema:      Schema,
		RunID:       runRec.ID,
		Workflow:    runRec.Workflow,
		State:       runRec.State,
		RunJSONHash: hash,
		SignedAt:    time.Now().UTC(),
		PublicKey:   hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Signature:   hex.EncodeToString(ed25519.Sign(priv, sum[:])),
	}

	out, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(runDir, "attestation.json"), out, 0644); err != nil {
		return nil, err
	}

	return att, nil
}

// Verify re-hashes run.json and checks the attestation's signature. A
// mismatched hash means the record changed after signing.
func Verify(runDir string) (*Attestation, error) {
	attData, err := os.ReadFile(filepath.Join(runDir, "attestation.json"))
	if err != nil {
		return nil, err
	}
	var att Attestation
	if err := json.Unmarshal(attData, &att); err != nil {
		return nil, fmt.Errorf("decode attestation: %w", err)
	}
	if att.Schema != Schema {
		return nil, fmt.Errorf("unsupported attestation schema %q", att.Schema)
	}

	runData, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(runData)
	if hex.EncodeToString(sum[:]) != att.RunJSONHash {
		return nil, fmt.Errorf("run record hash mismatch: record was modified after signing")
	}

	pubBytes, err := hex.DecodeString(att.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key in attestation")
	}
	sig, err := hex.DecodeString(att.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), sum[:], sig) {
		return nil, fmt.Errorf("signature verification failed")
	}

	return &att, nil
}
