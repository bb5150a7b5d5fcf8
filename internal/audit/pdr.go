// Package audit provides PDR (Process Decision Record) writing for the market.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
)

// Outcomes recorded for a decision.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer. Pass a transaction-scoped store to
// make the record part of the decision it describes.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action, caller string, inputs interface{}, outcome string, taskID uint64, details string) (*models.PDREntry, error) {
	return w.store.WritePDR(action, caller, HashInputs(inputs), outcome, taskID, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
