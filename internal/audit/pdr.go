// Package audit provides PDR (Process Decision Record) writing for UTA.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/uta/internal/models"
)

// Sink stores decision records.
type Sink interface {
	WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a decision or state-mutating action.
func (w *PDRWriter) Record(action string, inputs any, outcome, taskID, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(action, HashInputs(inputs), outcome, taskID, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
