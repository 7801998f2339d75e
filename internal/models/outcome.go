package models

import "encoding/json"

// BulkFailure describes a single document the store refused inside a bulk request.
type BulkFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// BulkResult reports how a bulk request went item by item.
type BulkResult struct {
	Succeeded int
	Failures  []BulkFailure
}

// ImportOutcome reports the result of one import call. It is never persisted.
type ImportOutcome struct {
	Success  bool
	Count    int
	Failures []BulkFailure
	Error    string
}

// MarshalJSON produces {success, count[, failures]} on success and
// {success: false, error} otherwise.
func (o ImportOutcome) MarshalJSON() ([]byte, error) {
	if !o.Success {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}{Success: false, Error: o.Error})
	}
	return json.Marshal(struct {
		Success  bool          `json:"success"`
		Count    int           `json:"count"`
		Failures []BulkFailure `json:"failures,omitempty"`
	}{Success: true, Count: o.Count, Failures: o.Failures})
}
