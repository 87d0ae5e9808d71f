package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// MediaBankType distinguishes image and video bank entries.
type MediaBankType string

const (
	BankTypeImages MediaBankType = "images"
	BankTypeVideos MediaBankType = "videos"
)

// MediaBankEntry is one registered media directory. Playback configs refer
// to entries by index (bank_selections).
type MediaBankEntry struct {
	Name string        `json:"name"`
	Path string        `json:"path"`
	Type MediaBankType `json:"type"`
}

// MediaBank is the shared, user-editable directory registry.
type MediaBank []MediaBankEntry

// LoadMediaBank reads and parses a media bank registry file.
func LoadMediaBank(path string) (MediaBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading media bank: %w", err)
	}

	var bank MediaBank
	if err := json.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parsing media bank %s: %w", path, err)
	}
	return bank, nil
}

// Validate checks the bank and returns every problem found.
func (b MediaBank) Validate() ValidationErrors {
	var errs ValidationErrors
	for i, entry := range b {
		field := fmt.Sprintf("bank[%d]", i)
		if entry.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "name is required"})
		}
		if entry.Path == "" {
			errs = append(errs, ValidationError{Field: field + ".path", Message: "path is required"})
		}
		if entry.Type != BankTypeImages && entry.Type != BankTypeVideos {
			errs = append(errs, ValidationError{Field: field + ".type", Message: fmt.Sprintf("must be %q or %q, got %q", BankTypeImages, BankTypeVideos, entry.Type)})
		}
	}
	return errs
}

// Select resolves bank_selections indices to entries, skipping out-of-range
// indices.
func (b MediaBank) Select(indices []int) []MediaBankEntry {
	var out []MediaBankEntry
	for _, i := range indices {
		if i >= 0 && i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}
