// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

import "encoding/json"

// RenameRef names a preferred version that supersedes the one carrying it.
// It is persisted as a two-element JSON array [name, version].
type RenameRef struct {
	Name    string
	Version string
}

// MarshalJSON encodes the pair as a two-element array.
func (r RenameRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.Name, r.Version})
}

// UnmarshalJSON decodes a two-element array.
func (r *RenameRef) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	r.Name, r.Version = pair[0], pair[1]
	return nil
}

// Aux is the optional per-version record overriding default storage
// addressing. Fields are evaluated in declaration order: a rename_to wins
// over a url, which wins over hname/hversion overrides, which win over a
// backend-level version override.
type Aux struct {
	RenameTo *RenameRef `json:"rename_to,omitempty"`
	URL      string     `json:"url,omitempty"`
	HName    string     `json:"hname,omitempty"`
	HVersion string     `json:"hversion,omitempty"`
	Version  string     `json:"version,omitempty"`
}

// IsZero reports whether the record carries no overrides.
func (a *Aux) IsZero() bool {
	return a == nil || (a.RenameTo == nil && a.URL == "" &&
		a.HName == "" && a.HVersion == "" && a.Version == "")
}
