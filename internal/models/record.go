// Package models provides data model definitions for the studiovault engine.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// CollectionType distinguishes append-only history logs from curated favorites.
type CollectionType string

const (
	CollectionHistory  CollectionType = "history"
	CollectionFavorite CollectionType = "favorite"
)

// Valid reports whether t is a known collection type.
func (t CollectionType) Valid() bool {
	return t == CollectionHistory || t == CollectionFavorite
}

// SyncStatus indicates whether a record is confirmed persisted remotely.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// AssetRefs holds remote blob paths for a record's images.
// An empty string means the asset is absent.
type AssetRefs struct {
	Main      string   `json:"main,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Variants  []string `json:"variants,omitempty"`
}

// Paths returns every non-empty blob path.
func (a AssetRefs) Paths() []string {
	var paths []string
	if a.Main != "" {
		paths = append(paths, a.Main)
	}
	if a.Thumbnail != "" {
		paths = append(paths, a.Thumbnail)
	}
	for _, v := range a.Variants {
		if v != "" {
			paths = append(paths, v)
		}
	}
	return paths
}

// AssetFailure records an auxiliary asset that could not be uploaded.
type AssetFailure struct {
	Asset string `json:"asset"` // "thumbnail" or "variant-N"
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Record is one generated-content entry in a collection.
type Record struct {
	ID               string          `json:"id"`
	CreatedAt        int64           `json:"created_at"` // unix milliseconds
	UpdatedAt        int64           `json:"updated_at"`
	CollectionType   CollectionType  `json:"collection_type"`
	CollectionKey    string          `json:"collection_key,omitempty"`
	OwnerID          string          `json:"owner_id,omitempty"`
	DisplayText      string          `json:"display_text"`
	GenerationParams json.RawMessage `json:"generation_params,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	VariantCount     int             `json:"variant_count"`
	Tags             []string        `json:"tags,omitempty"`
	Folder           string          `json:"folder,omitempty"`
	AssetRefs        AssetRefs       `json:"asset_refs"`
	SyncStatus       SyncStatus      `json:"sync_status"`
	UploadFailures   []AssetFailure  `json:"upload_failures,omitempty"`
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Record) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now.UnixMilli()
}

// Clone returns a deep copy so callers cannot mutate collection state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.GenerationParams != nil {
		c.GenerationParams = append(json.RawMessage(nil), r.GenerationParams...)
	}
	if r.Seed != nil {
		seed := *r.Seed
		c.Seed = &seed
	}
	c.Tags = append([]string(nil), r.Tags...)
	c.AssetRefs.Variants = append([]string(nil), r.AssetRefs.Variants...)
	c.UploadFailures = append([]AssetFailure(nil), r.UploadFailures...)
	return &c
}

// HasTag reports whether the record carries tag (case-insensitive).
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Matches reports whether query appears in the display text, tags or folder.
func (r *Record) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.DisplayText), q) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Folder), q) {
		return true
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// RecordInput carries caller-supplied metadata for a new record.
type RecordInput struct {
	DisplayText      string
	GenerationParams json.RawMessage
	Seed             *int64
	VariantCount     int
	Tags             []string
	Folder           string
}

// RecordPatch is a partial update for a favorite. Nil fields are left unchanged.
type RecordPatch struct {
	DisplayText      *string         `json:"display_text,omitempty"`
	Tags             *[]string       `json:"tags,omitempty"`
	Folder           *string         `json:"folder,omitempty"`
	GenerationParams json.RawMessage `json:"generation_params,omitempty"`
	UpdatedAt        int64           `json:"updated_at,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p RecordPatch) IsEmpty() bool {
	return p.DisplayText == nil && p.Tags == nil && p.Folder == nil && p.GenerationParams == nil
}

// Apply writes the patch onto r.
func (p RecordPatch) Apply(r *Record) {
	if p.DisplayText != nil {
		r.DisplayText = *p.DisplayText
	}
	if p.Tags != nil {
		r.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Folder != nil {
		r.Folder = *p.Folder
	}
	if p.GenerationParams != nil {
		r.GenerationParams = append(json.RawMessage(nil), p.GenerationParams...)
	}
	if p.UpdatedAt > r.UpdatedAt {
		r.UpdatedAt = p.UpdatedAt
	}
}
