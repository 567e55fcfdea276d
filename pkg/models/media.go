package models

import "time"

// MediaAsset is one successfully fetched media file tied to a place.
type MediaAsset struct {
	ID          int64     `json:"id"`
	PlaceID     int64     `json:"place_id"`
	SourceURL   string    `json:"source_url"`
	StorageKey  string    `json:"storage_key"`
	ContentType string    `json:"content_type"`
	Bytes       int64     `json:"bytes"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// EmbeddingVector is one vector produced for a (place_id, keyword_ordinal) pair.
type EmbeddingVector struct {
	PlaceID        int64     `json:"place_id"`
	KeywordOrdinal int       `json:"keyword_ordinal"`
	Keyword        string    `json:"keyword"`
	Vector         []float32 `json:"vector"`
	CreatedAt      time.Time `json:"created_at"`
}
