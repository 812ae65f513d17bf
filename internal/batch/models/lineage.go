package models

import (
	"time"

	id "custodia/pkg/domain"
)

// RelationKind distinguishes the two lineage-producing operations.
type RelationKind string

const (
	RelationSplit RelationKind = "SPLIT"
	RelationMerge RelationKind = "MERGE"
)

// LineageRelationship is one immutable provenance edge set: a split has a
// single parent and several children, a merge several parents and a single
// child. Relationships are only ever appended, never edited.
type LineageRelationship struct {
	Kind       RelationKind `json:"kind"`
	Parents    []id.BatchID `json:"parents"`
	Children   []id.BatchID `json:"children"`
	Actor      id.ActorID   `json:"actor"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Touches reports whether the batch appears on either side of the edge.
func (r *LineageRelationship) Touches(batchID id.BatchID) bool {
	for _, p := range r.Parents {
		if p == batchID {
			return true
		}
	}
	for _, c := range r.Children {
		if c == batchID {
			return true
		}
	}
	return false
}

// IsParentOf reports whether parent directly precedes child on this edge.
func (r *LineageRelationship) IsParentOf(parent, child id.BatchID) bool {
	var hasParent, hasChild bool
	for _, p := range r.Parents {
		if p == parent {
			hasParent = true
		}
	}
	for _, c := range r.Children {
		if c == child {
			hasChild = true
		}
	}
	return hasParent && hasChild
}
