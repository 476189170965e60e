package model

import "time"

// ChangeKind classifies what happened to a port between two snapshots.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// ChangeEvent records one observed port transition. ObservedAt is the
// time of the refresh that noticed the change, not the time the kernel
// state actually changed.
type ChangeEvent struct {
	ObservedAt time.Time     `json:"observed_at"`
	Kind       ChangeKind    `json:"kind"`
	Record     ProcessRecord `json:"process"`
}
