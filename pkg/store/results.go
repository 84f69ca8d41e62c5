// ABOUTME: Outcome types reported by store operations
// ABOUTME: Logical misses and add-conflicts are values, never errors

package store

// AddOutcome classifies the result of Add.
type AddOutcome int

const (
	// Created means the key was absent and has been inserted.
	Created AddOutcome = iota
	// AlreadyExists means the key was present; the stored value is unchanged.
	AlreadyExists
)

func (o AddOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Outcome classifies the result of the update operations.
type Outcome int

const (
	// ItemUpdated means a new value was committed.
	ItemUpdated Outcome = iota
	// NotUpdated means the update function declined; the value is unchanged.
	NotUpdated
	// NoSuchItem means the key was absent. Not an error.
	NoSuchItem
)

func (o Outcome) String() string {
	switch o {
	case ItemUpdated:
		return "updated"
	case NotUpdated:
		return "not_updated"
	case NoSuchItem:
		return "no_such_item"
	}
	return "unknown"
}

// UpdateResult carries an update's outcome together with the relevant value:
// the new value for ItemUpdated, the unchanged value for NotUpdated, and the
// zero value for NoSuchItem.
type UpdateResult[V any] struct {
	Outcome Outcome
	Value   V
}

// Entry is one key-value pair from a snapshot read.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}
