// Package task defines the closed set of operations a caller can ask the tile cache worker
// to perform, and the one-shot completion rules every operation follows.
//
// A task is built with its parameters and callbacks, handed to the worker, executed on the
// worker goroutine and then released. Callbacks run on the worker goroutine. Done is closed
// after the last callback, so a caller blocked on Done may read whatever its callbacks wrote.
package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind discriminates task variants.
type Kind int

const (
	KindInit Kind = iota
	KindCacheTile
	KindFetchTile
	KindFetchTileSets
	KindCreateTileSet
	KindGetTileDownloadList
	KindUpdateTileDownloadState
	KindDeleteTileSet
	KindPruneCache
	KindReset
)

var kindNames = [...]string{
	"init",
	"cacheTile",
	"fetchTile",
	"fetchTileSets",
	"createTileSet",
	"getTileDownloadList",
	"updateTileDownloadState",
	"deleteTileSet",
	"pruneCache",
	"reset",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrorFunc receives the single failure notification of a task.
type ErrorFunc func(kind Kind, message string)

// Task is implemented only by the variants of this package.
type Task interface {
	ID() uuid.UUID
	Kind() Kind
	// Fail reports the terminal error. It may be called at most once and never after a
	// single-shot success.
	Fail(message string)
	Failed() bool
	// Done is closed once the worker has released the task.
	Done() <-chan struct{}
	// Accept calls the Visitor method matching the concrete variant.
	Accept(v Visitor)
	// Release is called by the worker when it is finished with the task.
	Release()

	sealed()
}

// Visitor has one method per variant. Adding a variant breaks every Visitor until it
// handles the new kind.
type Visitor interface {
	VisitInit(t *InitTask)
	VisitSaveTile(t *SaveTileTask)
	VisitFetchTile(t *FetchTileTask)
	VisitFetchTileSets(t *FetchTileSetsTask)
	VisitCreateTileSet(t *CreateTileSetTask)
	VisitGetTileDownloadList(t *GetTileDownloadListTask)
	VisitUpdateTileDownloadState(t *UpdateTileDownloadStateTask)
	VisitDeleteTileSet(t *DeleteTileSetTask)
	VisitPruneCache(t *PruneCacheTask)
	VisitReset(t *ResetTask)
}

// ProtocolError is the panic value raised when a task is completed twice or succeeds
// after failing.
type ProtocolError struct {
	TaskID uuid.UUID
	Kind   Kind
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("task %s (%s): protocol violation: %s", e.TaskID, e.Kind, e.Reason)
}

const (
	stateOpen int32 = iota
	stateSucceeded
	stateFailed
)

type base struct {
	id      uuid.UUID
	kind    Kind
	onError ErrorFunc
	state   atomic.Int32

	done        chan struct{}
	releaseOnce sync.Once
}

func newBase(kind Kind, onError ErrorFunc) base {
	return base{
		id:      uuid.New(),
		kind:    kind,
		onError: onError,
		done:    make(chan struct{}),
	}
}

func (b *base) ID() uuid.UUID { return b.id }

func (b *base) Kind() Kind { return b.kind }

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Failed() bool { return b.state.Load() == stateFailed }

func (b *base) Fail(message string) {
	if !b.state.CompareAndSwap(stateOpen, stateFailed) {
		panic(b.violation("error reported on a completed task"))
	}
	if b.onError != nil {
		b.onError(b.kind, message)
	}
}

func (b *base) Release() {
	b.releaseOnce.Do(func() { close(b.done) })
}

func (b *base) sealed() {}

// succeed moves the task to its terminal success state.
func (b *base) succeed() {
	switch b.state.Load() {
	case stateFailed:
		panic(b.violation("success reported after error"))
	case stateSucceeded:
		panic(b.violation("success reported twice"))
	}
	if !b.state.CompareAndSwap(stateOpen, stateSucceeded) {
		panic(b.violation("concurrent completion"))
	}
}

// progress checks that a repeatable success may still be emitted.
func (b *base) progress() {
	if b.state.Load() == stateFailed {
		panic(b.violation("success reported after error"))
	}
}

func (b *base) violation(reason string) *ProtocolError {
	return &ProtocolError{TaskID: b.id, Kind: b.kind, Reason: reason}
}
