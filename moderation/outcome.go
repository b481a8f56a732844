package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ActionState is the result of a platform action against one member.
type ActionState int

const (
	Success ActionState = iota
	PermissionDenied
	NotFound
	Failed
)

func (s ActionState) String() string {
	switch s {
	case Success:
		return "success"
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "not found"
	default:
		return "failed"
	}
}

// StateOf classifies a platform error.
func StateOf(err error) ActionState {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrPermissionDenied):
		return PermissionDenied
	case errors.Is(err, ErrNotFound):
		return NotFound
	default:
		return Failed
	}
}

// Outcome is the per-member result of a moderation action.
type Outcome struct {
	MemberID int64
	State    ActionState
	Err      error
}

// Line renders the outcome for the moderator who requested the action.
func (o Outcome) Line() string {
	switch o.State {
	case Success:
		return fmt.Sprintf("✅ <@%d>: done.", o.MemberID)
	case PermissionDenied:
		return fmt.Sprintf("❌ <@%d>: I don't have permission to do that.", o.MemberID)
	case NotFound:
		return fmt.Sprintf("❌ <@%d>: member not found.", o.MemberID)
	default:
		return fmt.Sprintf("❌ <@%d>: unexpected error: %v", o.MemberID, o.Err)
	}
}

// Succeeded returns the members whose action succeeded, in input order.
func Succeeded(outcomes []Outcome) []int64 {
	var ids []int64
	for _, o := range outcomes {
		if o.State == Success {
			ids = append(ids, o.MemberID)
		}
	}
	return ids
}

const dispatchLimit = 10

// dispatch runs fn for every member concurrently and gathers the outcomes in
// input order. A failing or panicking member never affects the others.
func dispatch(ctx context.Context, memberIDs []int64, fn func(ctx context.Context, memberID int64) error) []Outcome {
	outcomes := make([]Outcome, len(memberIDs))
	var wg sync.WaitGroup
	guard := make(chan struct{}, dispatchLimit)

	for i, id := range memberIDs {
		wg.Add(1)
		guard <- struct{}{}

		go func(i int, id int64) {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Outcome{MemberID: id, State: Failed, Err: fmt.Errorf("panic: %v", r)}
				}
				<-guard
				wg.Done()
			}()
			err := fn(ctx, id)
			outcomes[i] = Outcome{MemberID: id, State: StateOf(err), Err: err}
		}(i, id)
	}

	wg.Wait()
	return outcomes
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
