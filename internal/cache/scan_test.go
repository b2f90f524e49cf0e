package cache

import (
	"context"
	stderrors "errors"
	"slices"
	"testing"
)

// fakeScan serves pages in order; page i is returned for the i-th call and
// points at cursor i+1, the last page points back at 0.
type fakeScan struct {
	pages   [][]string
	cursors []uint64
	err     error
	errAt   int
}

func (f *fakeScan) scan(ctx context.Context, cursor uint64) ([]string, uint64, error) {
	f.cursors = append(f.cursors, cursor)
	i := len(f.cursors) - 1
	if f.err != nil && i == f.errAt {
		return nil, 0, f.err
	}
	next := uint64(i + 1)
	if i == len(f.pages)-1 {
		next = 0
	}
	return f.pages[i], next, nil
}

func collect(t *testing.T, f *fakeScan) []string {
	t.Helper()
	var out []string
	for m, err := range scanMembers(context.Background(), f.scan) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestScanMembers_MultipleBatches(t *testing.T) {
	f := &fakeScan{pages: [][]string{{"a", "b"}, {}, {"c"}, {"d", "e"}}}

	got := collect(t, f)
	if !slices.Equal(got, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("members = %v", got)
	}
	if !slices.Equal(f.cursors, []uint64{0, 1, 2, 3}) {
		t.Errorf("cursors requested = %v", f.cursors)
	}
}

func TestScanMembers_SingleBatch(t *testing.T) {
	f := &fakeScan{pages: [][]string{{"only"}}}
	if got := collect(t, f); !slices.Equal(got, []string{"only"}) {
		t.Errorf("members = %v", got)
	}
	if len(f.cursors) != 1 {
		t.Errorf("expected a single scan call, got %d", len(f.cursors))
	}
}

func TestScanMembers_Empty(t *testing.T) {
	f := &fakeScan{pages: [][]string{nil}}
	if got := collect(t, f); len(got) != 0 {
		t.Errorf("expected no members, got %v", got)
	}
}

func TestScanMembers_DuplicatesPassThrough(t *testing.T) {
	f := &fakeScan{pages: [][]string{{"a", "b"}, {"b", "c"}, {"a"}}}
	if got := collect(t, f); !slices.Equal(got, []string{"a", "b", "b", "c", "a"}) {
		t.Errorf("members = %v", got)
	}
}

func TestScanMembers_Error(t *testing.T) {
	boom := stderrors.New("boom")
	f := &fakeScan{pages: [][]string{{"a"}, {"b"}, {"c"}}, err: boom, errAt: 1}

	var got []string
	var gotErr error
	for m, err := range scanMembers(context.Background(), f.scan) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, m)
	}
	if gotErr != boom {
		t.Fatalf("expected boom, got %v", gotErr)
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("members before error = %v", got)
	}
}

func TestScanMembers_EarlyStop(t *testing.T) {
	f := &fakeScan{pages: [][]string{{"a", "b"}, {"c"}}}
	for m := range scanMembers(context.Background(), f.scan) {
		if m == "a" {
			break
		}
	}
	if len(f.cursors) != 1 {
		t.Errorf("stopping early should not fetch more batches, fetched %d", len(f.cursors))
	}
}

func TestScanMembers_Restartable(t *testing.T) {
	f := &fakeScan{pages: [][]string{{"a"}, {"b"}}}
	seq := scanMembers(context.Background(), f.scan)

	for range seq {
	}
	f.cursors = nil
	var again []string
	for m, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		again = append(again, m)
	}
	if !slices.Equal(again, []string{"a", "b"}) || f.cursors[0] != 0 {
		t.Errorf("second walk = %v from cursors %v, want a fresh walk from 0", again, f.cursors)
	}
}
