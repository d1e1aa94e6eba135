package pinoq

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

func TestReaddirOrderIdempotent(t *testing.T) {
	v := newTestVolume(t, 2, 512)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, _, err := v.Create(disk.RootInode, name, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	first, err := v.ReadDir(disk.RootInode)
	if err != nil {
		t.Fatal(err)
	}
	checkEntries(t, v, disk.RootInode, ".", "..", "charlie", "alpha", "bravo")

	for i := 0; i < 3; i++ {
		again, err := v.ReadDir(disk.RootInode)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("readdir not stable:\n\t%v\n\t%v", first, again)
		}
	}
}

func TestRemoveLeavesTombstone(t *testing.T) {
	v := newTestVolume(t, 1, 512)

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := v.Create(disk.RootInode, name, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := v.Unlink(disk.RootInode, "b"); err != nil {
		t.Fatal(err)
	}

	// The tombstone is invisible but later records still scan.
	checkEntries(t, v, disk.RootInode, ".", "..", "a", "c")
	if _, _, err := v.Lookup(disk.RootInode, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Reinsertion appends rather than compacting.
	if _, _, err := v.Create(disk.RootInode, "b", 0o644); err != nil {
		t.Fatal(err)
	}
	checkEntries(t, v, disk.RootInode, ".", "..", "a", "c", "b")
}

func TestDirectoryGrowsAcrossBlocks(t *testing.T) {
	v := newTestVolume(t, 2, 2048)

	// Enough entries to spill past the first directory block.
	count := disk.BlockSize / 16
	want := []string{".", ".."}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("entry-%04d", i)
		if _, _, err := v.Create(disk.RootInode, name, 0o644); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		want = append(want, name)
	}

	root, err := v.GetAttr(disk.RootInode)
	if err != nil {
		t.Fatal(err)
	}
	if root.Size <= disk.BlockSize {
		t.Fatalf("directory did not grow: size %d", root.Size)
	}
	checkEntries(t, v, disk.RootInode, want...)

	// Entries in the spilled block are still reachable by name.
	last := want[len(want)-1]
	if _, _, err := v.Lookup(disk.RootInode, last); err != nil {
		t.Fatalf("lookup %s: %v", last, err)
	}
}

func TestDirInsertRejectsBadNames(t *testing.T) {
	v := newTestVolume(t, 1, 512)

	for _, name := range []string{"", "a/b", string(make([]byte, disk.MaxNameLen+1))} {
		if _, _, err := v.Create(disk.RootInode, name, 0o644); !errors.Is(err, ErrInvalidArg) {
			t.Errorf("create %q: expected invalid argument, got %v", name, err)
		}
	}
}
