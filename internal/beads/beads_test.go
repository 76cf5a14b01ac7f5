package beads

import "testing"

func TestListStatusFailsOpenWithNoBeadsDirectory(t *testing.T) {
	b := New(t.TempDir())
	statuses, err := b.ListStatus([]string{"gt-1", "gt-2"})
	if err != nil {
		t.Fatalf("ListStatus: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses without a .beads directory, got %+v", statuses)
	}
}

func TestListStatusEmptyIDs(t *testing.T) {
	b := New(t.TempDir())
	statuses, err := b.ListStatus(nil)
	if err != nil {
		t.Fatalf("ListStatus: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("expected empty map, got %+v", statuses)
	}
}

func TestStaticTrackerListStatus(t *testing.T) {
	tracker := StaticTracker{Statuses: map[string]Status{
		"gt-1": StatusClosed,
		"gt-2": StatusOpen,
	}}

	got, err := tracker.ListStatus([]string{"gt-1", "gt-2", "gt-3"})
	if err != nil {
		t.Fatalf("ListStatus: %v", err)
	}
	if got["gt-1"] != StatusClosed {
		t.Errorf("gt-1 = %s, want closed", got["gt-1"])
	}
	if got["gt-2"] != StatusOpen {
		t.Errorf("gt-2 = %s, want open", got["gt-2"])
	}
	if _, ok := got["gt-3"]; ok {
		t.Errorf("expected gt-3 absent, got %v", got["gt-3"])
	}
}
