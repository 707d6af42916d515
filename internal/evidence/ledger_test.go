package evidence

import "testing"

func TestAppendAndLen(t *testing.T) {
	l := NewLedger()
	if l.Len() != 0 {
		t.Fatalf("new ledger len = %d", l.Len())
	}
	l.Append(KindFile, "src/main.go", "tool:list_files")
	l.Append(KindCount, "files=3", "tool:list_files")
	if l.Len() != 2 {
		t.Errorf("len = %d, want 2", l.Len())
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := NewLedger()
	l.Append(KindFile, "a.go", "tool:list_files")
	entries := l.Entries()
	entries[0].Fact = "mutated"
	if l.Entries()[0].Fact != "a.go" {
		t.Error("ledger entry mutated through returned slice")
	}
}

func TestHasFileExact(t *testing.T) {
	l := NewLedger()
	l.Append(KindFile, "src/server/main.go", "tool:list_files")

	if !l.HasFile("src/server/main.go") {
		t.Error("exact path not matched")
	}
	if !l.HasFile("server/main.go") {
		t.Error("suffix path not matched")
	}
	if !l.HasFile("main.go") {
		t.Error("bare filename not matched")
	}
	if l.HasFile("other.go") {
		t.Error("unlisted file matched")
	}
	if l.HasFile("src/other/main.go") {
		t.Error("different directory with same base matched as path")
	}
}

func TestHasFileIgnoresOtherKinds(t *testing.T) {
	l := NewLedger()
	l.Append(KindText, "notes.txt", "tool:read_file")
	if l.HasFile("notes.txt") {
		t.Error("non-file entry satisfied a file claim")
	}
}

func TestHasFact(t *testing.T) {
	l := NewLedger()
	l.Append(KindDate, "2026-08-28", "truth_packet:time")
	if !l.HasFact(KindDate, "2026-08-28") {
		t.Error("recorded fact not found")
	}
	if l.HasFact(KindDate, "2026-08-27") {
		t.Error("absent fact reported present")
	}
}

func TestSourcesDeduplicated(t *testing.T) {
	l := NewLedger()
	l.Append(KindFile, "a.go", "tool:list_files")
	l.Append(KindFile, "b.go", "tool:list_files")
	l.Append(KindDate, "2026-08-28", "truth_packet:time")

	src := l.Sources()
	if len(src) != 2 {
		t.Fatalf("sources = %v, want 2 distinct", src)
	}
	if src[0] != "tool:list_files" || src[1] != "truth_packet:time" {
		t.Errorf("sources order = %v", src)
	}
}
