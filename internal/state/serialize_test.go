package state

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	entries := []Entry{
		Builder("/proj/default.gup", mtime),
		File("input.txt", mtime, []byte{1, 2, 3}),
		Always(),
		NeverCreated("maybe.txt"),
		Checksum([]byte("deadbeef")),
	}

	var buf bytes.Buffer
	if err := WriteRecord(&buf, entries); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := ReadRecord(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a terminated record")
	}
	if len(rec.Entries) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(rec.Entries), len(entries))
	}

	b, ok := rec.Builder()
	if !ok || b.Path != "/proj/default.gup" || !b.Mtime.Equal(mtime) {
		t.Errorf("builder entry round-tripped wrong: %+v", b)
	}

	sum, ok := rec.ChecksumDeclaration()
	if !ok || string(sum) != "deadbeef" {
		t.Errorf("checksum declaration round-tripped wrong: %q", sum)
	}

	file := rec.Entries[1]
	if file.Kind != KindFile || file.Path != "input.txt" || !bytes.Equal(file.Checksum, []byte{1, 2, 3}) {
		t.Errorf("file entry round-tripped wrong: %+v", file)
	}
}

func TestReadRecordUnterminatedIsNotAnError(t *testing.T) {
	r := strings.NewReader("builder\t/proj/x.gup\t123\n")
	rec, ok, err := ReadRecord(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok || rec != nil {
		t.Error("expected ok=false, rec=nil for an unterminated record")
	}
}

func TestReadRecordEmptyIsUnterminated(t *testing.T) {
	_, ok, err := ReadRecord(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for an empty file")
	}
}

func TestReadRecordCorruptLineIsNotAnError(t *testing.T) {
	r := strings.NewReader("builder\t/proj/x.gup\tnot-a-number\n.\n")
	_, ok, err := ReadRecord(r)
	if err != nil {
		t.Fatalf("expected no hard error for a corrupt line, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for a corrupt entry line")
	}
}
