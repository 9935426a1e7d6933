package state

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	tokBuilder    = "builder"
	tokFile       = "file"
	tokAlways     = "always"
	tokIfCreate   = "ifcreate"
	tokChecksum   = "checksum"
	terminator    = "."
	noChecksumTok = "-"
)

// encodeEntry renders one Entry as a single tab-separated line, matching
// spec §6.3: "first token identifies entry kind."
func encodeEntry(e Entry) string {
	var b strings.Builder
	switch e.Kind {
	case KindBuilder:
		fmt.Fprintf(&b, "%s\t%s\t%d", tokBuilder, e.Path, e.Mtime.UnixNano())
	case KindFile:
		fmt.Fprintf(&b, "%s\t%s\t%d\t%s", tokFile, e.Path, e.Mtime.UnixNano(), encodeChecksum(e.Checksum))
	case KindAlways:
		b.WriteString(tokAlways)
	case KindNeverCreated:
		fmt.Fprintf(&b, "%s\t%s", tokIfCreate, e.Path)
	case KindChecksum:
		fmt.Fprintf(&b, "%s\t%s", tokChecksum, encodeChecksum(e.Checksum))
	}
	return b.String()
}

func encodeChecksum(sum []byte) string {
	if sum == nil {
		return noChecksumTok
	}
	return base64.StdEncoding.EncodeToString(sum)
}

func decodeChecksum(tok string) []byte {
	if tok == noChecksumTok || tok == "" {
		return nil
	}
	sum, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return nil
	}
	return sum
}

func parseEntry(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	switch fields[0] {
	case tokBuilder:
		if len(fields) != 3 {
			return Entry{}, fmt.Errorf("malformed builder entry: %q", line)
		}
		nanos, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Entry{}, err
		}
		return Builder(fields[1], time.Unix(0, nanos)), nil
	case tokFile:
		if len(fields) != 4 {
			return Entry{}, fmt.Errorf("malformed file entry: %q", line)
		}
		nanos, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Entry{}, err
		}
		return File(fields[1], time.Unix(0, nanos), decodeChecksum(fields[3])), nil
	case tokAlways:
		return Always(), nil
	case tokIfCreate:
		if len(fields) != 2 {
			return Entry{}, fmt.Errorf("malformed ifcreate entry: %q", line)
		}
		return NeverCreated(fields[1]), nil
	case tokChecksum:
		if len(fields) != 2 {
			return Entry{}, fmt.Errorf("malformed checksum entry: %q", line)
		}
		return Checksum(decodeChecksum(fields[1])), nil
	default:
		return Entry{}, fmt.Errorf("unknown entry kind %q", fields[0])
	}
}

// WriteRecord writes entries followed by the terminator line. Callers are
// responsible for writing to a temp file and renaming atomically into
// place (spec §3.4).
func WriteRecord(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintln(bw, encodeEntry(e)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(bw, terminator); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadRecord parses a state file's contents. ok is false if the file has
// no terminator line: per spec §3.2, "a state file is valid only if it has
// a terminator line... a partially written state file is treated as
// absent" — never an error (spec §7 "Corrupt state").
func ReadRecord(r io.Reader) (rec *Record, ok bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var entries []Entry
	terminated := false

	for scanner.Scan() {
		line := scanner.Text()
		if line == terminator {
			terminated = true
			break
		}
		e, perr := parseEntry(line)
		if perr != nil {
			// A corrupt (non-terminator, unparsable) line also means the
			// record is dirty rather than a hard error.
			return nil, false, nil
		}
		entries = append(entries, e)
	}
	if serr := scanner.Err(); serr != nil {
		return nil, false, serr
	}
	if !terminated {
		return nil, false, nil
	}
	return &Record{Entries: entries}, true, nil
}
