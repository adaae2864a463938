package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"dynacraft.ai/internal/sim/world"
)

// Entry is one decoded journal line. Exactly one field is set.
type Entry struct {
	Seat   *world.SeatEntry   `json:"seat,omitempty"`
	Region *world.RegionEntry `json:"region,omitempty"`
}

func (e Entry) Tick() uint64 {
	if e.Seat != nil {
		return e.Seat.Tick
	}
	if e.Region != nil {
		return e.Region.Tick
	}
	return 0
}

// JournalFiles lists the journal files of a world directory, oldest first.
func JournalFiles(worldDir string) ([]string, error) {
	dir := filepath.Join(worldDir, "journal")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "journal-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJournal calls fn for every entry of a world's journal in file order.
// An error returned by fn stops the walk and is returned unchanged.
func ReadJournal(worldDir string, fn func(Entry) error) error {
	files, err := JournalFiles(worldDir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		e, err := decodeEntry(sc.Bytes())
		if err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Region lines are the only ones carrying a chunk.
func decodeEntry(line []byte) (Entry, error) {
	if bytes.Contains(line, []byte(`"chunk"`)) {
		var r world.RegionEntry
		if err := json.Unmarshal(line, &r); err != nil {
			return Entry{}, err
		}
		return Entry{Region: &r}, nil
	}
	var s world.SeatEntry
	if err := json.Unmarshal(line, &s); err != nil {
		return Entry{}, err
	}
	return Entry{Seat: &s}, nil
}
