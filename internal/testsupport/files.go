package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// RunDirOptions describes a synthetic run directory.
type RunDirOptions struct {
	Instrument      string
	SoftwareName    string
	SoftwareVersion string
	// Cycles lists data reads; Index lists index reads appended after them.
	Cycles   []int
	Index    []int
	Finished bool
	// Incomplete omits the BaseCalls and InterOp directories.
	Incomplete bool
}

// DefaultRunDir is a finished paired-end MiSeq run with one index read.
func DefaultRunDir() RunDirOptions {
	return RunDirOptions{
		Instrument:      "M00123",
		SoftwareName:    "MiSeq Control Software",
		SoftwareVersion: "2.6.2.1",
		Cycles:          []int{151, 151},
		Index:           []int{8},
		Finished:        true,
	}
}

// WriteRunDir lays out a run directory named name under root and returns its path.
func WriteRunDir(t testing.TB, root, name string, opts RunDirOptions) string {
	t.Helper()

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}

	var reads strings.Builder
	number := 1
	for _, c := range opts.Cycles {
		fmt.Fprintf(&reads, "      <Read Number=\"%d\" NumCycles=\"%d\" IsIndexedRead=\"N\" />\n", number, c)
		number++
	}
	for _, c := range opts.Index {
		fmt.Fprintf(&reads, "      <Read Number=\"%d\" NumCycles=\"%d\" IsIndexedRead=\"Y\" />\n", number, c)
		number++
	}
	runInfo := fmt.Sprintf(`<?xml version="1.0"?>
<RunInfo Version="2">
  <Run Id="%s" Number="1">
    <Flowcell>000000000-ABCDE</Flowcell>
    <Instrument>%s</Instrument>
    <Date>200101</Date>
    <Reads>
%s    </Reads>
  </Run>
</RunInfo>
`, name, opts.Instrument, reads.String())
	writeText(t, filepath.Join(dir, "RunInfo.xml"), runInfo)

	params := fmt.Sprintf(`<?xml version="1.0"?>
<RunParameters>
  <Setup>
    <ApplicationName>%s</ApplicationName>
    <ApplicationVersion>%s</ApplicationVersion>
  </Setup>
</RunParameters>
`, opts.SoftwareName, opts.SoftwareVersion)
	writeText(t, filepath.Join(dir, "runParameters.xml"), params)

	if !opts.Incomplete {
		WriteFile(t, filepath.Join(dir, "Data", "Intensities", "BaseCalls", "L001", "s_1_1101.bcl"), 4096)
		WriteFile(t, filepath.Join(dir, "InterOp", "ErrorMetricsOut.bin"), 128)
	}
	if opts.Finished {
		writeText(t, filepath.Join(dir, "RTAComplete.txt"), "RTA complete\n")
	}
	return dir
}

// MarkFinished drops the acquisition completion marker into dir.
func MarkFinished(t testing.TB, dir string) {
	t.Helper()
	writeText(t, filepath.Join(dir, "RTAComplete.txt"), "RTA complete\n")
}

func writeText(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
