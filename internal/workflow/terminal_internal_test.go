package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/units"

	"autocopy/internal/lims"
	"autocopy/internal/rundir"
	"autocopy/internal/transfer"
)

func sampleMetadata() rundir.Metadata {
	return rundir.Metadata{
		RunID:           "200101_M00123_0001_000000000-ABCDE",
		Instrument:      "M00123",
		SoftwareName:    "MiSeq Control Software",
		SoftwareVersion: "2.6.2.1",
		Reads: []rundir.Read{
			{Number: 1, NumCycles: 151},
			{Number: 2, NumCycles: 8, Indexed: true},
			{Number: 3, NumCycles: 151},
		},
	}
}

func TestNormalizeSoftware(t *testing.T) {
	tests := map[string]string{
		"MiSeq Control Software 2.6.2.1": "miseq_control_software_2_6_2_1",
		"HCS 1.5.15.1":                   "hcs_1_5_15_1",
		"":                               "",
	}
	for in, want := range tests {
		if got := normalizeSoftware(in); got != want {
			t.Errorf("normalizeSoftware(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCrossCheck(t *testing.T) {
	name := "200101_M00123_0001_000000000-ABCDE"
	meta := sampleMetadata()

	if got := crossCheck(name, meta, nil); got != nil {
		t.Fatalf("nil record produced %v", got)
	}

	record := &lims.Record{
		RunName:              name,
		SequencingInstrument: "m00123",
		SequencerSoftware:    "MiSeq_Control_Software_2_6_2_1",
		PairedEnd:            true,
		Read1Cycles:          151,
		Read2Cycles:          151,
		IndexRead:            true,
	}
	if got := crossCheck(name, meta, record); len(got) != 0 {
		t.Fatalf("matching record produced %v", got)
	}

	record.PairedEnd = false
	record.Read1Cycles = 76
	got := crossCheck(name, meta, record)
	if len(got) != 2 {
		t.Fatalf("problems = %v, want 2", got)
	}
	if got[0] != `Mismatched value "Paired end". Value in run directory: "true". Value in LIMS: "false"` {
		t.Fatalf("first problem = %q", got[0])
	}
	if !strings.HasPrefix(got[1], `Mismatched value "Read 1 cycles"`) {
		t.Fatalf("second problem = %q", got[1])
	}
}

func TestCopyCompleteMessageSubject(t *testing.T) {
	run := &Run{Root: "/runs", Name: "200101_X"}
	run.started = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	run.stopped = run.started.Add(2 * time.Hour)
	req := transfer.Request{RunName: run.Name, DestHost: "archive", DestRoot: "/data/runs/"}

	clean := copyCompleteMessage(run, req, "seqhost", completion{metadata: sampleMetadata(), diskUsage: int64(3 * units.TiB)})
	if clean.Subject != "Finished copying run dir 200101_X" {
		t.Fatalf("subject = %q", clean.Subject)
	}
	for _, want := range []string{
		"NEW LOCATION:\t\tarchive:/data/runs/200101_X",
		"Original Location:\tseqhost:/runs/200101_X",
		"Disk usage:\t\t3.0 TB",
		"Copy time:\t\t2h0m0s",
	} {
		if !strings.Contains(clean.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, clean.Body)
		}
	}

	problems := copyCompleteMessage(run, req, "seqhost", completion{discrepancies: []string{"x"}})
	if !strings.HasPrefix(problems.Subject, "Problems found. ") {
		t.Fatalf("subject = %q", problems.Subject)
	}
}

func TestFormatDiskUsage(t *testing.T) {
	if got := formatDiskUsage(int64(512 * units.GiB)); got != "512.0 GB" {
		t.Fatalf("formatDiskUsage = %q", got)
	}
	if got := formatDiskUsage(int64(2*units.TiB + 512*units.GiB)); got != "2.5 TB" {
		t.Fatalf("formatDiskUsage = %q", got)
	}
}
