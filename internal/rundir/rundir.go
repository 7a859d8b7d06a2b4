package rundir

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	RunInfoFile = "RunInfo.xml"

	// CompletionMarker is written by the instrument when acquisition ends.
	CompletionMarker = "RTAComplete.txt"
	// CopyCompleteMarker is written by newer instruments after the local
	// output copy finishes; either marker counts as finished.
	CopyCompleteMarker = "CopyComplete.txt"
)

var runParameterNames = []string{"RunParameters.xml", "runParameters.xml"}

// requiredEntries are relative paths every complete run directory carries,
// besides the run parameters file which has two accepted spellings.
var requiredEntries = []string{
	RunInfoFile,
	filepath.Join("Data", "Intensities", "BaseCalls"),
	"InterOp",
}

// NamePattern matches run directory names: a six digit date prefix and an
// underscore (for example 200101_M00123_0001_000000000-ABCDE).
var NamePattern = regexp.MustCompile(`^\d{6}_`)

// IsRunName reports whether name looks like a run directory.
func IsRunName(name string) bool {
	return NamePattern.MatchString(name)
}

// Read is one read segment of a run.
type Read struct {
	Number    int
	NumCycles int
	Indexed   bool
}

// Metadata captures the instrument-reported attributes of a run.
type Metadata struct {
	RunID           string
	Instrument      string
	SoftwareName    string
	SoftwareVersion string
	Reads           []Read
}

// ControlSoftware returns the control software name and version as one string,
// for example "MiSeq Control Software 2.6.2.1".
func (m Metadata) ControlSoftware() string {
	return strings.TrimSpace(m.SoftwareName + " " + m.SoftwareVersion)
}

// DataReads returns the non-index reads in order.
func (m Metadata) DataReads() []Read {
	var reads []Read
	for _, r := range m.Reads {
		if !r.Indexed {
			reads = append(reads, r)
		}
	}
	return reads
}

// PairedEnd reports whether the run has two or more data reads.
func (m Metadata) PairedEnd() bool {
	return len(m.DataReads()) >= 2
}

// Read1Cycles returns the cycle count of the first data read, or 0.
func (m Metadata) Read1Cycles() int {
	reads := m.DataReads()
	if len(reads) < 1 {
		return 0
	}
	return reads[0].NumCycles
}

// Read2Cycles returns the cycle count of the second data read, or 0.
func (m Metadata) Read2Cycles() int {
	reads := m.DataReads()
	if len(reads) < 2 {
		return 0
	}
	return reads[1].NumCycles
}

// HasIndexRead reports whether any read is an index read.
func (m Metadata) HasIndexRead() bool {
	for _, r := range m.Reads {
		if r.Indexed {
			return true
		}
	}
	return false
}

// CycleList returns the cycle count of every read in order.
func (m Metadata) CycleList() []int {
	cycles := make([]int, 0, len(m.Reads))
	for _, r := range m.Reads {
		cycles = append(cycles, r.NumCycles)
	}
	return cycles
}

// Reader answers evidence questions about run directories on local disk.
type Reader struct{}

// NewReader returns a filesystem-backed evidence reader.
func NewReader() *Reader {
	return &Reader{}
}

// IsFinished reports whether acquisition into the run directory has completed.
func (r *Reader) IsFinished(path string) bool {
	return exists(filepath.Join(path, CompletionMarker)) || exists(filepath.Join(path, CopyCompleteMarker))
}

// IsRunDir reports whether path has the layout of a run directory.
func (r *Reader) IsRunDir(path string) bool {
	return exists(filepath.Join(path, RunInfoFile))
}

// MissingFiles lists the required entries absent from the run directory.
// An empty result means the directory validates.
func (r *Reader) MissingFiles(path string) []string {
	var missing []string
	for _, rel := range requiredEntries {
		if !exists(filepath.Join(path, rel)) {
			missing = append(missing, rel)
		}
	}
	if _, err := findRunParameters(path); err != nil {
		missing = append(missing, runParameterNames[0])
	}
	return missing
}

// Inspect parses RunInfo.xml and the run parameters file. The run parameters
// file is optional; without it the software fields are empty.
func (r *Reader) Inspect(path string) (Metadata, error) {
	meta, err := parseRunInfo(filepath.Join(path, RunInfoFile))
	if err != nil {
		return Metadata{}, err
	}
	paramsPath, err := findRunParameters(path)
	if err != nil {
		return meta, nil
	}
	name, version, err := parseRunParameters(paramsPath)
	if err != nil {
		return meta, err
	}
	meta.SoftwareName = name
	meta.SoftwareVersion = version
	return meta, nil
}

// DiskUsage returns the total size in bytes of regular files under path.
func (r *Reader) DiskUsage(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return total, nil
}

type runInfoXML struct {
	Run struct {
		ID         string `xml:"Id,attr"`
		Instrument string `xml:"Instrument"`
		Reads      struct {
			Read []struct {
				Number        string `xml:"Number,attr"`
				NumCycles     string `xml:"NumCycles,attr"`
				IsIndexedRead string `xml:"IsIndexedRead,attr"`
			} `xml:"Read"`
		} `xml:"Reads"`
	} `xml:"Run"`
}

type runParametersXML struct {
	ApplicationName    string `xml:"ApplicationName"`
	ApplicationVersion string `xml:"ApplicationVersion"`
	Setup              struct {
		ApplicationName    string `xml:"ApplicationName"`
		ApplicationVersion string `xml:"ApplicationVersion"`
	} `xml:"Setup"`
}

func parseRunInfo(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read run info: %w", err)
	}
	var doc runInfoXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("parse run info %s: %w", path, err)
	}

	meta := Metadata{
		RunID:      strings.TrimSpace(doc.Run.ID),
		Instrument: strings.TrimSpace(doc.Run.Instrument),
	}
	for i, raw := range doc.Run.Reads.Read {
		read := Read{Number: i + 1}
		if n, err := strconv.Atoi(strings.TrimSpace(raw.Number)); err == nil {
			read.Number = n
		}
		cycles, err := strconv.Atoi(strings.TrimSpace(raw.NumCycles))
		if err != nil {
			return Metadata{}, fmt.Errorf("parse run info %s: read %d cycles %q", path, read.Number, raw.NumCycles)
		}
		read.NumCycles = cycles
		read.Indexed = strings.EqualFold(strings.TrimSpace(raw.IsIndexedRead), "Y")
		meta.Reads = append(meta.Reads, read)
	}
	return meta, nil
}

func parseRunParameters(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read run parameters: %w", err)
	}
	var doc runParametersXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", "", fmt.Errorf("parse run parameters %s: %w", path, err)
	}
	name := firstNonEmpty(doc.Setup.ApplicationName, doc.ApplicationName)
	version := firstNonEmpty(doc.Setup.ApplicationVersion, doc.ApplicationVersion)
	return name, version, nil
}

func findRunParameters(dir string) (string, error) {
	for _, name := range runParameterNames {
		candidate := filepath.Join(dir, name)
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", errors.New("run parameters not found")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
