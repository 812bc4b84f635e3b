// Package convert runs the section writers that turn one session's metadata
// document into an output container.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
)

// SectionKind names one section writer
type SectionKind int

const (
	SectionStimulus SectionKind = iota
	SectionTrials
	SectionElectrodeTable
	SectionEcephys
	SectionUnits
	SectionBehavior
	SectionProbes
	SectionSubject
	SectionLabMetadata
	SectionAcquisition
)

// WriteOrder is the order sections are written in. Later sections use
// what earlier ones created: the electrode table before every series that
// references it, trials before the units that reference trial intervals.
var WriteOrder = []SectionKind{
	SectionStimulus,
	SectionTrials,
	SectionElectrodeTable,
	SectionEcephys,
	SectionUnits,
	SectionBehavior,
	SectionProbes,
	SectionSubject,
	SectionLabMetadata,
	SectionAcquisition,
}

func (k SectionKind) String() string {
	switch k {
	case SectionStimulus:
		return "Stimulus"
	case SectionTrials:
		return "Trials"
	case SectionElectrodeTable:
		return "ElectrodeTable"
	case SectionEcephys:
		return "Ecephys"
	case SectionUnits:
		return "Units"
	case SectionBehavior:
		return "Behavior"
	case SectionProbes:
		return "Probes"
	case SectionSubject:
		return "Subject"
	case SectionLabMetadata:
		return "LabMetadata"
	case SectionAcquisition:
		return "Acquisition"
	}
	return fmt.Sprintf("SectionKind(%d)", int(k))
}

// Options configure a Converter. Either Document (with Client) or
// Discoverer (with Index) must be set.
type Options struct {
	Document   *metadata.Document
	Client     alyx.Client
	Discoverer *metadata.Discoverer
	Index      int
	OutDir     string
	SaveRaw    bool
	ChunkRows  int
	Metrics    *internal.Metrics
}

// Converter converts one session
type Converter struct {
	doc    *metadata.Document
	opts   Options
	sess   *dataset.SessionContext
	file   *nwb.File
	probes int

	// electrode table state, built once on first use
	electrodes      *nwb.ElectrodeTable
	electrodeRows   []int
	regions         []*nwb.ElectrodeRegion
	allProbes       *nwb.ElectrodeRegion
	electrodeBuilds int

	readers []*dataset.RawReader
	ran     bool
	summary Summary
}

// New prepares the conversion of one session. The probe count is frozen
// here from the document's Probes section.
func New(opts Options) (*Converter, error) {
	doc := opts.Document
	client := opts.Client
	switch {
	case doc != nil:
		if client == nil && opts.Discoverer != nil {
			client = opts.Discoverer.Client()
		}
	case opts.Discoverer != nil:
		d, err := opts.Discoverer.Document(opts.Index)
		if err != nil {
			return nil, err
		}
		doc = d
		client = opts.Discoverer.Client()
	default:
		return nil, &internal.ConfigError{Field: "metadata", Err: internal.ErrNoMetadata}
	}
	if client == nil {
		return nil, &internal.ConfigError{Field: "client", Err: fmt.Errorf("no database client for session %s", doc.EID)}
	}
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = internal.DefaultChunkRows
	}

	start, err := dataset.ParseSessionStart(doc.NWBFile.SessionStartTime)
	if err != nil {
		internal.LogWarn("session %s: %v", doc.EID, err)
	}
	probes := len(doc.Probes)
	c := &Converter{
		doc:    doc,
		opts:   opts,
		probes: probes,
		sess: dataset.NewSessionContext(client, doc.EID, dataset.Options{
			Probes:  probes,
			SaveRaw: opts.SaveRaw,
			Start:   start,
			Metrics: opts.Metrics,
		}),
		file:    newFile(doc, start),
		summary: Summary{EID: doc.EID},
	}
	return c, nil
}

func newFile(doc *metadata.Document, start time.Time) *nwb.File {
	n := doc.NWBFile
	f := nwb.NewFile(n.Identifier, n.SessionDescription, start)
	f.SessionID = n.SessionID
	f.ExperimentDescription = n.ExperimentDescription
	f.Experimenter = n.Experimenter
	f.Keywords = n.Keywords
	f.Institution = n.Institution
	f.Lab = n.Lab
	f.Surgery = n.Surgery
	f.Notes = n.Notes
	return f
}

// Run executes every section writer in WriteOrder. Missing data only omits
// fields; an error means a structural failure in one section.
func (c *Converter) Run(ctx context.Context) error {
	if c.ran {
		return nil
	}
	began := time.Now()
	for _, kind := range WriteOrder {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep := c.summary.section(kind)
		if kind == SectionAcquisition && !c.opts.SaveRaw {
			rep.Skipped = true
			continue
		}
		err := c.writeSection(ctx, kind, rep)
		c.opts.Metrics.ObserveSection(kind.String(), err)
		if err != nil {
			return &internal.SectionError{Section: kind.String(), Err: err}
		}
		internal.LogDebug("%s: %s wrote %d, omitted %d", c.doc.EID, kind, len(rep.Written), len(rep.Omitted))
	}
	c.ran = true
	c.summary.Fetches = c.sess.FetchCount()
	c.summary.Duration = time.Since(began)
	c.opts.Metrics.ObserveConversion(c.summary.Duration)
	return nil
}

func (c *Converter) writeSection(ctx context.Context, kind SectionKind, rep *SectionReport) error {
	switch kind {
	case SectionStimulus:
		return c.writeStimulus(ctx, rep)
	case SectionTrials:
		return c.writeTrials(ctx, rep)
	case SectionElectrodeTable:
		return c.ensureElectrodes(ctx, rep)
	case SectionEcephys:
		return c.writeEcephys(ctx, rep)
	case SectionUnits:
		return c.writeUnits(ctx, rep)
	case SectionBehavior:
		return c.writeBehavior(ctx, rep)
	case SectionProbes:
		return c.writeProbes(rep)
	case SectionSubject:
		return c.writeSubject(rep)
	case SectionLabMetadata:
		return c.writeLabMetadata(rep)
	case SectionAcquisition:
		return c.writeAcquisition(ctx, rep)
	}
	return fmt.Errorf("unknown section %v", kind)
}

// Write runs the conversion if needed and saves the container. An empty
// path writes "<eid>.nwb" in the output directory; a path without an
// extension is taken as a directory.
func (c *Converter) Write(ctx context.Context, path string) (string, error) {
	if err := c.Run(ctx); err != nil {
		return "", err
	}
	path = c.OutputPath(path)
	err := c.file.Save(path)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	internal.LogInfo("%s: saved %s", c.doc.EID, path)
	return path, nil
}

// OutputPath resolves where Write saves the container
func (c *Converter) OutputPath(path string) string {
	name := c.doc.EID + ".nwb"
	switch {
	case path == "":
		dir := c.opts.OutDir
		if dir == "" {
			dir = "."
		}
		return filepath.Join(dir, name)
	case filepath.Ext(path) == "" || strings.HasSuffix(path, string(filepath.Separator)) || isDir(path):
		return filepath.Join(path, name)
	}
	return path
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// Close releases the raw recordings opened for streaming
func (c *Converter) Close() error {
	var first error
	for _, r := range c.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.readers = nil
	return first
}

// File returns the container built so far
func (c *Converter) File() *nwb.File { return c.file }

// Document returns the metadata document being converted
func (c *Converter) Document() *metadata.Document { return c.doc }

// Session returns the loader state of the session
func (c *Converter) Session() *dataset.SessionContext { return c.sess }

// Summary reports what each section wrote and omitted
func (c *Converter) Summary() Summary { return c.summary }

// load materializes one source, recording an omission when it is absent
func (c *Converter) load(ctx context.Context, rep *SectionReport, name string, src dataset.Source) (dataset.Value, bool) {
	res := c.sess.Load(ctx, src, name)
	if !res.Present() {
		if !src.IsZero() {
			rep.omit(name, res.Absence.String())
		}
		return nil, false
	}
	return res.Value, true
}
