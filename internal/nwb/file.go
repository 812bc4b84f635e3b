// Package nwb is an in-memory model of the output container and its writer.
//
// A File collects typed series, tables and records; Save lays them out as
// flat HDF5 datasets with dotted names and a JSON manifest that describes the
// hierarchy, the text attributes and where every array lives.
package nwb

import (
	"fmt"
	"time"
)

// Subject describes the recorded animal
type Subject struct {
	SubjectID   string
	Description string
	Genotype    string
	Sex         string
	Species     string
	Weight      string
	DateOfBirth string
}

// Device is a recording device
type Device struct {
	Name        string
	Description string
}

// ElectrodeGroup ties electrodes to a device
type ElectrodeGroup struct {
	Name        string
	Description string
	Location    string
	Device      *Device
}

// LabMetadata is a free-form extension record, e.g. the lab's subject record
type LabMetadata struct {
	Name   string
	Kind   string
	Fields map[string]interface{}
}

// Interface is a named container inside a processing module, such as
// "BehavioralTimeSeries" or "Position", holding series of one family.
type Interface struct {
	Kind    string
	Name    string
	Objects []Object
}

// Add appends a series to the interface
func (i *Interface) Add(o Object) {
	i.Objects = append(i.Objects, o)
}

// ProcessingModule groups interfaces of one category, e.g. "behavior"
type ProcessingModule struct {
	Name        string
	Description string
	Interfaces  []*Interface
}

// Interface returns the interface of the given kind, creating it on first use
func (m *ProcessingModule) Interface(kind string) *Interface {
	for _, i := range m.Interfaces {
		if i.Kind == kind {
			return i
		}
	}
	i := &Interface{Kind: kind, Name: kind}
	m.Interfaces = append(m.Interfaces, i)
	return i
}

// File is the whole output container of one session
type File struct {
	Identifier            string
	SessionDescription    string
	SessionStartTime      time.Time
	SessionID             string
	ExperimentDescription string
	Experimenter          []string
	Keywords              []string
	Institution           string
	Lab                   string
	Surgery               string
	Notes                 string

	Subject         *Subject
	Devices         []*Device
	ElectrodeGroups []*ElectrodeGroup
	Electrodes      *ElectrodeTable
	Units           *DynamicTable
	Trials          *DynamicTable
	Stimulus        []Object
	Acquisition     []Object
	Processing      []*ProcessingModule
	LabMetadata     []LabMetadata
}

// NewFile creates an empty container
func NewFile(identifier, description string, start time.Time) *File {
	return &File{
		Identifier:         identifier,
		SessionDescription: description,
		SessionStartTime:   start,
	}
}

// AddDevice registers a device, replacing one of the same name
func (f *File) AddDevice(d *Device) {
	for i, x := range f.Devices {
		if x.Name == d.Name {
			f.Devices[i] = d
			return
		}
	}
	f.Devices = append(f.Devices, d)
}

// Device returns a registered device by name
func (f *File) Device(name string) (*Device, bool) {
	for _, d := range f.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// AddElectrodeGroup registers an electrode group
func (f *File) AddElectrodeGroup(g *ElectrodeGroup) {
	for i, x := range f.ElectrodeGroups {
		if x.Name == g.Name {
			f.ElectrodeGroups[i] = g
			return
		}
	}
	f.ElectrodeGroups = append(f.ElectrodeGroups, g)
}

// ElectrodeGroup returns a registered electrode group by name
func (f *File) ElectrodeGroup(name string) (*ElectrodeGroup, bool) {
	for _, g := range f.ElectrodeGroups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// SetElectrodes installs the electrode table. It fails when one is set.
func (f *File) SetElectrodes(t *ElectrodeTable) error {
	if f.Electrodes != nil {
		return fmt.Errorf("electrode table already set")
	}
	f.Electrodes = t
	return nil
}

// AddStimulus appends a stimulus series
func (f *File) AddStimulus(o Object) {
	f.Stimulus = append(f.Stimulus, o)
}

// AddAcquisition appends a raw acquisition series
func (f *File) AddAcquisition(o Object) {
	f.Acquisition = append(f.Acquisition, o)
}

// ProcessingModule returns the module of the given name, creating it on first use
func (f *File) ProcessingModule(name, description string) *ProcessingModule {
	for _, m := range f.Processing {
		if m.Name == name {
			return m
		}
	}
	m := &ProcessingModule{Name: name, Description: description}
	f.Processing = append(f.Processing, m)
	return m
}

// Module returns an existing processing module by name
func (f *File) Module(name string) (*ProcessingModule, bool) {
	for _, m := range f.Processing {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// AddProcessed adds a series to an interface of a processing module. The
// module and the interface are created with their first series.
func (f *File) AddProcessed(module, description, kind string, o Object) {
	f.ProcessingModule(module, description).Interface(kind).Add(o)
}

// AddLabMetadata appends an extension record
func (f *File) AddLabMetadata(m LabMetadata) {
	f.LabMetadata = append(f.LabMetadata, m)
}
