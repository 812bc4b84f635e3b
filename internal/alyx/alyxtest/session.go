package alyxtest

import (
	"fmt"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
)

// Lab is the lab every fixture session belongs to
const Lab = "cortexlab"

// AddStandardSession registers a session record with its lab, subject and
// one probe insertion per probe name.
func (f *Fake) AddStandardSession(eid, subject string, probes ...string) {
	f.AddSession(alyx.Record{
		"id":            eid,
		"subject":       subject,
		"lab":           Lab,
		"start_time":    "2019-08-26T14:33:17",
		"task_protocol": "_iblrig_tasks_ephysChoiceWorld6.2.5",
		"project":       "ibl_neuropixel_brainwide_01",
		"narrative":     nil,
		"procedures":    []interface{}{"Behavior training/tasks", "Ephys recording with acute probe(s)"},
		"users":         []interface{}{"olivier", "gaelle"},
		"number":        1.0,
		"location":      "_iblrig_cortexlab_ephys_0",
		"qc":            "NOT_SET",
	})
	f.SetRecord("labs", alyx.Response{Many: []alyx.Record{
		{"name": "hoferlab", "institution": "University College London"},
		{"name": Lab, "institution": "University College London, Cortex Lab"},
	}})
	f.SetRecord("subjects/"+subject, alyx.Response{One: alyx.Record{
		"id":               subject + "-uuid",
		"nickname":         subject,
		"description":      nil,
		"genotype":         []interface{}{},
		"sex":              "M",
		"species":          "Mus musculus",
		"reference_weight": 24.1,
		"birth_date":       "2019-02-25",
		"lab":              Lab,
	}})
	insertions := make([]alyx.Record, 0, len(probes))
	for i, p := range probes {
		insertions = append(insertions, alyx.Record{
			"id":     fmt.Sprintf("%s-insertion-%d", eid, i),
			"name":   p,
			"model":  "3A",
			"serial": fmt.Sprintf("1870%02d", i),
		})
	}
	f.SetRecord("insertions?session="+eid, alyx.Response{Many: insertions})
}
