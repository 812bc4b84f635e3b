package convert

import "github.com/iblconvert/alyx2nwb/internal/nwb"

// writeSubject sets the container's subject and keeps the lab's complete
// subject record as an extension.
func (c *Converter) writeSubject(rep *SectionReport) error {
	if s := c.doc.Subject; s != nil {
		c.file.Subject = &nwb.Subject{
			SubjectID:   s.SubjectID,
			Description: s.Description,
			Genotype:    s.Genotype,
			Sex:         s.Sex,
			Species:     s.Species,
			Weight:      s.Weight,
			DateOfBirth: s.DateOfBirth,
		}
		rep.wrote("subject")
	}
	if len(c.doc.IBLSubject) > 0 {
		c.file.AddLabMetadata(nwb.LabMetadata{Name: "ibl_subject", Kind: "IblSubject", Fields: c.doc.IBLSubject})
		rep.wrote("ibl_subject")
	}
	return nil
}

// writeLabMetadata keeps the session record fields the container has no
// place for.
func (c *Converter) writeLabMetadata(rep *SectionReport) error {
	if len(c.doc.IBLSessionsData) == 0 {
		return nil
	}
	c.file.AddLabMetadata(nwb.LabMetadata{Name: "ibl_session", Kind: "IblSessionData", Fields: c.doc.IBLSessionsData})
	rep.wrote("ibl_session")
	return nil
}
