// Package sections holds the static catalog of technical documentation
// sections. The catalog is read live wherever totals matter, so adding a
// mandatory section immediately changes every audit's progress.
package sections

import (
	"context"

	id "auditoria/pkg/domain"
)

// Section is one catalog entry.
type Section struct {
	ID             id.SectionID
	Code           string
	Name           string
	Mandatory      bool
	Order          int
	AllowedFormats []string
	MaxSizeMB      int
}

// Catalog reads the section catalog.
type Catalog interface {
	List(ctx context.Context) ([]Section, error)
	ListMandatory(ctx context.Context) ([]Section, error)
}

// DefaultSections is the standard thirteen-section catalog seeded on first
// run. Codes follow the documentation manual's numbering.
func DefaultSections() []Section {
	specs := []struct {
		code      string
		name      string
		mandatory bool
	}{
		{"S01", "Licencias y habilitaciones", true},
		{"S02", "Planos técnicos", true},
		{"S03", "Certificados de calibración", true},
		{"S04", "Protocolos de seguridad", true},
		{"S05", "Registros de mantenimiento", true},
		{"S06", "Capacitación del personal", true},
		{"S07", "Control de calidad", true},
		{"S08", "Gestión de residuos", true},
		{"S09", "Bitácoras de operación", true},
		{"S10", "Pólizas y seguros", true},
		{"S11", "Informes de incidentes", true},
		{"S12", "Inventario de equipos", true},
		{"S13", "Documentación complementaria", false},
	}
	out := make([]Section, len(specs))
	for i, spec := range specs {
		out[i] = Section{
			ID:             id.NewSectionID(),
			Code:           spec.code,
			Name:           spec.name,
			Mandatory:      spec.mandatory,
			Order:          i + 1,
			AllowedFormats: []string{"pdf", "jpg", "png"},
			MaxSizeMB:      25,
		}
	}
	return out
}
