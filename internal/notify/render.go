package notify

import (
	"bytes"
	"fmt"
	"text/template"

	dErrors "auditoria/pkg/domain-errors"
)

// Renderer produces the subject and body for a notification kind.
type Renderer interface {
	Render(kind Kind, data any) (Message, error)
}

type templateSet struct {
	subject *template.Template
	body    *template.Template
}

// TemplateRenderer renders the built-in Spanish templates.
type TemplateRenderer struct {
	templates map[Kind]templateSet
}

func NewTemplateRenderer() *TemplateRenderer {
	mustSet := func(name, subject, body string) templateSet {
		return templateSet{
			subject: template.Must(template.New(name + ".subject").Parse(subject)),
			body:    template.Must(template.New(name + ".body").Parse(body)),
		}
	}
	return &TemplateRenderer{templates: map[Kind]templateSet{
		KindReminder: mustSet("reminder",
			"Recordatorio: carga documental vence en {{.DaysLeft}} día(s)",
			"Estimado/a {{.Recipient.Name}}:\n\n"+
				"La carga de documentación técnica de la auditoría {{.AuditID}} "+
				"vence el {{.Deadline}}. Quedan {{.DaysLeft}} día(s) para completar "+
				"las secciones obligatorias.\n"),
		KindEscalation: mustSet("escalation",
			"URGENTE: carga documental vence el {{.Deadline}}",
			"Estimado/a {{.Recipient.Name}}:\n\n"+
				"La ventana de carga de la auditoría {{.AuditID}} cierra el "+
				"{{.Deadline}}. Pasada esa fecha no se aceptarán más documentos.\n"),
		KindStateChanged: mustSet("state_changed",
			"Auditoría {{.AuditID}}: {{.From}} → {{.To}}",
			"Estimado/a {{.Recipient.Name}}:\n\n"+
				"La auditoría {{.AuditID}} pasó de \"{{.From}}\" a \"{{.To}}\"."+
				"{{if .Override}} El cambio fue aplicado por un administrador.{{end}}\n"),
	}}
}

func (r *TemplateRenderer) Render(kind Kind, data any) (Message, error) {
	set, ok := r.templates[kind]
	if !ok {
		return Message{}, dErrors.Newf(dErrors.CodeValidation, "no template for kind %q", kind)
	}
	subject, err := execute(set.subject, data)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := execute(set.body, data)
	if err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: subject, Body: body}, nil
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
