// Package notify renders and delivers outbound e-mail to patients.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one e-mail ready to send.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Template IDs registered by NewTemplateEngine.
const (
	TemplateReminderTomorrow         = "recordatorio-turno"
	TemplateReminderTomorrowDuration = "recordatorio-turno-duracion"
	TemplateReminderToday            = "recordatorio-turno-hoy"
)

// ReminderTemplate picks the template for a reminder of the given kind.
// The duration sentence is only included when the length is known.
func ReminderTemplate(kind string, minutes int) string {
	if kind == TemplateReminderTomorrow && minutes > 0 {
		return TemplateReminderTomorrowDuration
	}
	return kind
}

// Template is a subject and body with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine holds the message templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates an engine with the reminder templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.Register(Template{
		ID:      TemplateReminderTomorrow,
		Subject: "Recordatorio: tu turno de mañana",
		Body: "Hola {{paciente}},\n\n" +
			"Te recordamos tu turno del {{fecha}} a las {{hora}} con {{medico}}.\n" +
			"Si no podés asistir, cancelalo desde la web para liberar el horario.\n",
	})
	e.Register(Template{
		ID:      TemplateReminderTomorrowDuration,
		Subject: "Recordatorio: tu turno de mañana",
		Body: "Hola {{paciente}},\n\n" +
			"Te recordamos tu turno del {{fecha}} a las {{hora}} con {{medico}}, " +
			"con una duración de {{duracion}} minutos.\n" +
			"Si no podés asistir, cancelalo desde la web para liberar el horario.\n",
	})
	e.Register(Template{
		ID:      TemplateReminderToday,
		Subject: "Tu turno es hoy a las {{hora}}",
		Body: "Hola {{paciente}},\n\n" +
			"Tu turno con {{medico}} es hoy a las {{hora}}.\n" +
			"Al llegar, anunciate en recepción.\n",
	})
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render replaces {{key}} placeholders with data. Placeholders without a
// value are left as they are.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Recorder is a Mailer that keeps what it was asked to send. Err, when
// set, is returned from every Send.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, m)
	return nil
}

// Sent returns a copy of the delivered messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
