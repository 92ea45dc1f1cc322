package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.Register(Template{ID: "test", Subject: "Hola {{nombre}}", Body: "Tu código es {{codigo}}."})

	subject, body, err := eng.Render("test", map[string]string{"nombre": "Ana", "codigo": "1234"})
	require.NoError(t, err)
	assert.Equal(t, "Hola Ana", subject)
	assert.Equal(t, "Tu código es 1234.", body)
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	_, _, err := NewTemplateEngine().Render("nope", nil)
	assert.Error(t, err)
}

func TestTemplateEngine_Reminders(t *testing.T) {
	eng := NewTemplateEngine()
	data := map[string]string{
		"paciente": "Ana Pérez",
		"fecha":    "2025-03-04",
		"hora":     "09:30",
		"medico":   "Dra. Gómez",
	}
	for _, id := range []string{TemplateReminderTomorrow, TemplateReminderToday} {
		subject, body, err := eng.Render(id, data)
		require.NoError(t, err, id)
		assert.NotContains(t, subject+body, "{{", id)
		assert.NotContains(t, body, "duración", id)
		assert.Contains(t, body, "Dra. Gómez", id)
		assert.Contains(t, body, "09:30", id)
	}

	data["duracion"] = "30"
	_, body, err := eng.Render(TemplateReminderTomorrowDuration, data)
	require.NoError(t, err)
	assert.NotContains(t, body, "{{")
	assert.Contains(t, body, "con una duración de 30 minutos")
}

func TestReminderTemplate(t *testing.T) {
	assert.Equal(t, TemplateReminderTomorrow, ReminderTemplate(TemplateReminderTomorrow, 0))
	assert.Equal(t, TemplateReminderTomorrowDuration, ReminderTemplate(TemplateReminderTomorrow, 45))
	assert.Equal(t, TemplateReminderToday, ReminderTemplate(TemplateReminderToday, 45))
	assert.Equal(t, TemplateReminderToday, ReminderTemplate(TemplateReminderToday, 0))
}

func TestTemplateEngine_UnknownPlaceholderKept(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render(TemplateReminderToday, map[string]string{"hora": "10:00"})
	require.NoError(t, err)
	assert.Contains(t, body, "{{paciente}}")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Send(context.Background(), Message{To: "a@example.com"}))
	require.Len(t, r.Sent(), 1)

	r.Err = errors.New("smtp down")
	assert.Error(t, r.Send(context.Background(), Message{To: "b@example.com"}))
	assert.Len(t, r.Sent(), 1)
}

func TestHTMLBody_Escapes(t *testing.T) {
	out := htmlBody(Message{Subject: "Turno <hoy>", Body: "Hola <b>Ana</b>,\n\nlínea 1\nlínea 2"})
	assert.Contains(t, out, "Turno &lt;hoy&gt;")
	assert.Contains(t, out, "&lt;b&gt;Ana&lt;/b&gt;")
	assert.Contains(t, out, "línea 1<br>línea 2")
	assert.Equal(t, 2, strings.Count(out, "<p>"))
}

func TestSMTPMailer_Message(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 2525, User: "turnos@clinica.example"})
	msg := m.message(Message{To: "ana@example.com", Subject: "Hola", Body: "texto"})
	assert.Equal(t, []string{"turnos@clinica.example"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"ana@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Hola"}, msg.GetHeader("Subject"))
}

func TestSMTPMailer_CancelledContext(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 2525})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, Message{To: "x@example.com"}), context.Canceled)
}
