package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/npezzotti/classbot/internal/state"
)

const (
	msgTeacherOnly      = "⛔ Solo un docente puede usar %s."
	msgUsage            = "⚠️ Uso correcto: %s"
	msgHola             = "👋 ¡Hola %s! Soy tu bot de ayuda docente %s🤖"
	msgAyuda            = "📘 Comandos disponibles:\n%s\n\nUsa `!<comando>` para ejecutarlos."
	msgEstado           = "📊 Estado de la sala: %s\n👤 Tu estado: %s"
	msgRoomBusy         = "⚠️ Ya hay una pregunta o sesión activa en la sala."
	msgNoQuestion       = "⚠️ No hay ninguna pregunta activa."
	msgQuestionOpened   = "❓ Nueva pregunta de %s: %s\nResponde con !responder <respuesta>"
	msgAnswerRecorded   = "✅ Respuesta registrada, %s."
	msgQuestionClosed   = "📝 Pregunta cerrada: %s\nRespuestas recibidas: %d"
	msgLocked           = "🔒 Sala bloqueada: solo los docentes pueden usar comandos."
	msgNotLocked        = "ℹ️ La sala no está bloqueada."
	msgUnlocked         = "🔓 Sala desbloqueada."
	msgMuted            = "🔇 %s ha sido silenciado/a."
	msgNotMuted         = "ℹ️ %s no está silenciado/a."
	msgUnmuted          = "🔊 %s puede volver a usar comandos."
	msgNoTallies        = "ℹ️ No hay reacciones registradas."
	msgTalliesGiven     = "📈 Reacciones dadas:"
	msgTalliesReceived  = "📈 Reacciones recibidas:"
	msgNoRoomTeacher    = "ℹ️ Esta sala no tiene un docente asignado."
	msgNoAvailability   = "ℹ️ No hay horarios de tutoría publicados."
	msgAvailabilityHead = "🗓️ Horarios de tutoría:"
)

const (
	dataQuestion = "question"
	dataAskedBy  = "asked_by"
	dataAnswers  = "answers"
	dataAnswer   = "answer"
	dataLockedBy = "locked_by"
	dataMutedBy  = "muted_by"
)

// DefaultCommands returns every command the bot registers at startup.
func DefaultCommands() []Command {
	return []Command{
		{
			Name:        "hola",
			Usage:       "!hola <nombre>",
			Description: "Comprueba si el bot está activo.",
			Run:         runHola,
		},
		{
			Name:        "ayuda",
			Usage:       "!ayuda",
			Description: "Muestra los comandos disponibles.",
			Run:         runAyuda,
		},
		{
			Name:        "estado",
			Usage:       "!estado",
			Description: "Muestra el estado de la sala y el tuyo.",
			Run:         runEstado,
		},
		{
			Name:        "pregunta",
			Usage:       "!pregunta <texto>",
			Description: "Abre una pregunta para la sala.",
			TeacherOnly: true,
			Run:         runPregunta,
		},
		{
			Name:        "responder",
			Usage:       "!responder <texto>",
			Description: "Responde a la pregunta activa.",
			Run:         runResponder,
		},
		{
			Name:        "cerrar",
			Usage:       "!cerrar",
			Description: "Cierra la pregunta activa.",
			TeacherOnly: true,
			Run:         runCerrar,
		},
		{
			Name:        "bloquear",
			Usage:       "!bloquear",
			Description: "Solo los docentes pueden usar comandos.",
			TeacherOnly: true,
			Run:         runBloquear,
		},
		{
			Name:        "desbloquear",
			Usage:       "!desbloquear",
			Description: "Vuelve a permitir comandos a todos.",
			TeacherOnly: true,
			Run:         runDesbloquear,
		},
		{
			Name:        "silenciar",
			Usage:       "!silenciar <@usuario>",
			Description: "Ignora los comandos de un usuario.",
			TeacherOnly: true,
			Run:         runSilenciar,
		},
		{
			Name:        "activar",
			Usage:       "!activar <@usuario>",
			Description: "Vuelve a atender a un usuario silenciado.",
			TeacherOnly: true,
			Run:         runActivar,
		},
		{
			Name:        "reacciones",
			Usage:       "!reacciones",
			Description: "Muestra tus reacciones dadas o recibidas.",
			Run:         runReacciones,
		},
		{
			Name:        "tutorias",
			Usage:       "!tutorias",
			Description: "Muestra los horarios de tutoría del docente de la sala.",
			Run:         runTutorias,
		},
	}
}

func usage(ctx context.Context, c *Context, text string) error {
	return c.Reply(ctx, fmt.Sprintf(msgUsage, text))
}

func runHola(ctx context.Context, c *Context) error {
	if len(c.Args) != 1 {
		return usage(ctx, c, "!hola <nombre>")
	}
	return c.Reply(ctx, fmt.Sprintf(msgHola, c.Sender, c.Args[0]))
}

func runAyuda(ctx context.Context, c *Context) error {
	return c.Reply(ctx, fmt.Sprintf(msgAyuda, strings.Join(c.Dispatcher.Names(), " | ")))
}

func runEstado(ctx context.Context, c *Context) error {
	return c.Reply(ctx, fmt.Sprintf(msgEstado,
		c.State.RoomState(c.RoomID),
		c.State.UserState(c.RoomID, c.Sender),
	))
}

func runPregunta(ctx context.Context, c *Context) error {
	if len(c.Args) == 0 {
		return usage(ctx, c, "!pregunta <texto>")
	}
	if c.State.RoomState(c.RoomID) != state.RoomIdle {
		return c.Reply(ctx, msgRoomBusy)
	}

	question := strings.Join(c.Args, " ")
	c.State.SetRoomState(c.RoomID, state.RoomQuestionActive, state.Data{
		dataQuestion: question,
		dataAskedBy:  c.Sender,
		dataAnswers:  0,
	})
	return c.Reply(ctx, fmt.Sprintf(msgQuestionOpened, c.Sender, question))
}

func runResponder(ctx context.Context, c *Context) error {
	if len(c.Args) == 0 {
		return usage(ctx, c, "!responder <texto>")
	}
	if c.State.RoomState(c.RoomID) != state.RoomQuestionActive {
		return c.Reply(ctx, msgNoQuestion)
	}

	// only the first answer of each user counts
	if c.State.UserState(c.RoomID, c.Sender) != state.UserAnswering {
		data := c.State.RoomData(c.RoomID)
		answers, _ := data[dataAnswers].(int)
		data[dataAnswers] = answers + 1
		c.State.SetRoomData(c.RoomID, data)
	}

	c.State.SetUserState(c.RoomID, c.Sender, state.UserAnswering, state.Data{
		dataAnswer: strings.Join(c.Args, " "),
	})
	return c.Reply(ctx, fmt.Sprintf(msgAnswerRecorded, c.Sender))
}

func runCerrar(ctx context.Context, c *Context) error {
	if c.State.RoomState(c.RoomID) != state.RoomQuestionActive {
		return c.Reply(ctx, msgNoQuestion)
	}

	data := c.State.RoomData(c.RoomID)
	question, _ := data[dataQuestion].(string)
	answers, _ := data[dataAnswers].(int)

	for _, userID := range c.State.Users(c.RoomID) {
		if c.State.UserState(c.RoomID, userID) == state.UserAnswering {
			c.State.SetUserState(c.RoomID, userID, state.UserIdle, nil)
		}
	}
	c.State.SetRoomState(c.RoomID, state.RoomIdle, nil)

	return c.Reply(ctx, fmt.Sprintf(msgQuestionClosed, question, answers))
}

func runBloquear(ctx context.Context, c *Context) error {
	c.State.SetRoomState(c.RoomID, state.RoomLocked, state.Data{dataLockedBy: c.Sender})
	return c.Reply(ctx, msgLocked)
}

func runDesbloquear(ctx context.Context, c *Context) error {
	if c.State.RoomState(c.RoomID) != state.RoomLocked {
		return c.Reply(ctx, msgNotLocked)
	}
	c.State.SetRoomState(c.RoomID, state.RoomIdle, nil)
	return c.Reply(ctx, msgUnlocked)
}

func targetUser(c *Context) (string, bool) {
	if len(c.Args) != 1 || !strings.HasPrefix(c.Args[0], "@") {
		return "", false
	}
	return c.Args[0], true
}

func runSilenciar(ctx context.Context, c *Context) error {
	target, ok := targetUser(c)
	if !ok {
		return usage(ctx, c, "!silenciar <@usuario>")
	}
	c.State.SetUserState(c.RoomID, target, state.UserMuted, state.Data{dataMutedBy: c.Sender})
	return c.Reply(ctx, fmt.Sprintf(msgMuted, target))
}

func runActivar(ctx context.Context, c *Context) error {
	target, ok := targetUser(c)
	if !ok {
		return usage(ctx, c, "!activar <@usuario>")
	}
	if c.State.UserState(c.RoomID, target) != state.UserMuted {
		return c.Reply(ctx, fmt.Sprintf(msgNotMuted, target))
	}
	c.State.SetUserState(c.RoomID, target, state.UserIdle, nil)
	return c.Reply(ctx, fmt.Sprintf(msgUnmuted, target))
}

func runReacciones(ctx context.Context, c *Context) error {
	account := c.Store.GetAccountByIdentity(ctx, c.Sender)
	if account == nil {
		return c.Reply(ctx, msgNoTallies)
	}

	var b strings.Builder
	if account.IsTeacher {
		tallies := c.Store.ListTalliesByTeacher(ctx, account.Id)
		if len(tallies) == 0 {
			return c.Reply(ctx, msgNoTallies)
		}
		b.WriteString(msgTalliesGiven)
		for _, t := range tallies {
			fmt.Fprintf(&b, "\n• %s %s × %d", t.StudentIdentity, t.Emoji, t.Count)
		}
	} else {
		tallies := c.Store.ListTalliesByStudent(ctx, account.Id)
		if len(tallies) == 0 {
			return c.Reply(ctx, msgNoTallies)
		}
		b.WriteString(msgTalliesReceived)
		for _, t := range tallies {
			fmt.Fprintf(&b, "\n• %s %s × %d", t.TeacherIdentity, t.Emoji, t.Count)
		}
	}
	return c.Reply(ctx, b.String())
}

func runTutorias(ctx context.Context, c *Context) error {
	room := c.Store.GetRoomByRoomId(ctx, c.RoomID)
	if room == nil || !room.TeacherId.Valid {
		return c.Reply(ctx, msgNoRoomTeacher)
	}

	slots := c.Store.ListAvailability(ctx, int(room.TeacherId.Int64))
	if len(slots) == 0 {
		return c.Reply(ctx, msgNoAvailability)
	}

	var b strings.Builder
	b.WriteString(msgAvailabilityHead)
	for _, s := range slots {
		fmt.Fprintf(&b, "\n• %s %s-%s", s.DayOfWeek, s.StartTime, s.EndTime)
	}
	return c.Reply(ctx, b.String())
}
