// Package tui is the terminal client: a live quiz list kept fresh by
// lifecycle broadcasts and a timed attempt screen driven by the attempt
// session. All realtime signals enter the program loop as messages via
// the injected notify func.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/attempt"
	"github.com/quiz-platform/quizlive/internal/channel"
	"github.com/quiz-platform/quizlive/internal/quiz"
	"github.com/quiz-platform/quizlive/internal/rest"
)

type screen int

const (
	screenList screen = iota
	screenAttempt
	screenResult
)

// Messages sent into the program from outside the loop.
type (
	// RefreshRequestMsg asks the list to re-fetch; the view reactor
	// sends one per lifecycle event.
	RefreshRequestMsg struct{}
	// ConnStateMsg reports a transport state change.
	ConnStateMsg struct{ State channel.State }
	// AttemptChangedMsg reports a tick or phase move of the running
	// attempt.
	AttemptChangedMsg struct{}
)

// Internal fetch results.
type (
	quizzesMsg     []quiz.Quiz
	quizLoadedMsg  quiz.Quiz
	leaderboardMsg []rest.LeaderboardEntry
	resultsMsg     []rest.Result
	errMsg         struct{ err error }
)

// Deps are the collaborators the model needs.
type Deps struct {
	REST *rest.Client
	// Notify delivers a message into the running program (program.Send).
	Notify            func(tea.Msg)
	TickInterval      time.Duration
	MaxSubmitAttempts int
	Logger            zerolog.Logger
}

// Model is the root Bubble Tea model.
type Model struct {
	deps Deps
	keys KeyMap

	width  int
	height int

	screen    screen
	connState channel.State
	lastErr   error

	quizzes     []quiz.Quiz
	selectedIdx int

	att         *attempt.Session
	questionIdx int
	answerIdx   int

	board   []rest.LeaderboardEntry
	results []rest.Result
}

func New(deps Deps) Model {
	return Model{
		deps: deps,
		keys: DefaultKeyMap(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.fetchQuizzes()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case RefreshRequestMsg:
		return m, m.fetchQuizzes()

	case ConnStateMsg:
		m.connState = msg.State
		return m, nil

	case quizzesMsg:
		m.quizzes = msg
		m.lastErr = nil
		if m.selectedIdx >= len(m.quizzes) {
			m.selectedIdx = 0
		}
		return m, nil

	case quizLoadedMsg:
		return m.startAttempt(quiz.Quiz(msg))

	case AttemptChangedMsg:
		return m.onAttemptChanged()

	case leaderboardMsg:
		m.board = msg
		return m, nil

	case resultsMsg:
		m.results = msg
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		if m.att != nil {
			m.att.Abandon()
		}
		return m, tea.Quit
	}

	switch m.screen {
	case screenList:
		return m.handleListKey(msg)
	case screenAttempt:
		return m.handleAttemptKey(msg)
	case screenResult:
		return m.handleResultKey(msg)
	}
	return m, nil
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Down):
		if len(m.quizzes) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.quizzes)
		}
	case key.Matches(msg, m.keys.Up):
		if len(m.quizzes) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.quizzes)) % len(m.quizzes)
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchQuizzes()
	case key.Matches(msg, m.keys.Start):
		if m.selectedIdx < len(m.quizzes) {
			return m, m.loadQuiz(m.quizzes[m.selectedIdx].ID)
		}
	}
	return m, nil
}

func (m Model) handleAttemptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.att == nil {
		m.screen = screenList
		return m, nil
	}
	q := m.att.Quiz()

	switch {
	case key.Matches(msg, m.keys.Escape):
		m.att.Abandon()
		m.att = nil
		m.screen = screenList
		return m, m.fetchQuizzes()

	case key.Matches(msg, m.keys.Down):
		n := len(q.Questions[m.questionIdx].Answers)
		if n > 0 {
			m.answerIdx = (m.answerIdx + 1) % n
		}

	case key.Matches(msg, m.keys.Up):
		n := len(q.Questions[m.questionIdx].Answers)
		if n > 0 {
			m.answerIdx = (m.answerIdx - 1 + n) % n
		}

	case key.Matches(msg, m.keys.Right):
		if m.questionIdx < len(q.Questions)-1 {
			m.questionIdx++
			m.answerIdx = 0
		}

	case key.Matches(msg, m.keys.Left):
		if m.questionIdx > 0 {
			m.questionIdx--
			m.answerIdx = 0
		}

	case key.Matches(msg, m.keys.Select):
		answerID := q.Questions[m.questionIdx].Answers[m.answerIdx].ID
		if m.att.Selected(m.questionIdx) == answerID {
			answerID = "" // toggle off
		}
		if err := m.att.SelectAnswer(m.questionIdx, answerID); err != nil {
			m.lastErr = err
		}

	case key.Matches(msg, m.keys.Submit):
		if err := m.att.Submit(); err != nil {
			m.lastErr = err
		}
	}
	return m, nil
}

func (m Model) handleResultKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Start) {
		m.att = nil
		m.board = nil
		m.results = nil
		m.screen = screenList
		return m, m.fetchQuizzes()
	}
	return m, nil
}

// startAttempt builds and starts a session for the fully loaded quiz.
func (m Model) startAttempt(q quiz.Quiz) (tea.Model, tea.Cmd) {
	if len(q.Questions) == 0 {
		m.lastErr = fmt.Errorf("quiz %q has no questions", q.Title)
		return m, nil
	}
	notify := m.deps.Notify
	sess := attempt.NewSession(q, m.deps.REST, attempt.Options{
		TickInterval:      m.deps.TickInterval,
		MaxSubmitAttempts: m.deps.MaxSubmitAttempts,
		Logger:            m.deps.Logger,
		OnChange: func() {
			if notify != nil {
				notify(AttemptChangedMsg{})
			}
		},
	})
	if err := sess.Start(context.Background()); err != nil {
		m.lastErr = err
		return m, nil
	}
	m.att = sess
	m.questionIdx = 0
	m.answerIdx = 0
	m.lastErr = nil
	m.screen = screenAttempt
	return m, nil
}

// onAttemptChanged re-renders and, on completion, moves to the result
// screen with its fetches.
func (m Model) onAttemptChanged() (tea.Model, tea.Cmd) {
	if m.att == nil || m.screen != screenAttempt {
		return m, nil
	}
	switch m.att.Phase() {
	case attempt.Submitted:
		m.screen = screenResult
		quizID := m.att.Quiz().ID
		return m, tea.Batch(m.fetchLeaderboard(quizID), m.fetchResults())
	case attempt.Failed:
		if m.att.LastError() != nil {
			m.lastErr = m.att.LastError()
		}
	}
	return m, nil
}

// --- commands ---

func (m Model) fetchQuizzes() tea.Cmd {
	restc := m.deps.REST
	return func() tea.Msg {
		quizzes, err := restc.GetQuizzes(context.Background(), quiz.StatusApproved)
		if err != nil {
			return errMsg{err}
		}
		return quizzesMsg(quizzes)
	}
}

func (m Model) loadQuiz(id quiz.ID) tea.Cmd {
	restc := m.deps.REST
	return func() tea.Msg {
		q, err := restc.GetQuiz(context.Background(), id)
		if err != nil {
			return errMsg{err}
		}
		return quizLoadedMsg(*q)
	}
}

func (m Model) fetchLeaderboard(id quiz.ID) tea.Cmd {
	restc := m.deps.REST
	return func() tea.Msg {
		board, err := restc.GetLeaderboard(context.Background(), id)
		if err != nil {
			return errMsg{err}
		}
		return leaderboardMsg(board)
	}
}

func (m Model) fetchResults() tea.Cmd {
	restc := m.deps.REST
	return func() tea.Msg {
		results, err := restc.GetMyResults(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return resultsMsg(results)
	}
}

// --- views ---

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.screen {
	case screenAttempt:
		body = m.viewAttempt()
	case screenResult:
		body = m.viewResult()
	default:
		body = m.viewList()
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.viewStatus(), body)
}

func (m Model) viewStatus() string {
	conn := styleDimmed.Render("● " + m.connState.String())
	if m.connState == channel.StateAuthenticated {
		conn = styleOK.Render("● live")
	}
	line := conn
	if m.lastErr != nil {
		line += "  " + styleError.Render(m.lastErr.Error())
	}
	return line
}

func (m Model) viewList() string {
	lines := []string{styleHeader.Render("QUIZZES"), ""}
	if len(m.quizzes) == 0 {
		lines = append(lines, styleDimmed.Render("  no quizzes available"))
	}
	for i, q := range m.quizzes {
		prefix := "  "
		title := q.Title
		if i == m.selectedIdx {
			prefix = styleCursor.Render("> ")
			title = styleCursor.Render(title)
		}
		meta := styleDimmed.Render(fmt.Sprintf("  %d questions, %s", len(q.Questions), formatDuration(q.DurationSeconds)))
		lines = append(lines, prefix+title+meta)
	}
	lines = append(lines, "", styleDimmed.Render("  j/k:navigate  enter:start  r:refresh  q:quit"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) viewAttempt() string {
	q := m.att.Quiz()
	question := q.Questions[m.questionIdx]

	timer := timerStyle(m.att.Remaining(), q.DurationSeconds).
		Render(formatDuration(m.att.Remaining()))
	header := styleHeader.Render(q.Title) + "  " + timer +
		styleDimmed.Render(fmt.Sprintf("  [%d/%d]", m.questionIdx+1, len(q.Questions)))

	lines := []string{header, "", question.Text, ""}
	selected := m.att.Selected(m.questionIdx)
	for i, a := range question.Answers {
		cursor := "  "
		if i == m.answerIdx {
			cursor = styleCursor.Render("> ")
		}
		mark := "( ) "
		text := a.Text
		if a.ID == selected && selected != "" {
			mark = styleChosen.Render("(x) ")
			text = styleChosen.Render(text)
		}
		lines = append(lines, cursor+mark+text)
	}

	switch m.att.Phase() {
	case attempt.Submitting:
		lines = append(lines, "", styleDimmed.Render("  submitting..."))
	case attempt.Failed:
		lines = append(lines, "", styleError.Render("  submission failed"))
	}

	lines = append(lines, "", styleDimmed.Render("  j/k:answer  h/l:question  space:select  s:submit  esc:abandon"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) viewResult() string {
	q := m.att.Quiz()
	lines := []string{styleHeader.Render("SUBMITTED"), ""}
	lines = append(lines, "  "+q.Title)

	for _, r := range m.results {
		if r.QuizID == q.ID {
			lines = append(lines, styleOK.Render(fmt.Sprintf("  score %d/%d in %s",
				r.Score, r.TotalQuestions, formatDuration(r.TimeSpentSeconds))))
		}
	}

	if len(m.board) > 0 {
		lines = append(lines, "", styleHeader.Render("LEADERBOARD"))
		for i, e := range m.board {
			lines = append(lines, fmt.Sprintf("  %d. %-16s %3d  %s",
				i+1, e.UserID, e.Score, formatDuration(e.TimeSpentSeconds)))
		}
	}

	lines = append(lines, "", styleDimmed.Render("  enter/esc:back to list"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
