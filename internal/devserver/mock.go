package devserver

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/identity"
	"github.com/quiz-platform/quizlive/internal/quiz"
)

var demoTopics = []string{
	"World Capitals", "Ocean Life", "Space Exploration", "Ancient Rome",
	"Classical Music", "Famous Paintings", "Programming Trivia",
	"Mountain Ranges", "Chemistry Basics", "Film History",
}

var demoAuthors = []string{"ada", "linus", "grace", "dennis", "barbara"}

// Generator drives a scripted quiz lifecycle against the store so a
// connected client sees a steady trickle of created, approved, rejected
// and deleted events in demo mode.
type Generator struct {
	store    *Store
	log      zerolog.Logger
	interval time.Duration
	rng      *rand.Rand

	moderator principal
	serial    int
}

func NewGenerator(store *Store, logger zerolog.Logger, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Generator{
		store:     store,
		log:       logger,
		interval:  interval,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		moderator: principal{userID: "demo-moderator", role: identity.RoleModerator},
	}
}

// Start seeds a few quizzes and runs the lifecycle loop until the
// context is cancelled.
func (g *Generator) Start(ctx context.Context) {
	for i := 0; i < 3; i++ {
		g.createQuiz()
	}
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.step()
		}
	}
}

// step performs one random lifecycle action, preferring moderation when
// the pending queue is getting long.
func (g *Generator) step() {
	pending := g.store.List(quiz.StatusPending)
	approved := g.store.List(quiz.StatusApproved)

	switch {
	case len(pending) > 4:
		g.moderate(pending)
	case len(approved) > 6:
		g.deleteQuiz(approved)
	default:
		switch g.rng.Intn(3) {
		case 0:
			g.createQuiz()
		case 1:
			if len(pending) > 0 {
				g.moderate(pending)
			} else {
				g.createQuiz()
			}
		case 2:
			if len(approved) > 2 {
				g.deleteQuiz(approved)
			} else {
				g.createQuiz()
			}
		}
	}
}

func (g *Generator) createQuiz() {
	g.serial++
	topic := demoTopics[g.rng.Intn(len(demoTopics))]
	author := principal{
		userID: demoAuthors[g.rng.Intn(len(demoAuthors))],
		role:   identity.RoleUser,
	}

	nq := 2 + g.rng.Intn(3)
	questions := make([]quiz.Question, nq)
	for i := range questions {
		answers := make([]quiz.Answer, 4)
		correct := g.rng.Intn(4)
		for j := range answers {
			answers[j] = quiz.Answer{
				Text:    fmt.Sprintf("Option %c", 'A'+j),
				Correct: j == correct,
			}
		}
		questions[i] = quiz.Question{
			Text:    fmt.Sprintf("%s question %d", topic, i+1),
			Answers: answers,
		}
	}

	g.store.Create(quiz.Quiz{
		Title:           fmt.Sprintf("%s #%d", topic, g.serial),
		Description:     "Demo quiz generated for development",
		DurationSeconds: 60 + 30*g.rng.Intn(9),
		Questions:       questions,
	}, author)
}

func (g *Generator) moderate(pending []quiz.Quiz) {
	q := pending[g.rng.Intn(len(pending))]
	if g.rng.Intn(10) < 7 {
		if _, err := g.store.Approve(q.ID, g.moderator); err != nil {
			g.log.Warn().Err(err).Str("quiz_id", string(q.ID)).Msg("demo approve failed")
		}
		return
	}
	if _, err := g.store.Reject(q.ID, g.moderator); err != nil {
		g.log.Warn().Err(err).Str("quiz_id", string(q.ID)).Msg("demo reject failed")
	}
}

func (g *Generator) deleteQuiz(approved []quiz.Quiz) {
	q := approved[g.rng.Intn(len(approved))]
	if err := g.store.Delete(q.ID, g.moderator); err != nil {
		g.log.Warn().Err(err).Str("quiz_id", string(q.ID)).Msg("demo delete failed")
	}
}
