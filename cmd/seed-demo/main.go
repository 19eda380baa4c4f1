package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

var demoQuestions = []model.BankQuestion{
	{ID: "demo-mcq-1", QuestionText: "What is 7 x 8?", QuestionType: "mcq", Options: json.RawMessage(`["54","56","64"]`), CorrectAnswer: strPtr("56"), Marks: intPtr(2)},
	{ID: "demo-mcq-2", QuestionText: "Which gas do plants absorb?", QuestionType: "mcq", Options: json.RawMessage(`["Oxygen","Carbon dioxide","Nitrogen"]`), CorrectAnswer: strPtr("Carbon dioxide"), Marks: intPtr(2)},
	{ID: "demo-tf-1", QuestionText: "The Earth orbits the Sun.", QuestionType: "true_false", CorrectAnswer: strPtr("true"), Marks: intPtr(1)},
	{ID: "demo-essay-1", QuestionText: "Explain photosynthesis in your own words.", QuestionType: "essay", Marks: intPtr(10)},
}

// seed-demo loads a small question bank and a published exam with a few
// enrolled students, then prints tokens to try the API with.
func main() {
	var students int
	var teacherID string
	flag.IntVar(&students, "students", 5, "Number of demo students to enroll")
	flag.StringVar(&teacherID, "teacher", "demo-teacher", "Owner of the demo exam")
	flag.Parse()

	cfg, err := config.Load()
	log := logger.Setup("info", "pretty")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal().Msg("seed-demo needs STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clk := clock.System{}
	stores, err := database.OpenStores(ctx, cfg, clk, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer stores.Close()

	fmt.Println("=== Seeding demo question bank ===")
	if err := repository.NewBankRepository(stores.Pool).UpsertQuestions(ctx, demoQuestions); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed questions")
	}

	rules := cache.NewRulesCache(nil, 0, stores.Store.GetRules, log)
	exams := service.NewExamService(stores.Store, stores.Bank, rules, cfg.Policy.DefaultRules(), clk, log)
	auth := service.NewAuthService(cfg)
	teacher := model.Actor{UserID: teacherID, Role: model.RoleTeacher}

	ids := make([]string, len(demoQuestions))
	for i, q := range demoQuestions {
		ids[i] = q.ID
	}
	start := clk.Now().Truncate(time.Minute)
	end := start.Add(4 * time.Hour)
	exam, err := exams.Create(ctx, teacher, model.CreateExamRequest{
		Title:           "Demo science quiz",
		DurationMinutes: 45,
		QuestionIDs:     ids,
		StartTime:       &start,
		EndTime:         &end,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	if _, err := exams.ConfigureRules(ctx, teacher, exam.ID, model.ConfigureRulesRequest{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure rules")
	}

	studentIDs := make([]string, students)
	for i := range studentIDs {
		studentIDs[i] = fmt.Sprintf("demo-student-%02d", i+1)
	}
	if _, err := exams.Enroll(ctx, teacher, exam.ID, studentIDs); err != nil {
		log.Fatal().Err(err).Msg("Failed to enroll students")
	}

	if _, err := exams.Publish(ctx, teacher, exam.ID, model.PublishExamRequest{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish exam")
	}

	fmt.Printf("\nExam %s is ACTIVE until %s\n\n", exam.ID, end.Format(time.RFC3339))
	printToken(auth, teacher)
	for _, id := range studentIDs {
		printToken(auth, model.Actor{UserID: id, Role: model.RoleStudent})
	}
}

func printToken(auth *service.AuthService, actor model.Actor) {
	token, err := auth.IssueToken(actor, time.Now())
	if err != nil {
		fmt.Printf("%-18s error: %v\n", actor.UserID, err)
		return
	}
	fmt.Printf("%-18s %-8s %s\n", actor.UserID, actor.Role, token)
}
