package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

func main() {
	var (
		examFile     string
		teacherEmail string
		password     string
		students     int
	)
	flag.StringVar(&examFile, "file", "", "JSON exam definition (default: built-in demo exam)")
	flag.StringVar(&teacherEmail, "teacher", "teacher@exstem.local", "Email of the owning teacher")
	flag.StringVar(&password, "password", "stemsijaya", "Password for every seeded account")
	flag.IntVar(&students, "students", 5, "Number of student accounts to seed")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, 4, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	users := repository.NewUserRepository(pool)
	authService := service.NewAuthService(cfg, users)
	examService := service.NewExamService(repository.NewExamRepository(pool), rdb, log)

	req, err := loadExam(examFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid exam definition")
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	fmt.Println("=== Seeding sandbox ===")

	teacher := &model.User{
		Email: teacherEmail, Name: "Demo Teacher",
		Role: model.RoleTeacher, Status: model.AccountStatusActive, PasswordHash: hash,
	}
	if err := users.Upsert(ctx, teacher); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed teacher")
	}
	fmt.Printf("Teacher %s (%s)\n", teacher.Email, teacher.ID)

	names := []string{
		"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
		"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	}
	seeded := 0
	for i := 0; i < students; i++ {
		name := fmt.Sprintf("Student %d", i+1)
		if i < len(names) {
			name = names[i]
		}
		s := &model.User{
			Email: fmt.Sprintf("student%d@exstem.local", i+1), Name: name,
			Role: model.RoleStudent, Status: model.AccountStatusActive, PasswordHash: hash,
		}
		if err := users.Upsert(ctx, s); err != nil {
			fmt.Printf("Error seeding %s: %v\n", s.Email, err)
			continue
		}
		seeded++
	}
	fmt.Printf("Seeded %d/%d students (student1@exstem.local ...)\n", seeded, students)

	examID, err := examService.Create(ctx, req, teacher.ID, "ExStem Sandbox")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	fmt.Printf("\nSeed completed! Exam %q: %s\n", req.Title, examID)
	fmt.Printf("Take it with: attempt take %s\n", examID)
}

// loadExam reads and validates an exam definition, or returns the demo exam.
func loadExam(path string) (*model.CreateExamRequest, error) {
	req := demoExam()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		req = &model.CreateExamRequest{}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%v", validator.TranslateErrors(err))
	}
	return req, nil
}

func demoExam() *model.CreateExamRequest {
	return &model.CreateExamRequest{
		Title:           "Physics Basics",
		Instructions:    "Answer every question. Multiple-choice answers are graded automatically.",
		DurationMinutes: 20,
		Questions: []model.CreateQuestionRequest{
			{
				Type: model.QuestionTypeMultipleChoice, Prompt: "What is the SI unit of force?", Marks: 2,
				Options:       map[string]string{"A": "Joule", "B": "Newton", "C": "Watt", "D": "Pascal"},
				CorrectOption: "B",
			},
			{
				Type: model.QuestionTypeMultipleChoice, Prompt: "Approximate gravitational acceleration on Earth (m/s²)?", Marks: 2,
				Options:       map[string]string{"A": "9.8", "B": "3.0", "C": "1.6", "D": "98"},
				CorrectOption: "A",
			},
			{
				Type: model.QuestionTypeMultipleChoice, Prompt: "Which quantity is a vector?", Marks: 1,
				Options:       map[string]string{"A": "Mass", "B": "Temperature", "C": "Velocity"},
				CorrectOption: "C",
			},
			{
				Type: model.QuestionTypeShortAnswer, Prompt: "State Newton's first law in your own words.", Marks: 5,
			},
		},
	}
}
