package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
	"golang.org/x/crypto/bcrypt"
)

const (
	examID  = "0b5e6a56-3f0e-4c55-9d7a-5a0f3e0c1a01"
	q1      = "4a4f9b0e-8c6b-4b59-9a55-0c3a0a1b0001"
	q2      = "4a4f9b0e-8c6b-4b59-9a55-0c3a0a1b0002"
	ownerID = "7eac4e70-0000-4000-8000-000000000001"
)

type users map[string]*model.User

func (u users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if v, ok := u[email]; ok {
		return v, nil
	}
	return nil, pgx.ErrNoRows
}

type exams struct{ exam *model.Exam }

func (e exams) GetExam(_ context.Context, id string) (*model.Exam, error) {
	if id != e.exam.ID {
		return nil, service.ErrExamNotFound
	}
	return e.exam, nil
}

type attempts struct {
	mu   sync.Mutex
	byID map[string]*model.Attempt
}

func (a *attempts) GetByID(_ context.Context, id string) (*model.Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.byID[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (a *attempts) GetByExamAndStudent(_ context.Context, examID, studentID string) (*model.Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, v := range a.byID {
		if v.ExamID == examID && v.StudentID == studentID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (a *attempts) Create(_ context.Context, at *model.Attempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *at
	a.byID[at.ID] = &cp
	return nil
}

func (a *attempts) Submit(_ context.Context, id string, p model.SubmitPayload, at time.Time) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.byID[id]
	if !ok || v.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	v.Status = model.AttemptStatusSubmitted
	v.SubmittedAt = &at
	return true, nil
}

// snapshotBus keeps the newest snapshot time per attempt and drops the rest.
type snapshotBus struct {
	mu     sync.Mutex
	latest map[string]time.Time
}

func (b *snapshotBus) StoreSnapshot(_ context.Context, id string, p model.AutosavePayload) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		b.latest = map[string]time.Time{}
	}
	if b.latest[id].After(p.SavedAt) {
		return false, nil
	}
	b.latest[id] = p.SavedAt
	return true, nil
}

func (*snapshotBus) EnqueueAutosave(context.Context, model.AutosaveJob) error { return nil }
func (*snapshotBus) EnqueueScore(context.Context, model.ScoreJob) error       { return nil }
func (*snapshotBus) Publish(context.Context, ws.MonitorEvent) error           { return nil }

type progress []model.AttemptProgress

func (p progress) ListProgress(_ context.Context, id string) ([]model.AttemptProgress, error) {
	if id != examID {
		return nil, nil
	}
	return p, nil
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	auth   *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: "router-secret", JWTExpiry: time.Hour}
	authSvc := service.NewAuthService(cfg, users{
		"alice@school.id": {ID: "a11ce000-0000-4000-8000-000000000001", Email: "alice@school.id", Name: "Alice",
			Role: model.RoleStudent, Status: model.AccountStatusActive, PasswordHash: string(hash)},
	})

	exam := &model.Exam{
		ID:              examID,
		Title:           "Mechanics",
		DurationMinutes: 30,
		TeacherID:       ownerID,
		Questions: []model.Question{
			{ID: q1, Prompt: "g?", Marks: 1, Body: model.MultipleChoice{Options: []model.Option{{Key: "A", Label: "9.8"}, {Key: "B", Label: "10"}}}},
			{ID: q2, Prompt: "Explain inertia", Marks: 5, Body: model.ShortAnswer{}},
		},
	}
	provider := exams{exam: exam}
	attemptSvc := service.NewAttemptService(&attempts{byID: map[string]*model.Attempt{}}, provider, &snapshotBus{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine := SetupRouter(ctx, authSvc, &Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		StudentPortal: handler.NewStudentPortalHandler(provider, zerolog.Nop()),
		Attempt:       handler.NewAttemptHandler(attemptSvc, zerolog.Nop()),
		Monitor:       handler.NewMonitorHandler(nil, provider, progress{
			{AttemptID: "at-1", StudentName: "Alice", Status: model.AttemptStatusInProgress, Answered: 1, TabWarnings: 2},
		}, zerolog.Nop(), nil),
	}, cfg)

	return &testServer{t: t, engine: engine, auth: authSvc}
}

func (s *testServer) token(u model.User) string {
	s.t.Helper()
	tok, err := s.auth.GenerateToken(&u)
	if err != nil {
		s.t.Fatalf("token: %v", err)
	}
	return tok
}

// call performs a request and decodes the envelope; data is decoded into out when non-nil.
func (s *testServer) call(method, path, token string, body any, out any) (int, *response.Envelope, http.Header) {
	s.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env response.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: decode envelope: %v (%s)", method, path, err, w.Body.String())
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			s.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return w.Code, &env, w.Header()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		if code, _, _ := s.call(http.MethodGet, path, "", nil, nil); code != http.StatusOK {
			t.Errorf("GET %s = %d", path, code)
		}
	}
}

func TestAttemptLifecycle(t *testing.T) {
	s := newTestServer(t)

	var login model.LoginResponse
	code, _, _ := s.call(http.MethodPost, "/api/v1/auth/login", "",
		model.LoginRequest{Email: "alice@school.id", Password: "secret123"}, &login)
	if code != http.StatusOK || login.Token == "" {
		t.Fatalf("login = %d %+v", code, login)
	}
	tok := login.Token

	var paper struct {
		Exam json.RawMessage `json:"exam"`
	}
	code, _, hdr := s.call(http.MethodGet, "/api/v1/student/exams/"+examID, tok, nil, &paper)
	if code != http.StatusOK {
		t.Fatalf("get exam = %d", code)
	}
	if strings.Contains(string(paper.Exam), ownerID) {
		t.Error("exam payload leaks the owning teacher id")
	}
	if got := hdr.Get("Cache-Control"); !strings.HasPrefix(got, "private") {
		t.Errorf("exam Cache-Control = %q", got)
	}

	var first, second model.StartAttemptResponse
	if code, _, _ = s.call(http.MethodPost, "/api/v1/attempts/start/"+examID, tok, nil, &first); code != http.StatusCreated {
		t.Fatalf("first start = %d", code)
	}
	if code, _, _ = s.call(http.MethodPost, "/api/v1/attempts/start/"+examID, tok, nil, &second); code != http.StatusOK {
		t.Fatalf("second start = %d", code)
	}
	if second.AttemptID != first.AttemptID || !second.Resumed {
		t.Fatalf("second start = %+v, want resume of %+v", second, first)
	}

	answer := "A"
	entries := []model.AnswerEntry{{QuestionID: q1, Response: &answer}, {QuestionID: q2}}

	code, _, hdr = s.call(http.MethodPatch, "/api/v1/attempts/"+first.AttemptID+"/autosave", tok,
		model.AutosavePayload{Answers: entries, RemainingSec: 1700}, nil)
	if code != http.StatusOK {
		t.Fatalf("autosave = %d", code)
	}
	if hdr.Get("Cache-Control") != "no-store" {
		t.Errorf("attempt Cache-Control = %q", hdr.Get("Cache-Control"))
	}

	// A retried snapshot older than the stored one is acknowledged, not applied.
	var ack struct {
		Status string `json:"status"`
	}
	code, _, _ = s.call(http.MethodPatch, "/api/v1/attempts/"+first.AttemptID+"/autosave", tok,
		model.AutosavePayload{Answers: entries, SavedAt: time.Now().Add(-time.Hour)}, &ack)
	if code != http.StatusOK || ack.Status != "superseded" {
		t.Fatalf("stale autosave = %d %q, want 200 superseded", code, ack.Status)
	}

	var submitted model.SubmitResponse
	code, _, _ = s.call(http.MethodPost, "/api/v1/attempts/submit/"+first.AttemptID, tok,
		model.SubmitPayload{Answers: entries}, &submitted)
	if code != http.StatusOK || submitted.Status != model.AttemptStatusSubmitted {
		t.Fatalf("submit = %d %+v", code, submitted)
	}

	code, env, _ := s.call(http.MethodPost, "/api/v1/attempts/submit/"+first.AttemptID, tok,
		model.SubmitPayload{Answers: entries}, nil)
	if code != http.StatusConflict || env.Error == nil || env.Error.Code != response.ErrAttemptSubmitted {
		t.Fatalf("second submit = %d %+v", code, env.Error)
	}

	code, _, _ = s.call(http.MethodPatch, "/api/v1/attempts/"+first.AttemptID+"/autosave", tok,
		model.AutosavePayload{Answers: entries}, nil)
	if code != http.StatusConflict {
		t.Fatalf("late autosave = %d, want 409", code)
	}

	code, _, _ = s.call(http.MethodPost, "/api/v1/attempts/start/"+examID, tok, nil, nil)
	if code != http.StatusConflict {
		t.Fatalf("start after submit = %d, want 409", code)
	}
}

func TestAttemptErrors(t *testing.T) {
	s := newTestServer(t)
	alice := model.User{ID: "a11ce000-0000-4000-8000-000000000001", Role: model.RoleStudent}
	tok := s.token(alice)

	var started model.StartAttemptResponse
	if code, _, _ := s.call(http.MethodPost, "/api/v1/attempts/start/"+examID, tok, nil, &started); code != http.StatusCreated {
		t.Fatalf("start = %d", code)
	}

	stray := "x"
	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     any
		wantCode int
		wantErr  response.ErrCode
	}{
		{"missing token", http.MethodPost, "/api/v1/attempts/start/" + examID, "", nil, http.StatusUnauthorized, response.ErrTokenRequired},
		{"teacher on student route", http.MethodGet, "/api/v1/student/exams/" + examID,
			s.token(model.User{ID: ownerID, Role: model.RoleTeacher}), nil, http.StatusForbidden, response.ErrStudentAccessOnly},
		{"bad exam id", http.MethodGet, "/api/v1/student/exams/nope", tok, nil, http.StatusBadRequest, response.ErrInvalidID},
		{"unknown exam", http.MethodPost, "/api/v1/attempts/start/11111111-1111-4111-8111-111111111111", tok, nil, http.StatusNotFound, response.ErrExamNotFound},
		{"unknown attempt", http.MethodPost, "/api/v1/attempts/submit/22222222-2222-4222-8222-222222222222", tok,
			model.SubmitPayload{}, http.StatusNotFound, response.ErrAttemptNotFound},
		{"foreign attempt", http.MethodPost, "/api/v1/attempts/submit/" + started.AttemptID,
			s.token(model.User{ID: "b0b00000-0000-4000-8000-000000000002", Role: model.RoleStudent}),
			model.SubmitPayload{}, http.StatusForbidden, response.ErrNotAttemptOwner},
		{"unknown question", http.MethodPatch, "/api/v1/attempts/" + started.AttemptID + "/autosave", tok,
			model.AutosavePayload{Answers: []model.AnswerEntry{{QuestionID: "33333333-3333-4333-8333-333333333333", Response: &stray}}},
			http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
		{"invalid payload", http.MethodPatch, "/api/v1/attempts/" + started.AttemptID + "/autosave", tok,
			map[string]any{"remainingSec": -1}, http.StatusBadRequest, response.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env, _ := s.call(tt.method, tt.path, tt.token, tt.body, nil)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Fatalf("error = %+v, want %s", env.Error, tt.wantErr)
			}
		})
	}
}

func TestMonitorAccess(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		user     model.User
		exam     string
		wantCode int
	}{
		{"student", model.User{ID: "a11ce000-0000-4000-8000-000000000001", Role: model.RoleStudent}, examID, http.StatusForbidden},
		{"other teacher", model.User{ID: "0ther000-0000-4000-8000-000000000009", Role: model.RoleTeacher}, examID, http.StatusForbidden},
		{"unknown exam", model.User{ID: ownerID, Role: model.RoleTeacher}, "11111111-1111-4111-8111-111111111111", http.StatusNotFound},
		// Ownership passes; without Redis the monitor reports itself unavailable.
		{"owner without redis", model.User{ID: ownerID, Role: model.RoleTeacher}, examID, http.StatusServiceUnavailable},
		{"super admin", model.User{ID: "5a000000-0000-4000-8000-000000000001", Role: model.RoleSuperAdmin}, examID, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/ws/v1/teacher/exams/" + tt.exam + "/monitor?token=" + s.token(tt.user)
			code, _, _ := s.call(http.MethodGet, path, "", nil, nil)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestTeacherProgress(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(model.User{ID: ownerID, Role: model.RoleTeacher})

	var snap ws.MonitorSnapshot
	code, _, hdr := s.call(http.MethodGet, "/api/v1/teacher/exams/"+examID+"/attempts", owner, nil, &snap)
	if code != http.StatusOK {
		t.Fatalf("progress = %d", code)
	}
	if snap.Event != ws.EventSnapshot || snap.Total != 2 || len(snap.Attempts) != 1 || snap.Attempts[0].TabWarnings != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if hdr.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", hdr.Get("Cache-Control"))
	}

	student := s.token(model.User{ID: "a11ce000-0000-4000-8000-000000000001", Role: model.RoleStudent})
	if code, _, _ := s.call(http.MethodGet, "/api/v1/teacher/exams/"+examID+"/attempts", student, nil, nil); code != http.StatusForbidden {
		t.Fatalf("student progress = %d, want 403", code)
	}
	other := s.token(model.User{ID: "0ther000-0000-4000-8000-000000000009", Role: model.RoleTeacher})
	if code, _, _ := s.call(http.MethodGet, "/api/v1/teacher/exams/"+examID+"/attempts", other, nil, nil); code != http.StatusForbidden {
		t.Fatalf("foreign teacher progress = %d, want 403", code)
	}
}
