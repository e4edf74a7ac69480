package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pss-server/pkg/auth"
	"pss-server/pkg/config"
	"pss-server/pkg/database"
	"pss-server/pkg/messaging"
	"pss-server/pkg/milestones"
	"pss-server/pkg/planner"
	"pss-server/pkg/stt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestRepository(t *testing.T) *database.Repository {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          ":memory:",
		QueryTimeout: 5 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	return database.NewRepository(db, testLogger())
}

var (
	alice = &auth.UserInfo{UserID: "alice", OrgID: "org-a", Role: "specialist"}
	bob   = &auth.UserInfo{UserID: "bob", OrgID: "org-b", Role: "specialist"}
)

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Upload(ctx context.Context, audio io.Reader) (string, error) {
	args := m.Called(ctx, audio)
	return args.String(0), args.Error(1)
}

func (m *mockTranscriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	args := m.Called(ctx, req)
	transcript, _ := args.Get(0).(*stt.Transcript)
	return transcript, args.Error(1)
}

type mockAudioStore struct {
	mock.Mock
}

func (m *mockAudioStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	return m.Called(ctx, key, contentType, body, size).Error(0)
}

func (m *mockAudioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockAudioStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) GeneratePlan(ctx context.Context, goal planner.GoalPrompt) (*milestones.PhasedPlan, error) {
	args := m.Called(ctx, goal)
	plan, _ := args.Get(0).(*milestones.PhasedPlan)
	return plan, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event messaging.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
