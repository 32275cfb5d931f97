package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"featureworker/features/job"
	"featureworker/internal/queue"
)

// MockRepo implements job.Repository
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Enqueue(ctx context.Context, env queue.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return([]job.Job{{ID: "j1", Name: queue.NameCreated}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var body struct {
		Data []job.Job     `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Meta["count"])
	assert.Equal(t, "j1", body.Data[0].ID)
}

func TestHandler_List_EmptyList(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return(nil, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, nil, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("database error"))

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	mockRepo.AssertExpectations(t)
}

func TestHandler_Retry_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	svc := job.NewService(mockRepo, new(MockProducer), slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("Get", mock.Anything, "99").Return(nil, job.ErrNotFound)

	req := httptest.NewRequest("POST", "/jobs/99/retry", nil)
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()

	handler.Retry(w, req)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestHandler_Retry(t *testing.T) {
	mockRepo := new(MockRepo)
	mockProducer := new(MockProducer)
	svc := job.NewService(mockRepo, mockProducer, slog.Default())
	handler := job.NewHandler(svc)

	jobID := "job-123"
	j := &job.Job{
		ID:       jobID,
		Name:     queue.NameCreated,
		Payload:  []byte(`{"featureId":"f1","organizationId":"org1","userId":"u1"}`),
		Attempts: 3,
	}

	mockRepo.On("Get", mock.Anything, jobID).Return(j, nil)
	mockProducer.On("Enqueue", mock.Anything, mock.MatchedBy(func(env queue.Envelope) bool {
		return env.Name == queue.NameCreated && env.Attempts == 0 && env.ID != jobID
	})).Return(nil)
	mockRepo.On("Delete", mock.Anything, jobID).Return(nil)

	req := httptest.NewRequest("POST", "/jobs/"+jobID+"/retry", nil)
	req.SetPathValue("id", jobID)
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	mockRepo.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
}

func TestHandler_Retry_PublishError(t *testing.T) {
	mockRepo := new(MockRepo)
	mockProducer := new(MockProducer)
	svc := job.NewService(mockRepo, mockProducer, slog.Default())
	handler := job.NewHandler(svc)

	mockRepo.On("Get", mock.Anything, "1").Return(&job.Job{ID: "1", Name: queue.NameBulk, Payload: []byte(`{}`)}, nil)
	mockProducer.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("nsqd down"))

	req := httptest.NewRequest("POST", "/jobs/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()

	handler.Retry(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	mockRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
