package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"buy-process-service/internal/models"
	"buy-process-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBuyProcessService struct {
	mock.Mock
}

func (m *MockBuyProcessService) Submit(ctx context.Context, req *service.SubmitRequest, rc service.RequestContext) (*service.SubmitResult, error) {
	args := m.Called(ctx, req, rc)
	res, _ := args.Get(0).(*service.SubmitResult)
	return res, args.Error(1)
}

func (m *MockBuyProcessService) GetBuyProcess(ctx context.Context, id int64) (*models.BuyProcess, error) {
	args := m.Called(ctx, id)
	bp, _ := args.Get(0).(*models.BuyProcess)
	return bp, args.Error(1)
}

func (m *MockBuyProcessService) Provision(ctx context.Context, id int64) (*models.BuyProcess, error) {
	args := m.Called(ctx, id)
	bp, _ := args.Get(0).(*models.BuyProcess)
	return bp, args.Error(1)
}

type fakeCache struct {
	all      int
	channels []int64
}

func (c *fakeCache) Invalidate() { c.all++ }

func (c *fakeCache) InvalidateChannel(channelID int64) { c.channels = append(c.channels, channelID) }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(svc BuyProcessService, cache MessageCache, checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc, cache, checks).SetupRoutes(router)
	return router
}

func perform(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const submitBody = `{"channel_id":2,"client_id":5,"point_of_sale_id":7,"product_id":1,"requested_date":"2024-03-15","amount":"500","term":12}`

func TestSubmitBuyProcessCreated(t *testing.T) {
	svc := &MockBuyProcessService{}
	svc.On("Submit", mock.Anything,
		mock.MatchedBy(func(req *service.SubmitRequest) bool {
			return req.IdempotencyKey == "pos-7-0001" && req.Amount.String() == "500"
		}),
		mock.MatchedBy(func(rc service.RequestContext) bool {
			return rc.ChannelHeader == "2" && rc.DeviceInfo == "android"
		}),
	).Return(&service.SubmitResult{BuyProcess: &models.BuyProcess{ID: 101, Status: models.StatusCompleted}}, nil)

	router := newTestRouter(svc, &fakeCache{}, nil)
	w := perform(router, http.MethodPost, "/api/v1/buy-processes", submitBody, map[string]string{
		HeaderIdempotencyKey: "pos-7-0001",
		HeaderChannel:        "2",
		HeaderDevice:         "android",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var bp models.BuyProcess
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bp))
	assert.Equal(t, int64(101), bp.ID)
	assert.Equal(t, models.StatusCompleted, bp.Status)
}

func TestSubmitBuyProcessDuplicate(t *testing.T) {
	svc := &MockBuyProcessService{}
	svc.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(&service.SubmitResult{BuyProcess: &models.BuyProcess{ID: 101}, Duplicate: true}, nil)

	w := perform(newTestRouter(svc, &fakeCache{}, nil), http.MethodPost, "/api/v1/buy-processes", submitBody, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitBuyProcessErrors(t *testing.T) {
	loanID := int64(3001)
	tests := []struct {
		name   string
		result *service.SubmitResult
		err    error
		code   int
		field  string
		want   string
	}{
		{
			name: "invalid",
			err:  fmt.Errorf("%w: amount must be positive", service.ErrInvalidRequest),
			code: http.StatusBadRequest,
		},
		{
			name: "in progress",
			err:  service.ErrSubmissionInProgress,
			code: http.StatusConflict,
		},
		{
			name:   "stage failure",
			result: &service.SubmitResult{BuyProcess: &models.BuyProcess{ID: 101, Status: models.StatusFailedApprove, LoanID: &loanID}},
			err:    &service.StageFailure{Stage: models.StageApprove, Message: "approval date cannot be before submission date"},
			code:   http.StatusBadGateway,
			field:  "error",
			want:   "approval date cannot be before submission date",
		},
		{
			name: "unexpected",
			err:  errors.New("connection refused"),
			code: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockBuyProcessService{}
			svc.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(tt.result, tt.err)

			w := perform(newTestRouter(svc, &fakeCache{}, nil), http.MethodPost, "/api/v1/buy-processes", submitBody, nil)
			assert.Equal(t, tt.code, w.Code)
			if tt.field != "" {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.want, body[tt.field])
			}
		})
	}
}

func TestSubmitBuyProcessMalformedBody(t *testing.T) {
	svc := &MockBuyProcessService{}
	w := perform(newTestRouter(svc, &fakeCache{}, nil), http.MethodPost, "/api/v1/buy-processes", `{"amount":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetBuyProcess(t *testing.T) {
	svc := &MockBuyProcessService{}
	svc.On("GetBuyProcess", mock.Anything, int64(101)).Return(&models.BuyProcess{ID: 101}, nil)
	svc.On("GetBuyProcess", mock.Anything, int64(404)).Return(nil, fmt.Errorf("buy process 404: %w", models.ErrNotFound))
	router := newTestRouter(svc, &fakeCache{}, nil)

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/api/v1/buy-processes/101", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, perform(router, http.MethodGet, "/api/v1/buy-processes/404", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/api/v1/buy-processes/abc", "", nil).Code)
}

func TestProvisionAlreadyProvisioned(t *testing.T) {
	svc := &MockBuyProcessService{}
	svc.On("Provision", mock.Anything, int64(101)).
		Return(&models.BuyProcess{ID: 101}, &service.AlreadyProvisionedError{BuyProcessID: 101, LoanID: 3001})

	w := perform(newTestRouter(svc, &fakeCache{}, nil), http.MethodPost, "/api/v1/buy-processes/101/provision", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(3001), body["loan_id"])
}

func TestProvisionNotValidated(t *testing.T) {
	svc := &MockBuyProcessService{}
	svc.On("Provision", mock.Anything, int64(101)).
		Return(&models.BuyProcess{ID: 101}, fmt.Errorf("%w: status VALIDATION_FAILED", service.ErrNotValidated))

	w := perform(newTestRouter(svc, &fakeCache{}, nil), http.MethodPost, "/api/v1/buy-processes/101/provision", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestInvalidateMessages(t *testing.T) {
	cache := &fakeCache{}
	router := newTestRouter(&MockBuyProcessService{}, cache, nil)

	assert.Equal(t, http.StatusOK, perform(router, http.MethodPost, "/api/v1/channel-messages/invalidate", "", nil).Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodPost, "/api/v1/channel-messages/invalidate?channel_id=3", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodPost, "/api/v1/channel-messages/invalidate?channel_id=x", "", nil).Code)

	assert.Equal(t, 1, cache.all)
	assert.Equal(t, []int64{3}, cache.channels)
}

func TestReadinessCheck(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	router := newTestRouter(&MockBuyProcessService{}, &fakeCache{}, map[string]Pinger{"postgres": healthy, "redis": healthy})
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/ready", "", nil).Code)

	router = newTestRouter(&MockBuyProcessService{}, &fakeCache{}, map[string]Pinger{"postgres": healthy, "redis": down})
	w := perform(router, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}
