package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type fakeOp struct {
	async    bool
	partials [][]byte
	err      error
	status   domain.ComputationStatus
	gotKey   string
	gotTrack string
	gotBody  []byte
}

func (f *fakeOp) Config() aggregation.Config { return aggregation.Config{Async: f.async} }

func (f *fakeOp) Request(_ context.Context, trackingID string, payload []byte) ([][]byte, error) {
	f.gotTrack, f.gotBody = trackingID, payload
	return f.partials, f.err
}

func (f *fakeOp) Submit(_ context.Context, trackingID, key string, payload []byte) (uuid.UUID, error) {
	f.gotTrack, f.gotKey, f.gotBody = trackingID, key, payload
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.MustParse("6a8f1d8e-4a43-4c1b-9f3e-0d6f9d8d2c11"), nil
}

func (f *fakeOp) Status(_ context.Context, key string) (domain.ComputationStatus, error) {
	f.gotKey = key
	if f.err != nil {
		return "", f.err
	}
	return f.status, nil
}

func (f *fakeOp) Result(context.Context, string) ([][]byte, error) {
	if f.status != domain.StatusComputed {
		return nil, aggregation.ErrStillComputing
	}
	return f.partials, nil
}

func newTestRouter(ops map[domain.OperationType]Operation) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewOperationHandler(logger.Nop(), ops)
	r := gin.New()
	r.POST("/v1/operations/:operation/requests", h.Request)
	r.POST("/v1/operations/:operation/submissions", h.Submit)
	r.GET("/v1/operations/:operation/submissions/:key", h.GetSubmission)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRequestReturnsContributions(t *testing.T) {
	op := &fakeOp{partials: [][]byte{[]byte("n1"), []byte("n2")}}
	r := newTestRouter(map[domain.OperationType]Operation{domain.OperationChoiceCodesDecryption: op})

	rec, out := do(t, r, http.MethodPost, "/v1/operations/cv-dec/requests",
		map[string]any{"tracking_id": "trk-1", "payload": []byte("ballot")})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if op.gotTrack != "trk-1" || string(op.gotBody) != "ballot" {
		t.Fatalf("forwarded: track=%q body=%q", op.gotTrack, op.gotBody)
	}
	var decoded struct {
		Operation     string   `json:"operation"`
		Contributions [][]byte `json:"contributions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Operation != string(domain.OperationChoiceCodesDecryption) {
		t.Fatalf("operation: got=%v", out["operation"])
	}
	if diff := cmp.Diff(op.partials, decoded.Contributions); diff != "" {
		t.Fatalf("contributions (-want +got):\n%s", diff)
	}
}

func TestRequestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		tag  string
	}{
		{"timeout", fmt.Errorf("%w: %w", aggregation.ErrRequestFailed, aggregation.ErrAggregationTimeout), http.StatusGatewayTimeout, "aggregation_timeout"},
		{"transport", fmt.Errorf("%w: %w", aggregation.ErrRequestFailed, &aggregation.TransportError{Op: "send", Destination: "q", Err: errors.New("down")}), http.StatusBadGateway, "transport_error"},
		{"not started", fmt.Errorf("%w: %w", aggregation.ErrRequestFailed, aggregation.ErrNotStarted), http.StatusServiceUnavailable, "not_started"},
		{"other", fmt.Errorf("%w: boom", aggregation.ErrRequestFailed), http.StatusInternalServerError, "request_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := &fakeOp{err: tc.err}
			r := newTestRouter(map[domain.OperationType]Operation{domain.OperationChoiceCodesVerification: op})
			rec, out := do(t, r, http.MethodPost, "/v1/operations/choice_codes_verification/requests",
				map[string]any{"payload": []byte("x")})
			if rec.Code != tc.code {
				t.Fatalf("status: want=%d got=%d", tc.code, rec.Code)
			}
			e, _ := out["error"].(map[string]any)
			if e["code"] != tc.tag {
				t.Fatalf("code: want=%s got=%v", tc.tag, e["code"])
			}
		})
	}
}

func TestRequestRejectsBadInput(t *testing.T) {
	op := &fakeOp{}
	async := &fakeOp{async: true}
	r := newTestRouter(map[domain.OperationType]Operation{
		domain.OperationChoiceCodesDecryption: op,
		domain.OperationChoiceCodesGeneration: async,
	})

	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/nope/requests", map[string]any{"payload": []byte("x")}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown op: want=404 got=%d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/md-keygen/requests", map[string]any{"payload": []byte("x")}); rec.Code != http.StatusNotFound {
		t.Fatalf("unconfigured op: want=404 got=%d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/cv-dec/requests", map[string]any{"tracking_id": "t"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing payload: want=400 got=%d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/cg-comp/requests", map[string]any{"payload": []byte("x")}); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("async op via requests: want=405 got=%d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/cv-dec/submissions", map[string]any{"key": "k", "payload": []byte("x")}); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("sync op via submissions: want=405 got=%d", rec.Code)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	op := &fakeOp{async: true, status: domain.StatusComputing}
	r := newTestRouter(map[domain.OperationType]Operation{domain.OperationChoiceCodesGeneration: op})

	rec, out := do(t, r, http.MethodPost, "/v1/operations/cg-comp/submissions",
		map[string]any{"tracking_id": "trk", "key": " ee-1/vcs-9 ", "payload": []byte("chunk")})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: want=202 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if op.gotKey != "ee-1/vcs-9" {
		t.Fatalf("key not trimmed: %q", op.gotKey)
	}
	if out["correlation_id"] != "6a8f1d8e-4a43-4c1b-9f3e-0d6f9d8d2c11" || out["status"] != "COMPUTING" {
		t.Fatalf("submit body: %v", out)
	}

	rec, out = do(t, r, http.MethodGet, "/v1/operations/cg-comp/submissions/k1", nil)
	if rec.Code != http.StatusAccepted || out["status"] != "COMPUTING" {
		t.Fatalf("computing: code=%d body=%v", rec.Code, out)
	}

	op.status = domain.StatusComputed
	op.partials = [][]byte{[]byte("a")}
	rec, out = do(t, r, http.MethodGet, "/v1/operations/cg-comp/submissions/k1", nil)
	if rec.Code != http.StatusOK || out["status"] != "COMPUTED" {
		t.Fatalf("computed: code=%d body=%v", rec.Code, out)
	}
}

func TestSubmissionErrors(t *testing.T) {
	op := &fakeOp{async: true, err: fmt.Errorf("%w: %w", aggregation.ErrRequestFailed, aggregation.ErrDuplicateEntry)}
	r := newTestRouter(map[domain.OperationType]Operation{domain.OperationChoiceCodesGeneration: op})

	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/cg-comp/submissions", map[string]any{"key": "k", "payload": []byte("x")}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: want=409 got=%d", rec.Code)
	}
	op.err = aggregation.ErrNotFound
	if rec, _ := do(t, r, http.MethodGet, "/v1/operations/cg-comp/submissions/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: want=404 got=%d", rec.Code)
	}
	op.err = nil
	if rec, _ := do(t, r, http.MethodPost, "/v1/operations/cg-comp/submissions", map[string]any{"key": "   ", "payload": []byte("x")}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank key: want=400 got=%d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewHealthHandler(map[string]HealthCheck{"redis": func(context.Context) error { return nil }})
	sick := NewHealthHandler(map[string]HealthCheck{"database": func(context.Context) error { return errors.New("down") }})

	for name, tc := range map[string]struct {
		h    *HealthHandler
		code int
	}{
		"healthy": {healthy, http.StatusOK},
		"sick":    {sick, http.StatusServiceUnavailable},
		"none":    {NewHealthHandler(nil), http.StatusOK},
	} {
		r := gin.New()
		r.GET("/healthz", tc.h.HealthCheck)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.code {
			t.Fatalf("%s: want=%d got=%d", name, tc.code, rec.Code)
		}
	}
}
