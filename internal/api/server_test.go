package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/tensor"
)

// sumModel scores class k as k times the input sum.
type sumModel struct {
	classes int
	fail    bool
}

func (m sumModel) Infer(_ context.Context, input []float32) ([]float32, error) {
	if m.fail {
		return nil, errors.New("boom")
	}
	var sum float32
	for _, v := range input {
		sum += v
	}
	out := make([]float32, m.classes)
	for k := range out {
		out[k] = float32(k) * sum
	}
	return out, nil
}

func (m sumModel) InputShape() tensor.Shape { return tensor.Shape{1, 1, 1, 2} }
func (m sumModel) NumClasses() int          { return m.classes }

type testDB map[int]*classifier.TestCase

func (d testDB) TestCase(id int) (*classifier.TestCase, error) {
	tc, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", classifier.ErrTestCaseNotFound, id)
	}
	return tc, nil
}

func (d testDB) DefaultIDs() []int { return nil }

func newTestEcho(model Model, db classifier.Database) *echo.Echo {
	server := NewServer("sum", model, db, NewClassificationStore(4))
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body=%s", rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newTestEcho(sumModel{classes: 3}, nil)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[Health](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "sum", h.Model)
	assert.Equal(t, 3, h.Classes)
	assert.Equal(t, []int{1, 1, 1, 2}, h.InputShape)
	assert.False(t, h.TestCases)
	assert.NotEmpty(t, h.Version)
}

func TestClassifyAndFetch(t *testing.T) {
	t.Parallel()
	e := newTestEcho(sumModel{classes: 4}, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/classify", `{"input":[1,2],"top_k":2,"label":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[Classification](t, rec)
	assert.True(t, strings.HasPrefix(got.ID, "cls_"))
	assert.Equal(t, "classification", got.Object)
	assert.Equal(t, 3, got.Prediction)
	assert.Equal(t, []classifier.Prediction{{Class: 3, Confidence: 9}, {Class: 2, Confidence: 6}}, got.Top)
	require.NotNil(t, got.Correct)
	assert.True(t, *got.Correct)

	rec = doJSON(t, e, http.MethodGet, "/v1/classifications/"+got.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, got, decode[Classification](t, rec))

	rec = doJSON(t, e, http.MethodGet, "/v1/classifications/cls_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassifyTiesPickLowestClass(t *testing.T) {
	t.Parallel()
	e := newTestEcho(sumModel{classes: 4}, nil)
	// zero input: every class scores 0
	rec := doJSON(t, e, http.MethodPost, "/v1/classify", `{"input":[0,0]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[Classification](t, rec)
	assert.Equal(t, 0, got.Prediction)
	assert.Len(t, got.Top, 4)
	assert.Nil(t, got.Correct)
}

func TestClassifyRejectsBadRequests(t *testing.T) {
	t.Parallel()
	e := newTestEcho(sumModel{classes: 3}, nil)

	for _, tc := range []struct {
		body  string
		param string
	}{
		{`{"input":[1,2,3]}`, "input"},
		{`{"input":[1,2],"top_k":0}`, "top_k"},
		{`{"input":[1,2],"top_k":4}`, "top_k"},
		{`{"input":"nope"}`, ""},
		{`{"input":[1,2],"temperature":1}`, ""},
		{`not json`, ""},
	} {
		rec := doJSON(t, e, http.MethodPost, "/v1/classify", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", tc.body)
		var env struct {
			Error ResponseError `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "invalid_request_error", env.Error.Type)
		assert.Equal(t, tc.param, env.Error.Param, "body %s", tc.body)
		assert.NotEmpty(t, env.Error.Message)
	}
}

func TestWriteRequestError(t *testing.T) {
	t.Parallel()

	write := func(err error) *httptest.ResponseRecorder {
		e := echo.New()
		e.GET("/", func(c *echo.Context) error { return writeRequestError(c, err) })
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec
	}

	err := fmt.Errorf("decode: %w", invalidParam("top_k", "must be positive"))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "decode: top_k: must be positive", err.Error())
	rec := write(err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"param":"top_k"`)

	rec = write(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "server_error")
}

func TestClassifyModelFailure(t *testing.T) {
	t.Parallel()
	e := newTestEcho(sumModel{classes: 3, fail: true}, nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/classify", `{"input":[1,2]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTestCaseRoutes(t *testing.T) {
	t.Parallel()
	db := testDB{
		0: {ID: 0, Label: 2, Input: []float32{1, 1}},
		1: {ID: 1, Label: 0, Input: []float32{1, 1}},
	}
	e := newTestEcho(sumModel{classes: 3}, db)

	rec := doJSON(t, e, http.MethodGet, "/v1/testcases/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, TestCaseInfo{ID: 1, Label: 0, Shape: []int{1, 1, 1, 2}}, decode[TestCaseInfo](t, rec))

	rec = doJSON(t, e, http.MethodPost, "/v1/testcases/0/classify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decode[Classification](t, rec)
	assert.Equal(t, "ok", ok.Result)
	require.NotNil(t, ok.TestCase)
	assert.Equal(t, 0, *ok.TestCase)
	assert.True(t, *ok.Correct)

	rec = doJSON(t, e, http.MethodPost, "/v1/testcases/1/classify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[Classification](t, rec)
	assert.Equal(t, "failed", failed.Result)
	assert.False(t, *failed.Correct)
	assert.Contains(t, failed.Reason, "incorrect")

	assert.Equal(t, http.StatusNotFound, doJSON(t, e, http.MethodGet, "/v1/testcases/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, e, http.MethodGet, "/v1/testcases/x", "").Code)

	noDB := newTestEcho(sumModel{classes: 3}, nil)
	assert.Equal(t, http.StatusNotFound, doJSON(t, noDB, http.MethodGet, "/v1/testcases/0", "").Code)
}

func TestClassificationStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewClassificationStore(2)
	s.Put(Classification{ID: "a"})
	s.Put(Classification{ID: "b"})
	s.Put(Classification{ID: "a", Prediction: 7})
	s.Put(Classification{ID: "c"})

	_, ok := s.Get("a")
	assert.False(t, ok)
	b, ok := s.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b", b.ID)
	assert.Equal(t, 2, s.Len())
}
