// Package api exposes a loaded classifier over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/logger"
	"github.com/samcharles93/qref/internal/tensor"
	"github.com/samcharles93/qref/internal/version"
)

// Model is a classifier that knows its input and output sizes.
type Model interface {
	classifier.Model
	InputShape() tensor.Shape
	NumClasses() int
}

type Server struct {
	name  string
	model Model
	db    classifier.Database
	store *ClassificationStore
	topK  int
	clock func() time.Time
}

// NewServer serves model under name. db may be nil, in which case the test
// case routes answer 404.
func NewServer(name string, model Model, db classifier.Database, store *ClassificationStore) *Server {
	if store == nil {
		store = NewClassificationStore(0)
	}
	return &Server{
		name:  name,
		model: model,
		db:    db,
		store: store,
		topK:  classifier.DefaultTopK,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/classify", s.handleClassify)
	e.GET("/v1/classifications/:id", s.handleGetClassification)
	e.GET("/v1/testcases/:id", s.handleGetTestCase)
	e.POST("/v1/testcases/:id/classify", s.handleClassifyTestCase)
}

func (s *Server) handleHealth(c *echo.Context) error {
	shape := s.model.InputShape()
	return c.JSON(http.StatusOK, Health{
		Status:     "ok",
		Model:      s.name,
		Classes:    s.model.NumClasses(),
		InputShape: shape[:],
		TestCases:  s.db != nil,
		Version:    version.String(),
	})
}

func (s *Server) handleClassify(c *echo.Context) error {
	req, err := decodeJSON[ClassifyRequest](c.Request().Body)
	if err != nil {
		return writeRequestError(c, err)
	}
	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return writeRequestError(c, err)
	}
	if want := s.model.InputShape().NumElements(); len(req.Input) != want {
		return writeRequestError(c, invalidParam("input", "input has %d values, model expects %d", len(req.Input), want))
	}

	output, err := s.model.Infer(c.Request().Context(), req.Input)
	if err != nil {
		logger.FromContext(c.Request().Context()).Error("inference failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	label := -1
	if req.Label != nil {
		label = *req.Label
	}
	o := classifier.Evaluate(0, label, output, classifier.Rules{TopK: topK})
	if o.Result == classifier.Abort {
		return writeError(c, http.StatusInternalServerError, "server_error", o.Reason, "", "")
	}
	out := s.newClassification(o)
	if req.Label != nil {
		out.Label = req.Label
		correct := o.Prediction == *req.Label
		out.Correct = &correct
	}
	s.store.Put(out)
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetClassification(c *echo.Context) error {
	out, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "classification not found")
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTestCase(c *echo.Context) error {
	tc, err := s.lookupTestCase(c)
	if err != nil || tc == nil {
		return err
	}
	shape := s.model.InputShape()
	return c.JSON(http.StatusOK, TestCaseInfo{ID: tc.ID, Label: tc.Label, Shape: shape[:]})
}

// handleClassifyTestCase runs a stored test case with the same rules as a
// default-id sweep: the prediction must match the label.
func (s *Server) handleClassifyTestCase(c *echo.Context) error {
	tc, err := s.lookupTestCase(c)
	if err != nil || tc == nil {
		return err
	}
	output, err := s.model.Infer(c.Request().Context(), tc.Input)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	o := classifier.Evaluate(tc.ID, tc.Label, output, classifier.Rules{RequireLabel: true, TopK: s.topK})
	out := s.newClassification(o)
	out.TestCase = &tc.ID
	out.Label = &tc.Label
	correct := o.Result == classifier.Ok
	out.Correct = &correct
	out.Result = o.Result.String()
	out.Reason = o.Reason
	s.store.Put(out)
	return c.JSON(http.StatusOK, out)
}

// lookupTestCase writes the error response itself and returns a nil test case
// when the request cannot be served.
func (s *Server) lookupTestCase(c *echo.Context) (*classifier.TestCase, error) {
	if s.db == nil {
		return nil, writeNotFound(c, "no test case database loaded")
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, writeBadRequest(c, "test case id must be an integer")
	}
	tc, err := s.db.TestCase(id)
	if errors.Is(err, classifier.ErrTestCaseNotFound) {
		return nil, writeNotFound(c, err.Error())
	}
	if err != nil {
		return nil, writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	return tc, nil
}

func (s *Server) resolveTopK(k *int) (int, error) {
	if k == nil {
		return s.topK, nil
	}
	if *k < 1 || *k > s.model.NumClasses() {
		return 0, invalidParam("top_k", "top_k must be in [1, %d]", s.model.NumClasses())
	}
	return *k, nil
}

func (s *Server) newClassification(o classifier.Outcome) Classification {
	return Classification{
		ID:         newClassificationID(),
		Object:     "classification",
		CreatedAt:  s.clock().Unix(),
		Model:      s.name,
		Prediction: o.Prediction,
		Top:        o.Top,
	}
}
