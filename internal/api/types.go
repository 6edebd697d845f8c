package api

import "github.com/samcharles93/qref/internal/classifier"

type ClassifyRequest struct {
	// Input is one NCHW image with batch 1, flattened.
	Input []float32 `json:"input"`
	// TopK overrides the number of ranked classes returned.
	TopK *int `json:"top_k,omitempty"`
	// Label, when set, is compared against the prediction.
	Label *int `json:"label,omitempty"`
}

type Classification struct {
	ID         string                  `json:"id"`
	Object     string                  `json:"object"`
	CreatedAt  int64                   `json:"created_at"`
	Model      string                  `json:"model"`
	Prediction int                     `json:"prediction"`
	Top        []classifier.Prediction `json:"top"`
	Label      *int                    `json:"label,omitempty"`
	Correct    *bool                   `json:"correct,omitempty"`
	TestCase   *int                    `json:"test_case,omitempty"`
	Result     string                  `json:"result,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

type TestCaseInfo struct {
	ID    int   `json:"id"`
	Label int   `json:"label"`
	Shape []int `json:"shape"`
}

type Health struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Classes    int    `json:"classes"`
	InputShape []int  `json:"input_shape"`
	TestCases  bool   `json:"test_cases"`
	Version    string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
