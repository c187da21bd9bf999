package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Service is the OCR/LLM backend contract the pipeline depends on. Network
// and quota failures surface as plain errors; callers classify them as
// transient for queue retry purposes.
type Service interface {
	// AnalyzePage recognizes text on a rasterized page image.
	AnalyzePage(ctx context.Context, imageBytes []byte, mimeType string) (PageResult, error)
	// AnalyzeScore derives catalog metadata and part layout from extracted text.
	AnalyzeScore(ctx context.Context, text string) (ScoreAnalysis, error)
	// HealthCheck verifies the API key and model are usable.
	HealthCheck(ctx context.Context) error
}

// PageResult is the recognized text of one page.
type PageResult struct {
	Text string `json:"text"`
}

// ScoreAnalysis is the structured metadata the backend proposes for an
// uploaded score. Page indices in Parts are 0-indexed and inclusive.
type ScoreAnalysis struct {
	Title           string             `json:"title"`
	Composer        string             `json:"composer"`
	Arranger        string             `json:"arranger"`
	Publisher       string             `json:"publisher"`
	Difficulty      string             `json:"difficulty"`
	Genre           string             `json:"genre"`
	Style           string             `json:"style"`
	DurationSeconds int                `json:"duration_seconds"`
	Notes           string             `json:"notes"`
	Parts           []DetectedPart     `json:"parts"`
	Confidence      map[string]float64 `json:"confidence"`
	Raw             string             `json:"-"`
}

// DetectedPart is one instrument part the backend found in the packet.
type DetectedPart struct {
	Label      string  `json:"label"`
	StartPage  int     `json:"start_page"`
	EndPage    int     `json:"end_page"`
	Confidence float64 `json:"confidence"`
}

const pageOCRPrompt = `You are an OCR engine for scanned sheet music. ` +
	`Transcribe every piece of text visible on the page image: title, composer, ` +
	`instrument names, rehearsal marks, lyrics, publisher imprints. Respond with ` +
	`JSON only: {"text": "<all recognized text, one line per printed line>"}.`

const scoreAnalysisPrompt = `You are a music librarian cataloging concert band ` +
	`sheet music. Given the extracted text of an uploaded PDF, identify the piece ` +
	`metadata and the instrument parts it contains. Page numbers are 0-indexed and ` +
	`inclusive. Respond with JSON only, shaped as: ` +
	`{"title":"","composer":"","arranger":"","publisher":"","difficulty":"",` +
	`"genre":"","style":"","duration_seconds":0,"notes":"",` +
	`"parts":[{"label":"","start_page":0,"end_page":0,"confidence":0.0}],` +
	`"confidence":{"title":0.0,"composer":0.0}}. ` +
	`Omit parts you cannot locate; never invent instruments.`

// AnalyzePage sends one rasterized page to the backend for text recognition.
func (c *Client) AnalyzePage(ctx context.Context, imageBytes []byte, mimeType string) (PageResult, error) {
	var result PageResult
	if len(imageBytes) == 0 {
		return result, errors.New("vision analyze page: image required")
	}
	if c.cfg.APIKey == "" {
		return result, errors.New("vision analyze page: api key required")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(imageBytes)
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: pageOCRPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, err := c.completionContentWithRetry(ctx, payload, "vision analyze page")
	if err != nil {
		return result, err
	}
	if err := DecodeModelJSON(content, &result); err != nil {
		return result, fmt.Errorf("vision analyze page: parse payload: %w", err)
	}
	return result, nil
}

// AnalyzeScore asks the backend to propose catalog metadata for the given
// extracted text.
func (c *Client) AnalyzeScore(ctx context.Context, text string) (ScoreAnalysis, error) {
	var analysis ScoreAnalysis
	text = strings.TrimSpace(text)
	if text == "" {
		return analysis, errors.New("vision analyze score: text required")
	}
	if c.cfg.APIKey == "" {
		return analysis, errors.New("vision analyze score: api key required")
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: scoreAnalysisPrompt},
			{Role: "user", Content: text},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, err := c.completionContentWithRetry(ctx, payload, "vision analyze score")
	if err != nil {
		return analysis, err
	}
	if err := DecodeModelJSON(content, &analysis); err != nil {
		return analysis, fmt.Errorf("vision analyze score: parse payload: %w", err)
	}
	analysis.Raw = content
	analysis.Title = strings.TrimSpace(analysis.Title)
	for key, score := range analysis.Confidence {
		if score < 0 {
			analysis.Confidence[key] = 0
		}
		if score > 1 {
			analysis.Confidence[key] = 1
		}
	}
	return analysis, nil
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("vision health: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: `Respond with {"ok":true}`},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	content, err := c.completionContentWithRetry(ctx, payload, "vision health")
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeModelJSON(content, &parsed); err != nil {
		return fmt.Errorf("vision health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("vision health: unexpected response")
	}
	return nil
}
