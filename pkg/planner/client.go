// Package planner drafts phased recovery plans with an OpenAI-compatible
// chat completion API.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/config"
	"pss-server/pkg/errors"
	"pss-server/pkg/metrics"
	"pss-server/pkg/milestones"
)

const jsonResponseType = "json_object"

const systemPrompt = `You help peer support specialists turn a participant's recovery goal into a plan.
Respond with JSON only, using this shape:
{"preparation": {"title": "", "description": "", "actions": [""]},
 "action": {"title": "", "description": "", "actions": [""]},
 "followThrough": {"title": "", "description": "", "actions": [""]},
 "maintenance": {"title": "", "description": "", "actions": [""]}}
Each action is one short, concrete step the participant can check off. Omit a phase if it does not apply.`

// Planner produces a phased plan for a goal
type Planner interface {
	GeneratePlan(ctx context.Context, goal GoalPrompt) (*milestones.PhasedPlan, error)
}

// GoalPrompt is the goal description sent to the model
type GoalPrompt struct {
	Title       string
	Description string
	Category    string
}

// Client wraps the chat completion endpoint
type Client struct {
	logger     *logrus.Logger
	config     *config.PlannerConfig
	httpClient *http.Client
}

// NewClient creates a planner client
func NewClient(logger *logrus.Logger, cfg *config.PlannerConfig) *Client {
	timeout := 60 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &Client{
		logger:     logger,
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// GeneratePlan asks the model for a plan. Phases missing from the reply are
// left nil; a reply without a single action is an error.
func (c *Client) GeneratePlan(ctx context.Context, goal GoalPrompt) (*milestones.PhasedPlan, error) {
	if c.config == nil || !c.config.Enabled {
		return nil, errors.Wrap(errors.ErrUnavailable, "plan generation is disabled")
	}
	if strings.TrimSpace(goal.Title) == "" {
		return nil, errors.NewInvalidInput("goal title is required")
	}

	start := time.Now()
	plan, err := c.generate(ctx, goal)
	if err != nil {
		metrics.RecordPlannerRequest("error", time.Since(start))
		c.logger.WithError(err).WithField("title", goal.Title).Warn("Plan generation failed")
		return nil, err
	}
	metrics.RecordPlannerRequest("success", time.Since(start))

	c.logger.WithFields(logrus.Fields{
		"model":    c.config.Model,
		"actions":  countActions(plan),
		"duration": time.Since(start).String(),
	}).Info("Plan generated")

	return plan, nil
}

func (c *Client) generate(ctx context.Context, goal GoalPrompt) (*milestones.PhasedPlan, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(goal)},
		},
		Temperature:    c.config.Temperature,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create plan request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("plan request interrupted: %w", ctx.Err())
		}
		return nil, errors.Wrap(errors.ErrPlanGenerationFailed, "failed to call planner API").
			WithField("cause", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read planner response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrap(errors.ErrPlanGenerationFailed, fmt.Sprintf("planner API returned status %d", resp.StatusCode)).
			WithFields(map[string]interface{}{
				"status": resp.StatusCode,
				"body":   snippet(string(body)),
			})
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, errors.Wrap(errors.ErrPlanGenerationFailed, "failed to decode planner response").
			WithField("cause", err.Error())
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, errors.Wrap(errors.ErrPlanGenerationFailed, "planner returned no content")
	}

	plan, err := decodePlan(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPlanGenerationFailed, "planner returned an invalid plan").
			WithField("cause", err.Error())
	}
	return plan, nil
}

func userPrompt(goal GoalPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", strings.TrimSpace(goal.Title))
	if goal.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", strings.TrimSpace(goal.Category))
	}
	if goal.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", strings.TrimSpace(goal.Description))
	}
	return b.String()
}

// decodePlan parses model output into a plan, tolerating a surrounding code
// fence or prose, and drops blank actions.
func decodePlan(content string) (*milestones.PhasedPlan, error) {
	trimmed := extractJSONObject(content)
	if trimmed == "" {
		return nil, fmt.Errorf("no JSON object in content: %s", snippet(content))
	}

	var plan milestones.PhasedPlan
	if err := json.Unmarshal([]byte(trimmed), &plan); err != nil {
		return nil, fmt.Errorf("%w (payload snippet: %s)", err, snippet(trimmed))
	}

	for _, phase := range milestones.PhaseOrder {
		p := plan.Get(phase)
		if p == nil {
			continue
		}
		actions := p.Actions[:0]
		for _, a := range p.Actions {
			if a = strings.TrimSpace(a); a != "" {
				actions = append(actions, a)
			}
		}
		p.Actions = actions
	}

	if countActions(&plan) == 0 {
		return nil, fmt.Errorf("plan contains no actions")
	}
	return &plan, nil
}

func countActions(plan *milestones.PhasedPlan) int {
	n := 0
	for _, phase := range milestones.PhaseOrder {
		if p := plan.Get(phase); p != nil {
			n += len(p.Actions)
		}
	}
	return n
}

func extractJSONObject(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
