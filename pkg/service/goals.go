package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"pss-server/pkg/auth"
	"pss-server/pkg/correlation"
	"pss-server/pkg/database"
	"pss-server/pkg/errors"
	"pss-server/pkg/messaging"
	"pss-server/pkg/metrics"
	"pss-server/pkg/milestones"
	"pss-server/pkg/planner"
)

// GoalStore persists recovery goals
type GoalStore interface {
	CreateGoal(ctx context.Context, goal *database.RecoveryGoal) error
	GetGoal(ctx context.Context, orgID, id string) (*database.RecoveryGoal, error)
	ListGoals(ctx context.Context, orgID string, opts database.ListOptions) ([]*database.RecoveryGoal, error)
	SavePlan(ctx context.Context, orgID, id string, plan *milestones.PhasedPlan, ms []milestones.Milestone) error
	SaveMilestones(ctx context.Context, orgID, id string, ms []milestones.Milestone) error
}

// GoalService manages recovery goals, their plans and milestones
type GoalService struct {
	store     GoalStore
	planner   planner.Planner
	publisher messaging.Publisher
	logger    *logrus.Logger
}

// NewGoalService creates a goal service. planner may be nil, in which case
// plans must always be supplied by the client.
func NewGoalService(store GoalStore, p planner.Planner, publisher messaging.Publisher, logger *logrus.Logger) *GoalService {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	return &GoalService{
		store:     store,
		planner:   p,
		publisher: publisher,
		logger:    logger,
	}
}

// NewGoal is the client input for creating a goal
type NewGoal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	SessionID   string `json:"sessionId"`
}

// MilestoneUpdate changes a milestone's title and/or notes. Nil fields are
// left alone.
type MilestoneUpdate struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
}

// MilestoneSummary is a goal's milestones grouped by phase with its progress
type MilestoneSummary struct {
	GoalID   string           `json:"goalId"`
	Progress int              `json:"progress"`
	Stats    milestones.Stats `json:"stats"`
}

func summarize(goalID string, ms []milestones.Milestone) *MilestoneSummary {
	return &MilestoneSummary{
		GoalID:   goalID,
		Progress: milestones.CalculateProgress(ms),
		Stats:    milestones.GetStats(ms),
	}
}

// CreateGoal creates a goal without a plan
func (s *GoalService) CreateGoal(ctx context.Context, user *auth.UserInfo, input NewGoal) (*database.RecoveryGoal, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidInput("title is required")
	}

	goal := &database.RecoveryGoal{
		OrgID:       user.OrgID,
		CreatedBy:   user.UserID,
		SessionID:   strings.TrimSpace(input.SessionID),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
	}
	if err := s.store.CreateGoal(ctx, goal); err != nil {
		return nil, err
	}
	return goal, nil
}

// GetGoal returns one goal of the caller's tenant
func (s *GoalService) GetGoal(ctx context.Context, user *auth.UserInfo, id string) (*database.RecoveryGoal, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.store.GetGoal(ctx, user.OrgID, id)
}

// ListGoals returns the caller's tenant goals, newest first
func (s *GoalService) ListGoals(ctx context.Context, user *auth.UserInfo, opts database.ListOptions) ([]*database.RecoveryGoal, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.store.ListGoals(ctx, user.OrgID, opts)
}

// ApplyPlan replaces the goal's plan and regenerates its milestones from it.
// A nil plan is drafted by the planner. Existing milestones and their
// completion state are discarded.
func (s *GoalService) ApplyPlan(ctx context.Context, user *auth.UserInfo, goalID string, plan *milestones.PhasedPlan) (*database.RecoveryGoal, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	goal, err := s.store.GetGoal(ctx, user.OrgID, goalID)
	if err != nil {
		return nil, err
	}

	generated := plan == nil
	if generated {
		if s.planner == nil {
			return nil, errors.Wrap(errors.ErrUnavailable, "plan generation is disabled; supply a plan")
		}
		plan, err = s.planner.GeneratePlan(ctx, planner.GoalPrompt{
			Title:       goal.Title,
			Description: goal.Description,
			Category:    goal.Category,
		})
		if err != nil {
			return nil, err
		}
	}

	ms := milestones.GenerateFromPlan(plan)
	if err := s.store.SavePlan(ctx, user.OrgID, goalID, plan, ms); err != nil {
		return nil, err
	}

	progress := milestones.CalculateProgress(ms)
	metrics.RecordMilestoneMutation("plan", progress)
	correlation.LoggerFromContext(ctx, s.logger).WithFields(logrus.Fields{
		"goal_id":    goalID,
		"milestones": len(ms),
		"generated":  generated,
	}).Info("Goal plan applied")

	s.publishProgress(ctx, user, goalID, "plan", ms)

	goal.Plan = plan
	goal.Milestones = ms
	goal.Progress = progress
	return goal, nil
}

// Milestones returns the goal's milestones grouped by phase
func (s *GoalService) Milestones(ctx context.Context, user *auth.UserInfo, goalID string) (*MilestoneSummary, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	goal, err := s.store.GetGoal(ctx, user.OrgID, goalID)
	if err != nil {
		return nil, err
	}
	return summarize(goal.ID, goal.Milestones), nil
}

// ToggleMilestone flips a milestone's completion, recording the caller as
// the actor on completion
func (s *GoalService) ToggleMilestone(ctx context.Context, user *auth.UserInfo, goalID, milestoneID string) (*MilestoneSummary, error) {
	return s.mutate(ctx, user, goalID, milestoneID, "toggle", func(ms []milestones.Milestone) []milestones.Milestone {
		return milestones.Toggle(ms, milestoneID, user.UserID)
	})
}

// AddMilestone appends a milestone to a phase
func (s *GoalService) AddMilestone(ctx context.Context, user *auth.UserInfo, goalID, phase, title string) (*MilestoneSummary, error) {
	p, err := milestones.ParsePhase(phase)
	if err != nil {
		return nil, errors.NewInvalidInput(err.Error())
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.NewInvalidInput("title is required")
	}

	return s.mutate(ctx, user, goalID, "", "add", func(ms []milestones.Milestone) []milestones.Milestone {
		return milestones.Add(ms, p, title)
	})
}

// UpdateMilestone changes a milestone's title and/or notes
func (s *GoalService) UpdateMilestone(ctx context.Context, user *auth.UserInfo, goalID, milestoneID string, update MilestoneUpdate) (*MilestoneSummary, error) {
	if update.Title == nil && update.Notes == nil {
		return nil, errors.NewInvalidInput("title or notes is required")
	}
	var title string
	if update.Title != nil {
		title = strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, errors.NewInvalidInput("title cannot be empty")
		}
	}

	return s.mutate(ctx, user, goalID, milestoneID, "update", func(ms []milestones.Milestone) []milestones.Milestone {
		if update.Title != nil {
			ms = milestones.UpdateTitle(ms, milestoneID, title)
		}
		if update.Notes != nil {
			ms = milestones.UpdateNotes(ms, milestoneID, *update.Notes)
		}
		return ms
	})
}

// RemoveMilestone deletes a milestone. Other milestones keep their order.
func (s *GoalService) RemoveMilestone(ctx context.Context, user *auth.UserInfo, goalID, milestoneID string) (*MilestoneSummary, error) {
	return s.mutate(ctx, user, goalID, milestoneID, "remove", func(ms []milestones.Milestone) []milestones.Milestone {
		return milestones.Remove(ms, milestoneID)
	})
}

// mutate loads a goal, applies fn to its milestones and persists the result.
// A non-empty milestoneID must name an existing milestone.
func (s *GoalService) mutate(ctx context.Context, user *auth.UserInfo, goalID, milestoneID, operation string, fn func([]milestones.Milestone) []milestones.Milestone) (*MilestoneSummary, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	goal, err := s.store.GetGoal(ctx, user.OrgID, goalID)
	if err != nil {
		return nil, err
	}
	if milestoneID != "" {
		if _, ok := milestones.Find(goal.Milestones, milestoneID); !ok {
			return nil, errors.NewMilestoneNotFound(goalID, milestoneID)
		}
	}

	ms := fn(goal.Milestones)
	if err := s.store.SaveMilestones(ctx, user.OrgID, goalID, ms); err != nil {
		return nil, err
	}

	summary := summarize(goalID, ms)
	metrics.RecordMilestoneMutation(operation, summary.Progress)
	correlation.LoggerFromContext(ctx, s.logger).WithFields(logrus.Fields{
		"goal_id":      goalID,
		"milestone_id": milestoneID,
		"operation":    operation,
		"progress":     summary.Progress,
	}).Debug("Milestones updated")

	s.publishProgress(ctx, user, goalID, operation, ms)
	return summary, nil
}

func (s *GoalService) publishProgress(ctx context.Context, user *auth.UserInfo, goalID, operation string, ms []milestones.Milestone) {
	stats := milestones.GetStats(ms)
	publish(ctx, s.logger, s.publisher, messaging.NewEvent(ctx, messaging.EventGoalProgress, user.OrgID, goalID, user.UserID, map[string]interface{}{
		"operation":       operation,
		"progress":        milestones.CalculateProgress(ms),
		"totalMilestones": stats.TotalMilestones,
		"totalCompleted":  stats.TotalCompleted,
	}))
}
