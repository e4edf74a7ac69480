// Package milestones derives checkable milestones from a phased recovery
// plan and tracks their completion.
//
// All operations are value transforms: they take a milestone collection and
// return a new one, never mutating their input. Unknown milestone ids are
// tolerated as no-ops so a stale client reference cannot corrupt a goal.
package milestones

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Phase is one stage of a recovery plan.
type Phase string

const (
	PhasePreparation   Phase = "preparation"
	PhaseAction        Phase = "action"
	PhaseFollowThrough Phase = "followThrough"
	PhaseMaintenance   Phase = "maintenance"
)

// PhaseOrder is the fixed sequence phases are generated and reported in.
var PhaseOrder = []Phase{PhasePreparation, PhaseAction, PhaseFollowThrough, PhaseMaintenance}

// Valid reports whether p is one of the four plan phases.
func (p Phase) Valid() bool {
	for _, known := range PhaseOrder {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePhase validates a phase name supplied by a client.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Milestone is a single checkable action item of a recovery goal.
// CompletedAt and CompletedBy are either both set (completed) or both nil.
// Order values are unique within a goal but may have gaps.
type Milestone struct {
	ID          string     `json:"id"`
	Phase       Phase      `json:"phase"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	CompletedBy *string    `json:"completedBy"`
	Notes       string     `json:"notes"`
	Order       int        `json:"order"`
}

// PlanPhase is one phase of a generated plan.
type PlanPhase struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

// PhasedPlan is a four-stage recovery plan. Any phase may be absent.
type PhasedPlan struct {
	Preparation   *PlanPhase `json:"preparation,omitempty"`
	Action        *PlanPhase `json:"action,omitempty"`
	FollowThrough *PlanPhase `json:"followThrough,omitempty"`
	Maintenance   *PlanPhase `json:"maintenance,omitempty"`
}

// Get returns the plan phase for p, or nil when absent.
func (p *PhasedPlan) Get(phase Phase) *PlanPhase {
	if p == nil {
		return nil
	}
	switch phase {
	case PhasePreparation:
		return p.Preparation
	case PhaseAction:
		return p.Action
	case PhaseFollowThrough:
		return p.FollowThrough
	case PhaseMaintenance:
		return p.Maintenance
	}
	return nil
}

// NewID returns a fresh milestone identifier. Ids only need to be unique
// within one goal, and are generated locally so milestones can be created in
// bulk before they are persisted.
func NewID() string {
	return uuid.NewString()
}

// GenerateFromPlan creates one incomplete milestone per plan action, walking
// phases in PhaseOrder. Order starts at 0 and increases across the whole
// plan. A plan with no actions yields an empty, non-nil slice.
func GenerateFromPlan(plan *PhasedPlan) []Milestone {
	milestones := []Milestone{}
	order := 0

	for _, phase := range PhaseOrder {
		planPhase := plan.Get(phase)
		if planPhase == nil {
			continue
		}
		for _, action := range planPhase.Actions {
			milestones = append(milestones, Milestone{
				ID:    NewID(),
				Phase: phase,
				Title: action,
				Order: order,
			})
			order++
		}
	}

	return milestones
}

// CalculateProgress returns the completed share of milestones as a rounded
// percentage, 0 when there are none.
func CalculateProgress(milestones []Milestone) int {
	if len(milestones) == 0 {
		return 0
	}
	completed := 0
	for _, m := range milestones {
		if m.Completed {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(milestones)) * 100))
}

// PhaseStat groups the milestones of one phase.
type PhaseStat struct {
	Phase      Phase       `json:"phase"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Milestones []Milestone `json:"milestones"`
}

// Stats summarises a milestone collection by phase.
type Stats struct {
	Phases          []PhaseStat `json:"phases"`
	TotalMilestones int         `json:"totalMilestones"`
	TotalCompleted  int         `json:"totalCompleted"`
}

// GetStats groups milestones per phase in PhaseOrder, sorted by Order within
// a phase. Phases without milestones are omitted. Milestones with a phase
// outside PhaseOrder count towards the totals only.
func GetStats(milestones []Milestone) Stats {
	stats := Stats{Phases: []PhaseStat{}, TotalMilestones: len(milestones)}

	byPhase := make(map[Phase][]Milestone, len(PhaseOrder))
	for _, m := range milestones {
		byPhase[m.Phase] = append(byPhase[m.Phase], m)
		if m.Completed {
			stats.TotalCompleted++
		}
	}

	for _, phase := range PhaseOrder {
		group := byPhase[phase]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Order < group[j].Order })

		stat := PhaseStat{Phase: phase, Total: len(group), Milestones: group}
		for _, m := range group {
			if m.Completed {
				stat.Completed++
			}
		}
		stats.Phases = append(stats.Phases, stat)
	}

	return stats
}

// Find returns the milestone with the given id.
func Find(milestones []Milestone, id string) (Milestone, bool) {
	for _, m := range milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

func update(milestones []Milestone, id string, fn func(*Milestone)) []Milestone {
	if len(milestones) == 0 {
		return milestones
	}
	result := make([]Milestone, len(milestones))
	copy(result, milestones)
	for i := range result {
		if result[i].ID == id {
			fn(&result[i])
		}
	}
	return result
}

// Toggle flips the completion of the milestone with the given id, stamping
// the current time and actorID. An empty actorID records no actor.
func Toggle(milestones []Milestone, id, actorID string) []Milestone {
	return ToggleAt(milestones, id, actorID, time.Now().UTC())
}

// ToggleAt is Toggle with an explicit completion time.
func ToggleAt(milestones []Milestone, id, actorID string, now time.Time) []Milestone {
	return update(milestones, id, func(m *Milestone) {
		m.Completed = !m.Completed
		if !m.Completed {
			m.CompletedAt = nil
			m.CompletedBy = nil
			return
		}

		completedAt := now
		m.CompletedAt = &completedAt
		m.CompletedBy = nil
		if actorID != "" {
			actor := actorID
			m.CompletedBy = &actor
		}
	})
}

// Add appends an incomplete milestone ordered after every existing one.
func Add(milestones []Milestone, phase Phase, title string) []Milestone {
	order := 0
	for _, m := range milestones {
		if m.Order+1 > order {
			order = m.Order + 1
		}
	}

	result := make([]Milestone, len(milestones), len(milestones)+1)
	copy(result, milestones)
	return append(result, Milestone{
		ID:    NewID(),
		Phase: phase,
		Title: title,
		Order: order,
	})
}

// UpdateTitle replaces the title of the milestone with the given id.
func UpdateTitle(milestones []Milestone, id, title string) []Milestone {
	return update(milestones, id, func(m *Milestone) { m.Title = title })
}

// UpdateNotes replaces the notes of the milestone with the given id.
func UpdateNotes(milestones []Milestone, id, notes string) []Milestone {
	return update(milestones, id, func(m *Milestone) { m.Notes = notes })
}

// Remove drops the milestone with the given id. Remaining milestones keep
// their Order values; consumers sort by Order and must not assume it is
// contiguous.
func Remove(milestones []Milestone, id string) []Milestone {
	if len(milestones) == 0 {
		return milestones
	}
	result := make([]Milestone, 0, len(milestones))
	for _, m := range milestones {
		if m.ID != id {
			result = append(result, m)
		}
	}
	return result
}
