package http

import (
	"net/http"

	"pss-server/pkg/milestones"
	"pss-server/pkg/service"
)

func (s *Server) createGoal(w http.ResponseWriter, r *http.Request) {
	var input service.NewGoal
	if err := decodeJSON(w, r, &input, false); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	goal, err := s.goals.CreateGoal(r.Context(), currentUser(r), input)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, goal)
}

func (s *Server) listGoals(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	goals, err := s.goals.ListGoals(r.Context(), currentUser(r), opts)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: goals, Count: len(goals), Offset: opts.Offset})
}

func (s *Server) getGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.goals.GetGoal(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

type applyPlanRequest struct {
	Plan *milestones.PhasedPlan `json:"plan"`
}

// applyPlan installs the posted plan, or drafts one when the body carries
// no plan.
func (s *Server) applyPlan(w http.ResponseWriter, r *http.Request) {
	var req applyPlanRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	goal, err := s.goals.ApplyPlan(r.Context(), currentUser(r), r.PathValue("id"), req.Plan)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (s *Server) listMilestones(w http.ResponseWriter, r *http.Request) {
	summary, err := s.goals.Milestones(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type addMilestoneRequest struct {
	Phase string `json:"phase"`
	Title string `json:"title"`
}

func (s *Server) addMilestone(w http.ResponseWriter, r *http.Request) {
	var req addMilestoneRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	summary, err := s.goals.AddMilestone(r.Context(), currentUser(r), r.PathValue("id"), req.Phase, req.Title)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) toggleMilestone(w http.ResponseWriter, r *http.Request) {
	summary, err := s.goals.ToggleMilestone(r.Context(), currentUser(r), r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) updateMilestone(w http.ResponseWriter, r *http.Request) {
	var update service.MilestoneUpdate
	if err := decodeJSON(w, r, &update, false); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	summary, err := s.goals.UpdateMilestone(r.Context(), currentUser(r), r.PathValue("id"), r.PathValue("mid"), update)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) removeMilestone(w http.ResponseWriter, r *http.Request) {
	summary, err := s.goals.RemoveMilestone(r.Context(), currentUser(r), r.PathValue("id"), r.PathValue("mid"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
