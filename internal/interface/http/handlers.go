package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/habitquest/progression/internal/application/command"
	"github.com/habitquest/progression/internal/application/query"
	"github.com/habitquest/progression/internal/domain/progression"
	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "HabitQuest Progression API",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"users":    "/api/v1/users",
			"habits":   "/api/v1/users/{id}/habits",
			"goals":    "/api/v1/users/{id}/goals",
			"streak":   "/api/v1/users/{id}/streak",
			"progress": "/api/v1/users/{id}/progress",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.deps.Version,
	})
}

// handleReady handles the readiness endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type createUserRequest struct {
	UserID   string  `json:"user_id"`
	HeightCm float64 `json:"height_cm"`
	WeightKg float64 `json:"weight_kg"`
}

type userResponse struct {
	UserID      string `json:"user_id"`
	XPTotal     int64  `json:"xp_total"`
	Level       int    `json:"level"`
	BMICategory string `json:"bmi_category,omitempty"`
	Mascot      string `json:"mascot,omitempty"`
	MascotStage int    `json:"mascot_stage"`
}

// recordHabitRequest carries one category update. Only the fields of the
// named category are read.
type recordHabitRequest struct {
	Category      string    `json:"category"`
	Date          string    `json:"date"`
	ManualSteps   *int      `json:"manual_steps"`
	DeviceSteps   *int      `json:"device_steps"`
	Glasses       int       `json:"glasses"`
	SleepStart    string    `json:"sleep_start"`
	SleepEnd      string    `json:"sleep_end"`
	MovementDone  *bool     `json:"movement_done"`
	FoodItem      string    `json:"food_item"`
	FoodChecked   *bool     `json:"food_checked"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

func (req recordHabitRequest) command(userID, requestID string) command.RecordHabitCommand {
	cmd := command.RecordHabitCommand{
		UserID:        userID,
		Date:          req.Date,
		Category:      req.Category,
		ManualSteps:   req.ManualSteps,
		DeviceSteps:   req.DeviceSteps,
		Glasses:       req.Glasses,
		SleepStart:    req.SleepStart,
		SleepEnd:      req.SleepEnd,
		MovementDone:  true,
		FoodItem:      req.FoodItem,
		FoodChecked:   true,
		Timestamp:     req.Timestamp,
		CorrelationID: req.CorrelationID,
	}
	if req.MovementDone != nil {
		cmd.MovementDone = *req.MovementDone
	}
	if req.FoodChecked != nil {
		cmd.FoodChecked = *req.FoodChecked
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = requestID
	}
	return cmd
}

type awardResponse struct {
	Kind string `json:"kind"`
	XP   int64  `json:"xp"`
}

type evolutionResponse struct {
	PreviousMascot string   `json:"previous_mascot,omitempty"`
	Mascot         string   `json:"mascot"`
	Stage          int      `json:"stage"`
	Evolved        bool     `json:"evolved"`
	Badges         []string `json:"badges"`
}

type habitResponse struct {
	Category      string             `json:"category"`
	Date          string             `json:"date"`
	RawXP         int64              `json:"raw_xp"`
	AppliedXP     int64              `json:"applied_xp"`
	XPEarnedToday int64              `json:"xp_earned_today"`
	XPTotal       int64              `json:"xp_total"`
	Level         int                `json:"level"`
	LeveledUp     bool               `json:"leveled_up"`
	CapReached    bool               `json:"cap_reached"`
	Awards        []awardResponse    `json:"awards"`
	Evolution     *evolutionResponse `json:"evolution,omitempty"`
	Events        []shared.EventType `json:"events"`
}

func newHabitResponse(res *command.RecordHabitResult) habitResponse {
	h := res.Habit
	out := habitResponse{
		Category:      h.Category.String(),
		Date:          h.Date.String(),
		RawXP:         h.RawXP.Int64(),
		AppliedXP:     h.AppliedXP.Int64(),
		XPEarnedToday: h.XPEarnedToday.Int64(),
		XPTotal:       h.XPTotal.Int64(),
		Level:         h.Level.Int(),
		LeveledUp:     h.LevelChange.LeveledUp(),
		CapReached:    h.CapReached(),
		Awards:        make([]awardResponse, 0, len(h.Awards)),
		Events:        eventTypes(res.Events),
	}
	for _, a := range h.Awards {
		out.Awards = append(out.Awards, awardResponse{Kind: string(a.Kind), XP: a.XP.Int64()})
	}
	if ev := h.Evolution; ev != nil {
		out.Evolution = newEvolutionResponse(ev)
	}
	return out
}

func newEvolutionResponse(ev *progression.Evolution) *evolutionResponse {
	out := &evolutionResponse{
		PreviousMascot: ev.PreviousMascot.Variant,
		Mascot:         ev.NewMascot.Variant,
		Stage:          int(ev.NewMascot.Stage),
		Evolved:        ev.Evolved,
		Badges:         make([]string, 0, len(ev.Badges)),
	}
	for _, b := range ev.Badges {
		out.Badges = append(out.Badges, b.Code)
	}
	return out
}

type setGoalsRequest struct {
	StepGoal           int    `json:"step_goal"`
	HydrationGoal      int    `json:"hydration_goal"`
	MovementPreference string `json:"movement_preference"`
}

type evaluateStreakRequest struct {
	Today string `json:"today"`
}

type streakResponse struct {
	Initialized bool               `json:"initialized"`
	Skipped     bool               `json:"skipped"`
	From        string             `json:"from,omitempty"`
	To          string             `json:"to,omitempty"`
	Current     int                `json:"current_streak"`
	Longest     int                `json:"longest_streak"`
	Shields     int                `json:"streak_shields"`
	Events      []shared.EventType `json:"events"`
}

func eventTypes(events []shared.Event) []shared.EventType {
	types := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType())
	}
	return types
}

// ══════════════════════════════════════════════════════════════════════════════
// API HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateUser handles POST /api/v1/users
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.CreateUser.Handle(r.Context(), command.CreateUserCommand{
		UserID:   req.UserID,
		HeightCm: req.HeightCm,
		WeightKg: req.WeightKg,
	})
	if err != nil {
		s.writeError(w, r, "create user", err)
		return
	}

	st := res.State
	writeJSON(w, r, http.StatusCreated, userResponse{
		UserID:      st.UserID.String(),
		XPTotal:     st.XPTotal.Int64(),
		Level:       st.Level.Int(),
		BMICategory: st.BMICategory.String(),
		Mascot:      st.Mascot.Variant,
		MascotStage: int(st.Mascot.Stage),
	})
}

// handleRecordHabit handles POST /api/v1/users/{id}/habits
func (s *Server) handleRecordHabit(w http.ResponseWriter, r *http.Request) {
	var req recordHabitRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.RecordHabit.Handle(r.Context(), req.command(r.PathValue("id"), getRequestID(r.Context())))
	if err != nil {
		s.writeError(w, r, "record habit", err)
		return
	}

	writeJSON(w, r, http.StatusOK, newHabitResponse(res))
}

// handleSetGoals handles PUT /api/v1/users/{id}/goals
func (s *Server) handleSetGoals(w http.ResponseWriter, r *http.Request) {
	var req setGoalsRequest
	if !s.decode(w, r, &req) {
		return
	}

	goals, err := s.deps.SetGoals.Handle(r.Context(), command.SetGoalsCommand{
		UserID:             r.PathValue("id"),
		StepGoal:           req.StepGoal,
		HydrationGoal:      req.HydrationGoal,
		MovementPreference: req.MovementPreference,
	})
	if err != nil {
		s.writeError(w, r, "set goals", err)
		return
	}

	writeJSON(w, r, http.StatusOK, goals)
}

// handleEvaluateStreak handles POST /api/v1/users/{id}/streak
func (s *Server) handleEvaluateStreak(w http.ResponseWriter, r *http.Request) {
	var req evaluateStreakRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	res, err := s.deps.EvaluateStreak.Handle(r.Context(), command.EvaluateStreakCommand{
		UserID:        r.PathValue("id"),
		Today:         req.Today,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, "evaluate streak", err)
		return
	}

	ev := res.Evaluation
	writeJSON(w, r, http.StatusOK, streakResponse{
		Initialized: ev.Initialized,
		Skipped:     ev.Skipped,
		From:        ev.From.String(),
		To:          ev.To.String(),
		Current:     ev.Outcome.After.Current,
		Longest:     ev.Outcome.After.Longest,
		Shields:     ev.Outcome.After.Shields,
		Events:      eventTypes(res.Events),
	})
}

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		UserID:     r.PathValue("id"),
		Today:      r.URL.Query().Get("date"),
		SkipStreak: getQueryParamBool(r, "skip_streak"),
	})
	if err != nil {
		s.writeError(w, r, "get progress", err)
		return
	}

	writeJSON(w, r, http.StatusOK, p)
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING AND ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a required JSON body into dst. On failure it writes a 400 and
// returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
			return false
		}
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object", err.Error())
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object", err.Error())
		return false
	}
	return true
}

// writeError maps an application error to a status code. Unexpected errors
// are logged and reported without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONErrorWithDetails(w, r, http.StatusNotFound, "not_found", "User not found", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONErrorWithDetails(w, r, http.StatusConflict, "already_exists", "User already exists", err.Error())
	case shared.IsValidation(err):
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Request is invalid", err.Error())
	case errors.Is(err, shared.ErrLockNotAcquired), shared.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "Please retry shortly")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.Operation(op),
			logger.UserID(r.PathValue("id")),
			logger.Err(err),
		)
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}
