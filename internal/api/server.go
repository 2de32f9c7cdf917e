package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remindflow/internal/domain"
	"remindflow/internal/extract"
	"remindflow/internal/inbox"
	"remindflow/internal/schedule"
	"remindflow/internal/store"
)

// JobLister exposes a task's still-pending reminder jobs.
type JobLister interface {
	PendingForTask(ctx context.Context, taskID string) ([]domain.Job, error)
}

type Server struct {
	r         *chi.Mux
	inbox     *inbox.Inbox
	extractor *extract.Extractor
	tasks     store.TaskStore
	jobs      JobLister
	scheduler *schedule.Scheduler
}

func NewServer(in *inbox.Inbox, ex *extract.Extractor, tasks store.TaskStore, jobs JobLister, sch *schedule.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, inbox: in, extractor: ex, tasks: tasks, jobs: jobs, scheduler: sch}

	r.Get("/health", s.health)
	r.Post("/api/share", s.share)
	r.Post("/api/extract", s.extract)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/tasks/{id}/jobs", s.listTaskJobs)
	r.Post("/api/tasks/{id}/complete", s.completeTask)
	r.Put("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type shareReq struct {
	Text                string `json:"text"`
	AppName             string `json:"app_name"`
	SenderInfo          string `json:"sender_info"`
	ConversationContext string `json:"conversation_context"`
}

func (s *Server) share(w http.ResponseWriter, r *http.Request) {
	var req shareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", 400)
		return
	}
	env := domain.Envelope{
		Text:                req.Text,
		AppName:             req.AppName,
		SenderInfo:          req.SenderInfo,
		ConversationContext: req.ConversationContext,
		ReceivedAt:          time.Now(),
	}
	if err := s.inbox.Put(env); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// extract is a dry run: parse the text, return the candidate, persist
// nothing.
func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req shareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", 400)
		return
	}
	c := s.extractor.Extract(domain.Envelope{
		Text:                req.Text,
		AppName:             req.AppName,
		SenderInfo:          req.SenderInfo,
		ConversationContext: req.ConversationContext,
		ReceivedAt:          time.Now(),
	})
	writeJSON(w, 200, s.candidateView(c))
}

func (s *Server) candidateView(c domain.Candidate) map[string]any {
	v := map[string]any{
		"title":              c.Title,
		"confidence":         c.Confidence,
		"keywords":           c.Keywords,
		"priority":           c.InferredPriority,
		"has_action_verb":    s.extractor.HasActionVerb(c),
		"has_time_reference": c.HasTimeReference(),
		"has_request":        s.extractor.HasRequestKeywords(c),
		"ambiguous":          s.extractor.IsAmbiguous(c),
		"lacks_context":      c.LacksContext(),
	}
	if c.SuggestedCategory != "" {
		v["category"] = c.SuggestedCategory
	}
	if c.Date != nil {
		v["date"] = c.Date.Format("2006-01-02")
	}
	if c.TimeOfDay != nil {
		v["time"] = c.TimeOfDay.String()
	}
	return v
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	tasks, err := s.tasks.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	writeJSON(w, 200, views)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, taskView(t))
}

func (s *Server) listTaskJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.PendingForTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, map[string]any{
			"key":        j.Key,
			"interval":   j.Interval,
			"trigger_at": j.TriggerAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, 200, views)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.tasks.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	t.Completed = true
	if err := s.tasks.Update(r.Context(), t); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	s.scheduler.CancelAll(r.Context(), id)
	writeJSON(w, 200, taskView(t))
}

type updateTaskReq struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	DueAt       *string  `json:"due_at"` // RFC 3339; empty string clears the due time
	Intervals   []string `json:"intervals"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.tasks.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.DueAt != nil {
		if *req.DueAt == "" {
			t.DueAt = nil
			t.DueDate = nil
			t.HasReminder = false
			t.Intervals = nil
		} else {
			due, err := time.Parse(time.RFC3339, *req.DueAt)
			if err != nil {
				http.Error(w, "invalid due_at: "+err.Error(), 400)
				return
			}
			day := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, due.Location())
			t.DueAt = &due
			t.DueDate = &day
			t.HasReminder = true
			if len(t.Intervals) == 0 {
				t.Intervals = []domain.ReminderInterval{domain.IntervalOneDay}
			}
		}
	}
	if req.Intervals != nil {
		var intervals []domain.ReminderInterval
		for _, raw := range req.Intervals {
			iv, err := domain.ParseInterval(raw)
			if err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
			intervals = append(intervals, iv)
		}
		t.Intervals = intervals
	}

	if err := s.tasks.Update(r.Context(), t); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	// Edits replace the task's jobs wholesale; stale triggers never survive.
	if _, err := s.scheduler.Reschedule(r.Context(), t); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, taskView(t))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	s.scheduler.CancelAll(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func taskView(t domain.Task) map[string]any {
	v := map[string]any{
		"id":           t.ID,
		"title":        t.Title,
		"category":     t.CategoryID,
		"priority":     t.Priority,
		"source":       t.Source,
		"completed":    t.Completed,
		"has_reminder": t.HasReminder,
		"created_at":   t.CreatedAt.Format(time.RFC3339),
	}
	if t.Description != "" {
		v["description"] = t.Description
	}
	if t.DueDate != nil {
		v["due_date"] = t.DueDate.Format("2006-01-02")
	}
	if t.DueAt != nil {
		v["due_at"] = t.DueAt.Format(time.RFC3339)
	}
	if len(t.Intervals) > 0 {
		v["intervals"] = t.Intervals
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
