// Package redminetest provides an in-process fake of the Redmine REST API
// for tests. It implements the subset of endpoints the rd client and the
// draft replay engine use, records every request, and can be told to fail.
package redminetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

// APIKey is the key the fake server accepts.
const APIKey = "test-api-key"

// RecordedRequest is one request the server received.
type RecordedRequest struct {
	Method string
	Path   string
	Body   string
}

// Fault makes matching requests fail with Status.
type Fault struct {
	Method     string
	PathPrefix string
	Status     int
	Message    string
	// Times is the number of requests to fail; 0 fails forever.
	Times int
}

// Server is a fake Redmine.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	nextID     int
	issues     map[int]*redmine.Issue
	notes      map[int][]string
	entries    map[int]*redmine.TimeEntry
	versions   map[int]*redmine.Version
	relations  map[int]*redmine.Relation
	statuses   []redmine.IssueStatus
	priorities []redmine.Enumeration
	activities []redmine.Enumeration
	requests   []RecordedRequest
	faults     []*Fault
}

// NewServer starts a fake Redmine with default statuses, priorities and
// activities. Call Close when done.
func NewServer() *Server {
	s := &Server{
		nextID:    1000,
		issues:    make(map[int]*redmine.Issue),
		notes:     make(map[int][]string),
		entries:   make(map[int]*redmine.TimeEntry),
		versions:  make(map[int]*redmine.Version),
		relations: make(map[int]*redmine.Relation),
		statuses: []redmine.IssueStatus{
			{ID: 1, Name: "New"},
			{ID: 2, Name: "In Progress"},
			{ID: 3, Name: "Resolved"},
			{ID: 5, Name: "Closed", IsClosed: true},
		},
		priorities: []redmine.Enumeration{
			{ID: 1, Name: "Low"},
			{ID: 2, Name: "Normal", IsDefault: true},
			{ID: 3, Name: "High"},
		},
		activities: []redmine.Enumeration{
			{ID: 8, Name: "Design"},
			{ID: 9, Name: "Development", IsDefault: true},
		},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.authenticate, s.injectFaults)

	r.Get("/users/current.json", s.currentUser)
	r.Get("/issue_statuses.json", s.list("issue_statuses", func() any { return s.statuses }))
	r.Get("/enumerations/issue_priorities.json", s.list("issue_priorities", func() any { return s.priorities }))
	r.Get("/enumerations/time_entry_activities.json", s.list("time_entry_activities", func() any { return s.activities }))

	r.Get("/issues.json", s.listIssues)
	r.Post("/issues.json", s.createIssue)
	r.Get("/issues/{id}.json", s.getIssue)
	r.Put("/issues/{id}.json", s.updateIssue)
	r.Delete("/issues/{id}.json", s.deleteIssue)
	r.Get("/issues/{id}/relations.json", s.listRelations)
	r.Post("/issues/{id}/relations.json", s.createRelation)
	r.Delete("/relations/{id}.json", s.deleteRelation)

	r.Get("/time_entries.json", s.listTimeEntries)
	r.Post("/time_entries.json", s.createTimeEntry)
	r.Put("/time_entries/{id}.json", s.updateTimeEntry)
	r.Delete("/time_entries/{id}.json", s.deleteTimeEntry)

	r.Get("/projects/{id}/versions.json", s.listVersions)
	r.Post("/projects/{id}/versions.json", s.createVersion)
	r.Put("/versions/{id}.json", s.updateVersion)
	r.Delete("/versions/{id}.json", s.deleteVersion)
	return r
}

// Client returns a real client pointed at the fake server.
func (s *Server) Client() *redmine.Client {
	return redmine.NewClient(s.URL, APIKey)
}

// AddIssue seeds an issue and returns its id.
func (s *Server) AddIssue(issue redmine.Issue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.ID == 0 {
		issue.ID = s.allocID()
	}
	if issue.Status.ID == 0 {
		issue.Status = redmine.IDName{ID: 1, Name: "New"}
	}
	s.issues[issue.ID] = &issue
	return issue.ID
}

// Issue returns a copy of a stored issue.
func (s *Server) Issue(id int) (redmine.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return redmine.Issue{}, false
	}
	return *issue, true
}

// Notes returns the notes added to an issue, oldest first.
func (s *Server) Notes(id int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes[id]...)
}

// TimeEntries returns all stored time entries ordered by id.
func (s *Server) TimeEntries() []redmine.TimeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]redmine.TimeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relations returns all stored relations ordered by id.
func (s *Server) Relations() []redmine.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]redmine.Relation, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns all stored versions ordered by id.
func (s *Server) Versions() []redmine.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]redmine.Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Requests returns the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// WriteRequests returns the non-GET requests received so far.
func (s *Server) WriteRequests() []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

// Fail registers a fault.
func (s *Server) Fail(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

func (s *Server) allocID() int {
	s.nextID++
	return s.nextID
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{Method: r.Method, Path: path, Body: string(body)})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Redmine-API-Key") != APIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var hit *Fault
		for i, f := range s.faults {
			if (f.Method == "" || f.Method == r.Method) && strings.HasPrefix(r.URL.Path, f.PathPrefix) {
				hit = f
				if f.Times > 0 {
					f.Times--
					if f.Times == 0 {
						s.faults = append(s.faults[:i], s.faults[i+1:]...)
					}
				}
				break
			}
		}
		s.mu.Unlock()
		if hit != nil {
			msg := hit.Message
			if msg == "" {
				msg = "injected failure"
			}
			writeJSON(w, hit.Status, map[string]any{"errors": []string{msg}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

func unprocessable(w http.ResponseWriter, msgs ...string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": msgs})
}

func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id > 0
}

// decodeEnvelope decodes {"<key>": {...}} into a field map.
func decodeEnvelope(r *http.Request, key string) (map[string]json.RawMessage, error) {
	var payload map[string]map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, err
	}
	fields, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("missing %q", key)
	}
	return fields, nil
}

func (s *Server) list(key string, items func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		v := items()
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{key: v})
	}
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": redmine.User{ID: 1, Login: "tester", Firstname: "Test", Lastname: "User"}})
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	issues := make([]redmine.Issue, 0, len(s.issues))
	for _, issue := range s.issues {
		issues = append(issues, *issue)
	}
	s.mu.Unlock()
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	total := len(issues)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issues":      issues[offset:end],
		"total_count": total,
		"offset":      offset,
		"limit":       limit,
	})
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		notFound(w)
		return
	}
	out := *issue
	for _, rel := range s.relations {
		if rel.IssueID == id || rel.IssueToID == id {
			out.Relations = append(out.Relations, *rel)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": out})
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Issue redmine.IssueCreate `json:"issue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	in := payload.Issue
	if in.Subject == "" {
		unprocessable(w, "Subject cannot be blank")
		return
	}
	s.mu.Lock()
	issue := &redmine.Issue{
		ID:          s.allocID(),
		Project:     redmine.IDName{ID: in.ProjectID},
		Tracker:     redmine.IDName{ID: in.TrackerID},
		Status:      redmine.IDName{ID: max(in.StatusID, 1)},
		Priority:    redmine.IDName{ID: in.PriorityID},
		Subject:     in.Subject,
		Description: in.Description,
		StartDate:   in.StartDate,
		DueDate:     in.DueDate,
	}
	if in.AssignedToID != 0 {
		issue.AssignedTo = &redmine.IDName{ID: in.AssignedToID}
	}
	if in.ParentIssueID != 0 {
		issue.Parent = &redmine.IssueRef{ID: in.ParentIssueID}
	}
	s.issues[issue.ID] = issue
	out := *issue
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"issue": out})
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	fields, err := decodeEnvelope(r, "issue")
	if err != nil {
		unprocessable(w, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		notFound(w)
		return
	}
	for key, raw := range fields {
		switch key {
		case "status_id":
			_ = json.Unmarshal(raw, &issue.Status.ID)
		case "priority_id":
			_ = json.Unmarshal(raw, &issue.Priority.ID)
		case "done_ratio":
			_ = json.Unmarshal(raw, &issue.DoneRatio)
		case "subject":
			_ = json.Unmarshal(raw, &issue.Subject)
		case "description":
			_ = json.Unmarshal(raw, &issue.Description)
		case "start_date":
			issue.StartDate = ""
			_ = json.Unmarshal(raw, &issue.StartDate)
		case "due_date":
			issue.DueDate = ""
			_ = json.Unmarshal(raw, &issue.DueDate)
		case "assigned_to_id":
			var assignee int
			if err := json.Unmarshal(raw, &assignee); err != nil || assignee == 0 {
				issue.AssignedTo = nil
			} else {
				issue.AssignedTo = &redmine.IDName{ID: assignee}
			}
		case "fixed_version_id":
			var versionID int
			if err := json.Unmarshal(raw, &versionID); err != nil || versionID == 0 {
				issue.FixedVersion = nil
			} else {
				issue.FixedVersion = &redmine.IDName{ID: versionID}
			}
		case "notes":
			var note string
			_ = json.Unmarshal(raw, &note)
			s.notes[id] = append(s.notes[id], note)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, r, func(id int) bool {
		_, ok := s.issues[id]
		delete(s.issues, id)
		return ok
	})
}

func (s *Server) listRelations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	s.mu.Lock()
	var out []redmine.Relation
	for _, rel := range s.relations {
		if rel.IssueID == id || rel.IssueToID == id {
			out = append(out, *rel)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"relations": out})
}

func (s *Server) createRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var payload struct {
		Relation redmine.RelationCreate `json:"relation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[id]; !ok {
		notFound(w)
		return
	}
	if _, ok := s.issues[payload.Relation.IssueToID]; !ok {
		unprocessable(w, "Related issue cannot be blank")
		return
	}
	rel := &redmine.Relation{
		ID:           s.allocID(),
		IssueID:      id,
		IssueToID:    payload.Relation.IssueToID,
		RelationType: payload.Relation.RelationType,
		Delay:        payload.Relation.Delay,
	}
	s.relations[rel.ID] = rel
	writeJSON(w, http.StatusCreated, map[string]any{"relation": *rel})
}

func (s *Server) deleteRelation(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, r, func(id int) bool {
		_, ok := s.relations[id]
		delete(s.relations, id)
		return ok
	})
}

func (s *Server) listTimeEntries(w http.ResponseWriter, r *http.Request) {
	issueID, _ := strconv.Atoi(r.URL.Query().Get("issue_id"))
	var out []redmine.TimeEntry
	for _, e := range s.TimeEntries() {
		if issueID == 0 || (e.Issue != nil && e.Issue.ID == issueID) {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"time_entries": out, "total_count": len(out)})
}

func (s *Server) createTimeEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TimeEntry redmine.TimeEntryCreate `json:"time_entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	in := payload.TimeEntry
	if in.Hours <= 0 {
		unprocessable(w, "Hours is invalid")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &redmine.TimeEntry{
		ID:       s.allocID(),
		Project:  redmine.IDName{ID: in.ProjectID},
		Activity: redmine.IDName{ID: in.ActivityID},
		Hours:    in.Hours,
		Comments: in.Comments,
		SpentOn:  in.SpentOn,
	}
	if in.IssueID != 0 {
		if _, ok := s.issues[in.IssueID]; !ok {
			unprocessable(w, "Issue is invalid")
			return
		}
		entry.Issue = &redmine.IssueRef{ID: in.IssueID}
	}
	s.entries[entry.ID] = entry
	writeJSON(w, http.StatusCreated, map[string]any{"time_entry": *entry})
}

func (s *Server) updateTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var payload struct {
		TimeEntry redmine.TimeEntryUpdate `json:"time_entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		notFound(w)
		return
	}
	in := payload.TimeEntry
	if in.Hours != nil {
		entry.Hours = *in.Hours
	}
	if in.Comments != nil {
		entry.Comments = *in.Comments
	}
	if in.ActivityID != nil {
		entry.Activity.ID = *in.ActivityID
	}
	if in.SpentOn != nil {
		entry.SpentOn = *in.SpentOn
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, r, func(id int) bool {
		_, ok := s.entries[id]
		delete(s.entries, id)
		return ok
	})
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var out []redmine.Version
	for _, v := range s.Versions() {
		if v.Project.ID == projectID {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var payload struct {
		Version redmine.VersionCreate `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	if payload.Version.Name == "" {
		unprocessable(w, "Name cannot be blank")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &redmine.Version{
		ID:          s.allocID(),
		Project:     redmine.IDName{ID: projectID},
		Name:        payload.Version.Name,
		Description: payload.Version.Description,
		Status:      payload.Version.Status,
		DueDate:     payload.Version.DueDate,
		Sharing:     payload.Version.Sharing,
	}
	if v.Status == "" {
		v.Status = "open"
	}
	s.versions[v.ID] = v
	writeJSON(w, http.StatusCreated, map[string]any{"version": *v})
}

func (s *Server) updateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	var payload struct {
		Version redmine.VersionUpdate `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		unprocessable(w, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		notFound(w)
		return
	}
	in := payload.Version
	if in.Name != nil {
		v.Name = *in.Name
	}
	if in.Description != nil {
		v.Description = *in.Description
	}
	if in.Status != nil {
		v.Status = *in.Status
	}
	if in.DueDate != nil {
		v.DueDate = *in.DueDate
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, r, func(id int) bool {
		_, ok := s.versions[id]
		delete(s.versions, id)
		return ok
	})
}

func (s *Server) deleteFrom(w http.ResponseWriter, r *http.Request, remove func(id int) bool) {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return
	}
	s.mu.Lock()
	found := remove(id)
	s.mu.Unlock()
	if !found {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
