// Package server is the local dashboard: subject list, profile view
// with audio playback, and a JSON endpoint the pages poll for stage
// progress.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"charvox/internal/analyze"
	"charvox/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server serves the subject dashboard.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "subject.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/subject/", s.handleSubject)
	s.mux.HandleFunc("/api/subjects/", s.handleAPISubject)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	subjects, err := s.db.GetAllSubjects()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, _ := s.db.GetStats()

	s.render(w, "index.html", map[string]any{
		"Subjects": subjects,
		"Stats":    stats,
	})
}

// subjectView is everything the detail page needs for one subject.
type subjectView struct {
	Subject     *database.Subject
	Stages      database.StageMap
	Profile     *analyze.Profile
	Snapshot    *database.RawSnapshot
	Artifacts   []database.AudioArtifact
	Transcripts []database.Transcript
}

func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/subject/")
	parts := strings.SplitN(rest, "/", 3)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) >= 2 {
		switch parts[1] {
		case "audio":
			if len(parts) == 3 {
				s.handleAudio(w, r, id, parts[2])
				return
			}
		case "select":
			s.handleSelect(w, r, id)
			return
		}
		http.NotFound(w, r)
		return
	}

	subject, err := s.db.GetSubject(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if subject == nil {
		http.NotFound(w, r)
		return
	}

	view := subjectView{Subject: subject}
	view.Stages, _ = s.db.ComputeStageMap(id)
	view.Snapshot, _ = s.db.GetRawSnapshot(id)
	view.Artifacts, _ = s.db.GetArtifactsForSubject(id)
	view.Transcripts, _ = s.db.GetTranscriptsForSubject(id)

	if derived, _ := s.db.GetDerivedProfile(id); derived != nil {
		var profile analyze.Profile
		if err := json.Unmarshal(derived.Profile, &profile); err == nil {
			view.Profile = &profile
		}
	}

	s.render(w, "subject.html", map[string]any{"View": view})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, subjectID int64, artifactID string) {
	artifact, err := s.db.GetArtifact(artifactID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if artifact == nil || artifact.SubjectID != subjectID || len(artifact.Audio) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(artifact.Audio)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, subjectID int64) {
	redirect := fmt.Sprintf("/subject/%d", subjectID)
	if r.Method != http.MethodPost {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	artifactID := strings.TrimSpace(r.FormValue("artifact_id"))
	if artifactID != "" {
		if _, err := s.db.SetSelectedArtifact(subjectID, artifactID); err != nil {
			log.Printf("Selecting artifact %s for subject %d: %v", artifactID, subjectID, err)
		}
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleAPISubject is the JSON polling endpoint used by the detail page.
func (s *Server) handleAPISubject(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/subjects/")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid subject id"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	subject, err := s.db.GetSubject(id)
	if err != nil {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"subject_id": id,
		"exists":     subject != nil,
	}
	if subject != nil {
		stages, err := s.db.ComputeStageMap(id)
		if err != nil {
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}
		response["name"] = subject.Name
		response["stages"] = stages
		if subject.SelectedArtifactID != nil {
			response["selected_artifact_id"] = *subject.SelectedArtifactID
		}
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
