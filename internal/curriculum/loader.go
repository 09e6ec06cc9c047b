package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// DefaultTracks maps each academic track to its core subjects.
var DefaultTracks = map[string][]string{
	"Sayısal":      {"Matematik", "Fizik", "Kimya", "Biyoloji", "Türk Dili ve Edebiyatı"},
	"Eşit Ağırlık": {"Matematik", "Türk Dili ve Edebiyatı", "Tarih", "Coğrafya"},
	"Sözel":        {"Türk Dili ve Edebiyatı", "Tarih", "Coğrafya", "Felsefe", "Din Kültürü ve Ahlak Bilgisi"},
	"Dil":          {"Yabancı Dil", "Türk Dili ve Edebiyatı"},
}

// Loader loads and caches curriculum content from the filesystem.
type Loader struct {
	rootDir  string
	grades   map[string]*Grade
	tracks   map[string][]string
	calendar *Calendar
	mu       sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		grades:  make(map[string]*Grade),
		tracks:  DefaultTracks,
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "grades", len(l.grades), "tracks", len(l.tracks))
	return l, nil
}

// NewStaticLoader builds a loader from in-memory grades.
func NewStaticLoader(cal *Calendar, grades ...Grade) *Loader {
	l := &Loader{grades: make(map[string]*Grade), tracks: DefaultTracks, calendar: cal}
	for i := range grades {
		g := grades[i]
		l.grades[gradeKey(g.Grade)] = &g
	}
	return l
}

// Grade returns the curriculum for grade. A missing grade is ErrNotFound.
func (l *Loader) Grade(grade string) (*Grade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.grades[gradeKey(grade)]
	if !ok {
		return nil, apperr.NotFound("curriculum.Grade", "no curriculum for grade %q", grade)
	}
	return g, nil
}

// Grades lists the loaded grade keys, sorted.
func (l *Loader) Grades() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.grades))
	for _, g := range l.grades {
		out = append(out, g.Grade)
	}
	sort.Strings(out)
	return out
}

// CoreSubjects returns the core subjects of an academic track.
func (l *Loader) CoreSubjects(track string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for name, subjects := range l.tracks {
		if CanonicalSubject(name) == CanonicalSubject(track) {
			return slices.Clone(subjects)
		}
	}
	return nil
}

// Calendar returns the academic calendar; nil when none was loaded.
func (l *Loader) Calendar() *Calendar {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.calendar
}

func gradeKey(grade string) string {
	return strings.ToLower(strings.TrimSpace(grade))
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		base := filepath.Base(path)
		switch {
		case base == "calendar.yaml" || base == "calendar.yml":
			return l.loadCalendar(path)
		case base == "tracks.yaml" || base == "tracks.yml":
			return l.loadTracks(path)
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadGrade(path)
		}
		return nil
	})
}

func (l *Loader) loadGrade(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var g Grade
	if err := yaml.Unmarshal(data, &g); err != nil {
		slog.Warn("skipping invalid curriculum YAML", "path", path, "error", err)
		return nil
	}

	if g.Grade == "" {
		return nil // Not a grade file
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := gradeKey(g.Grade)
	if _, dup := l.grades[key]; dup {
		return fmt.Errorf("grade %q defined twice (second in %s)", g.Grade, path)
	}
	l.grades[key] = &g
	return nil
}

func (l *Loader) loadTracks(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f struct {
		Tracks map[string][]string `yaml:"tracks"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(f.Tracks) == 0 {
		return nil
	}

	l.mu.Lock()
	l.tracks = f.Tracks
	l.mu.Unlock()
	return nil
}

func (l *Loader) loadCalendar(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f CalendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	cal, err := NewCalendar(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	l.calendar = cal
	l.mu.Unlock()
	return nil
}
