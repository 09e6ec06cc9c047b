package curriculum

// Level grades importance, difficulty and exam relevance.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// OrMedium returns l, or medium when l is empty or unknown.
func (l Level) OrMedium() Level {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return l
	}
	return LevelMedium
}

// Grade is the curriculum for one grade (e.g. "9"), loaded from YAML.
type Grade struct {
	Grade    string    `yaml:"grade"`
	Name     string    `yaml:"name"`
	Subjects []Subject `yaml:"subjects"`
}

// Subject represents a subject within a grade (e.g. Matematik).
type Subject struct {
	Name  string `yaml:"name"`
	Units []Unit `yaml:"units"`
}

// Unit groups topics within a subject.
type Unit struct {
	Name   string  `yaml:"name"`
	Week   int     `yaml:"week"`
	Topics []Topic `yaml:"topics"`
}

// Topic is the smallest assignable curriculum item.
type Topic struct {
	Name             string             `yaml:"name" json:"name"`
	Importance       Level              `yaml:"importance" json:"importance,omitempty"`
	Difficulty       Level              `yaml:"difficulty" json:"difficulty,omitempty"`
	EstimatedMinutes int                `yaml:"estimated_minutes" json:"estimated_minutes,omitempty"`
	EstimatedHours   float64            `yaml:"estimated_hours" json:"estimated_hours,omitempty"`
	ExamRelevance    map[string]Level   `yaml:"exam_relevance" json:"exam_relevance,omitempty"`
	TrackWeight      map[string]float64 `yaml:"track_weight" json:"track_weight,omitempty"`
}

// DefaultTopicMinutes is used when a topic carries no estimate.
const DefaultTopicMinutes = 60

// Minutes returns the estimated effort in minutes.
func (t Topic) Minutes() int {
	switch {
	case t.EstimatedMinutes > 0:
		return t.EstimatedMinutes
	case t.EstimatedHours > 0:
		return int(t.EstimatedHours * 60)
	}
	return DefaultTopicMinutes
}

// TopicRef locates a topic in curriculum order.
type TopicRef struct {
	Subject string `json:"subject"`
	Unit    string `json:"unit"`
	Topic   Topic  `json:"topic"`
	Order   int    `json:"order"` // position within the grade, 0-based
}

// Subject looks up a subject by name, ignoring case and spacing.
func (g *Grade) Subject(name string) (*Subject, bool) {
	key := CanonicalSubject(name)
	for i := range g.Subjects {
		if CanonicalSubject(g.Subjects[i].Name) == key {
			return &g.Subjects[i], true
		}
	}
	return nil, false
}

// Topics returns every topic of subject in curriculum order.
func (g *Grade) Topics(subject string) []TopicRef {
	var out []TopicRef
	order := 0
	key := CanonicalSubject(subject)
	for _, s := range g.Subjects {
		match := CanonicalSubject(s.Name) == key
		for _, u := range s.Units {
			for _, t := range u.Topics {
				if match {
					out = append(out, TopicRef{Subject: s.Name, Unit: u.Name, Topic: t, Order: order})
				}
				order++
			}
		}
	}
	return out
}

// SubjectNames lists the grade's subjects in file order.
func (g *Grade) SubjectNames() []string {
	names := make([]string, 0, len(g.Subjects))
	for _, s := range g.Subjects {
		names = append(names, s.Name)
	}
	return names
}
