// Package content turns a topic shortlist into human-readable task payloads.
//
// Generated output is validated against a fixed JSON schema before use.
// Template produces the same shape deterministically and is used when
// generation is unavailable or malformed.
package content

import (
	"context"
	"strings"
)

// TopicRef names one topic to write a task for.
type TopicRef struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

// LearnerContext is what the generator may know about the learner.
type LearnerContext struct {
	Grade          string   `json:"grade"`
	LearningStyle  string   `json:"learning_style,omitempty"`
	SessionMinutes int      `json:"session_minutes"`
	WeakSubjects   []string `json:"weak_subjects,omitempty"`
}

// Request asks for one payload per topic.
type Request struct {
	Topics  []TopicRef     `json:"topics"`
	Learner LearnerContext `json:"learner_context"`
}

// Resource is an optional external link.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Source records where a payload came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceTemplate  Source = "template"
)

// Payload is the human-readable part of a task.
type Payload struct {
	Subject   string     `json:"subject"`
	Topic     string     `json:"topic"`
	Title     string     `json:"title"`
	Steps     []string   `json:"steps"`
	Resources []Resource `json:"resources,omitempty"`
	Source    Source     `json:"source,omitempty"`
}

// Response holds the payloads of a Request.
type Response struct {
	Tasks []Payload `json:"tasks"`
}

// Generator produces payloads for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Find returns the payload for subject/topic, matched case-insensitively.
func (r *Response) Find(subject, topic string) (Payload, bool) {
	if r == nil {
		return Payload{}, false
	}
	for _, p := range r.Tasks {
		if strings.EqualFold(strings.TrimSpace(p.Subject), strings.TrimSpace(subject)) &&
			strings.EqualFold(strings.TrimSpace(p.Topic), strings.TrimSpace(topic)) {
			return p, true
		}
	}
	return Payload{}, false
}
