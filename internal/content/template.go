package content

import (
	"context"
	"fmt"
)

// Template is the deterministic Generator. The same request always yields
// the same response, so a learner is never blocked on generation.
type Template struct{}

// Generate implements Generator.
func (Template) Generate(_ context.Context, req Request) (*Response, error) {
	resp := &Response{Tasks: make([]Payload, 0, len(req.Topics))}
	for _, t := range req.Topics {
		resp.Tasks = append(resp.Tasks, TemplatePayload(t, req.Learner))
	}
	return resp, nil
}

// TemplatePayload builds the fallback payload for one topic.
func TemplatePayload(t TopicRef, lc LearnerContext) Payload {
	minutes := lc.SessionMinutes
	if minutes <= 0 {
		minutes = 30
	}

	first := fmt.Sprintf("Read your %s notes on %q and write down the key ideas.", t.Subject, t.Topic)
	switch lc.LearningStyle {
	case "visual":
		first = fmt.Sprintf("Watch a short lesson on %q and sketch a one-page diagram of it.", t.Topic)
	case "auditory":
		first = fmt.Sprintf("Listen to a lesson on %q and explain it aloud in your own words.", t.Topic)
	case "kinesthetic":
		first = fmt.Sprintf("Work through a hands-on example of %q step by step.", t.Topic)
	}

	return Payload{
		Subject: t.Subject,
		Topic:   t.Topic,
		Title:   fmt.Sprintf("%s: %s", t.Subject, t.Topic),
		Steps: []string{
			first,
			fmt.Sprintf("Solve practice questions on %q for about %d minutes.", t.Topic, minutes/2),
			"Mark the questions you got wrong and review them once more.",
		},
		Source: SourceTemplate,
	}
}
