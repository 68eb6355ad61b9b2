package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"daybrief/internal/completion"
	appLog "daybrief/internal/log"
	"daybrief/internal/prompt"
	"daybrief/internal/schema"
)

// Sender is the slice of completion.Gateway the router needs.
type Sender interface {
	SendClean(ctx context.Context, key prompt.Key, payload string) (string, error)
}

var _ Sender = (*completion.Gateway)(nil)

// Prompts lists the prompt keys the router sends under.
var Prompts = []prompt.Key{prompt.AddEvent}

// Router dispatches an intent to its handler.
type Router struct {
	sender  Sender
	schemas *schema.Pipeline
}

func NewRouter(sender Sender, schemas *schema.Pipeline) *Router {
	if schemas == nil {
		schemas = schema.New()
	}
	return &Router{sender: sender, schemas: schemas}
}

// Route validates payload against the intent's payload schema, asks the
// model and validates the parsed answer against the result schema.
//
// payload may be a typed Payload, raw JSON or a decoded JSON value. A typed
// Payload must belong to in.
// Intents without a handler fail with *UnimplementedError before any
// validation or network call.
func (r *Router) Route(ctx context.Context, in Intent, payload any) (Result, error) {
	switch in {
	case AddEvent:
		v, err := r.addEvent(ctx, payload)
		if err != nil {
			return Result{}, err
		}
		return Result{Type: AddEvent, Value: v}, nil
	case UpdateEvent, CancelEvent, Feedback:
		appLog.Warn("intent has no handler", "intent", in)
		return Result{}, &UnimplementedError{Intent: in}
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownIntent, string(in))
	}
}

func (r *Router) addEvent(ctx context.Context, payload any) (AddEventResult, error) {
	if typed, ok := payload.(Payload); ok && typed.Intent() != AddEvent {
		return AddEventResult{}, &schema.Error{
			Schema:  "AddEventPayload",
			Rule:    "intent",
			Message: fmt.Sprintf("%s payload routed as %s", typed.Intent(), AddEvent),
		}
	}

	p, err := schema.Validate[AddEventPayload](r.schemas, "AddEventPayload", payload)
	if err != nil {
		return AddEventResult{}, err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return AddEventResult{}, fmt.Errorf("encode add_event payload: %w", err)
	}

	text, err := r.sender.SendClean(ctx, prompt.AddEvent, string(body))
	if err != nil {
		return AddEventResult{}, err
	}

	raw, err := parseObject(text)
	if err != nil {
		appLog.Error("model answer is not json", err, "intent", AddEvent, "response_len", len(text))
		return AddEventResult{}, err
	}

	res, err := schema.Validate[AddEventResult](r.schemas, "AddEventResult", raw)
	if err != nil {
		return AddEventResult{}, err
	}
	appLog.Info("intent routed", "intent", AddEvent, "start", res.StartTime, "end", res.EndTime)
	return res, nil
}

// parseObject returns text as JSON, falling back to the first {...} span
// for answers that wrap the object in prose.
func parseObject(text string) (json.RawMessage, error) {
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	if span, ok := completion.ExtractJSONObject(text); ok && json.Valid([]byte(span)) {
		appLog.Debug("recovered json object from model prose")
		return json.RawMessage(span), nil
	}

	var syntaxErr error = errors.New("no json value found")
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		syntaxErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, syntaxErr)
}
