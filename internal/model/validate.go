package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes (E1xx), grouped by the rule section they check.
const (
	ErrRuleNameEmpty       = "E100" // name is required
	ErrRuleNoActions       = "E101" // at least one action required
	ErrInvalidTriggerKind  = "E102" // unsupported trigger kind
	ErrTriggerMissingField = "E103" // trigger kind requires a field that is empty
	ErrInvalidOperator     = "E110" // unsupported condition operator
	ErrConditionNoSource   = "E111" // leaf condition missing source
	ErrConditionNoValue    = "E112" // operator requires a value but none given
	ErrConditionNoChildren = "E113" // combinator with no nested conditions
	ErrInvalidSourceKind   = "E114" // unsupported condition source kind
	ErrInvalidRegex        = "E115" // matches operator with an uncompilable pattern
	ErrInvalidActionKind   = "E120" // unsupported action kind
	ErrActionMissingField  = "E121" // action kind requires a field that is empty
	ErrInvalidTemporalKind = "E130" // unsupported temporal pattern kind
	ErrTemporalMissingField = "E131" // temporal pattern kind requires a field that is empty
	ErrInvalidWithin       = "E132" // temporal window duration must be positive
)

// ValidationError reports one defect found while validating a Rule.
// Code is a stable identifier a caller can branch on; Message is
// human-readable.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a Rule for structural and semantic defects. It never
// fails fast: every error found is returned so a caller (typically the
// Rule Registry's validateInput operation) can report them all at once.
func Validate(r Rule) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, ValidationError{
			Field: "name", Message: "name is required and must be non-empty", Code: ErrRuleNameEmpty,
		})
	}
	if len(r.Actions) == 0 {
		errs = append(errs, ValidationError{
			Field: "actions", Message: "at least one action is required", Code: ErrRuleNoActions,
		})
	}

	errs = append(errs, validateTrigger(r.Trigger)...)
	for i, c := range r.Conditions {
		errs = append(errs, validateCondition(fmt.Sprintf("conditions[%d]", i), c)...)
	}
	for i, a := range r.Actions {
		errs = append(errs, validateAction(fmt.Sprintf("actions[%d]", i), a)...)
	}
	return errs
}

func validateTrigger(t Trigger) []ValidationError {
	var errs []ValidationError
	switch t.Kind {
	case TriggerEvent:
		if strings.TrimSpace(t.Topic) == "" {
			errs = append(errs, ValidationError{
				Field: "trigger.topic", Message: "event trigger requires a topic or topic pattern", Code: ErrTriggerMissingField,
			})
		}
	case TriggerFact:
		if strings.TrimSpace(t.Pattern) == "" {
			errs = append(errs, ValidationError{
				Field: "trigger.pattern", Message: "fact trigger requires a key pattern", Code: ErrTriggerMissingField,
			})
		}
	case TriggerTimer:
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, ValidationError{
				Field: "trigger.name", Message: "timer trigger requires a name or name pattern", Code: ErrTriggerMissingField,
			})
		}
	case TriggerTemporal:
		if t.Temporal == nil {
			errs = append(errs, ValidationError{
				Field: "trigger.temporal", Message: "temporal trigger requires a temporal pattern", Code: ErrTriggerMissingField,
			})
		} else {
			errs = append(errs, validateTemporal(*t.Temporal)...)
		}
	default:
		errs = append(errs, ValidationError{
			Field: "trigger.kind", Message: fmt.Sprintf("unsupported trigger kind %q", t.Kind), Code: ErrInvalidTriggerKind,
		})
	}
	return errs
}

func validateTemporal(tp TemporalPattern) []ValidationError {
	var errs []ValidationError
	if tp.Within <= 0 {
		errs = append(errs, ValidationError{
			Field: "trigger.temporal.within", Message: "within must be a positive duration", Code: ErrInvalidWithin,
		})
	}
	switch tp.Kind {
	case TemporalSequence:
		if len(tp.Events) < 2 {
			errs = append(errs, ValidationError{
				Field: "trigger.temporal.events", Message: "sequence requires at least two event patterns", Code: ErrTemporalMissingField,
			})
		}
	case TemporalAbsence, TemporalCount, TemporalAggregate:
		if strings.TrimSpace(tp.Event) == "" {
			errs = append(errs, ValidationError{
				Field: "trigger.temporal.event", Message: fmt.Sprintf("%s requires an event pattern", tp.Kind), Code: ErrTemporalMissingField,
			})
		}
		if tp.Kind == TemporalAggregate && strings.TrimSpace(tp.Field) == "" {
			errs = append(errs, ValidationError{
				Field: "trigger.temporal.field", Message: "aggregate requires a field", Code: ErrTemporalMissingField,
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field: "trigger.temporal.kind", Message: fmt.Sprintf("unsupported temporal kind %q", tp.Kind), Code: ErrInvalidTemporalKind,
		})
	}
	return errs
}

func validateCondition(path string, c Condition) []ValidationError {
	var errs []ValidationError

	if CombinatorOperators[c.Operator] {
		if len(c.Children) == 0 {
			errs = append(errs, ValidationError{
				Field: path + ".conditions", Message: fmt.Sprintf("%s requires at least one nested condition", c.Operator), Code: ErrConditionNoChildren,
			})
		}
		for i, ch := range c.Children {
			errs = append(errs, validateCondition(fmt.Sprintf("%s.conditions[%d]", path, i), ch)...)
		}
		return errs
	}

	if !validLeafOperators[c.Operator] {
		errs = append(errs, ValidationError{
			Field: path + ".operator", Message: fmt.Sprintf("unsupported operator %q", c.Operator), Code: ErrInvalidOperator,
		})
		return errs
	}

	if c.Source == nil {
		errs = append(errs, ValidationError{
			Field: path + ".source", Message: "leaf condition requires a source", Code: ErrConditionNoSource,
		})
	} else if !validSourceKinds[c.Source.Kind] {
		errs = append(errs, ValidationError{
			Field: path + ".source.kind", Message: fmt.Sprintf("unsupported source kind %q", c.Source.Kind), Code: ErrInvalidSourceKind,
		})
	}

	if !UnaryOperators[c.Operator] && c.Value == nil {
		errs = append(errs, ValidationError{
			Field: path + ".value", Message: fmt.Sprintf("operator %q requires a value", c.Operator), Code: ErrConditionNoValue,
		})
	}

	if c.Operator == OpMatches && c.Value != nil && !c.Value.IsRef {
		if pattern, ok := c.Value.Literal.(string); ok {
			if _, err := regexp.Compile(pattern); err != nil {
				errs = append(errs, ValidationError{
					Field: path + ".value", Message: fmt.Sprintf("invalid regular expression: %v", err), Code: ErrInvalidRegex,
				})
			}
		}
	}
	return errs
}

var validLeafOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true, OpContains: true, OpStartsWith: true, OpEndsWith: true,
	OpMatches: true, OpExists: true, OpNotExists: true, OpIsNull: true, OpIsNotNull: true,
	OpBetween: true,
}

var validSourceKinds = map[SourceKind]bool{
	SourceFact: true, SourceEvent: true, SourceContext: true, SourceLookup: true, SourceBaseline: true,
}

func validateAction(path string, a Action) []ValidationError {
	var errs []ValidationError
	switch a.Kind {
	case ActionSetFact:
		if strings.TrimSpace(a.Key) == "" {
			errs = append(errs, missingField(path, "key", "setFact requires a key"))
		}
	case ActionDeleteFact:
		if strings.TrimSpace(a.Key) == "" {
			errs = append(errs, missingField(path, "key", "deleteFact requires a key"))
		}
	case ActionEmitEvent:
		if strings.TrimSpace(a.Topic) == "" {
			errs = append(errs, missingField(path, "topic", "emitEvent requires a topic"))
		}
	case ActionStartTimer:
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, missingField(path, "name", "startTimer requires a name"))
		}
		if a.DurationMs <= 0 {
			errs = append(errs, missingField(path, "durationMs", "startTimer requires a positive durationMs"))
		}
	case ActionCancelTimer:
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, missingField(path, "name", "cancelTimer requires a name"))
		}
	case ActionCallWebhook:
		if strings.TrimSpace(a.URL) == "" {
			errs = append(errs, missingField(path, "url", "callWebhook requires a url"))
		}
	case ActionLog:
		if strings.TrimSpace(a.Message) == "" {
			errs = append(errs, missingField(path, "message", "log requires a message"))
		}
	default:
		errs = append(errs, ValidationError{
			Field: path + ".kind", Message: fmt.Sprintf("unsupported action kind %q", a.Kind), Code: ErrInvalidActionKind,
		})
	}
	return errs
}

func missingField(path, field, message string) ValidationError {
	return ValidationError{Field: path + "." + field, Message: message, Code: ErrActionMissingField}
}
