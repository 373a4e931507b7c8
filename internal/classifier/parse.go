package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/nugget/switchboard/internal/conversation"
)

// routeArgs is the argument object of the route function.
type routeArgs struct {
	Next   string `json:"next" jsonschema:"The next role to act, or FINISH"`
	Answer string `json:"answer,omitempty" jsonschema:"If you want to answer the user directly, provide the answer here. Otherwise, leave blank."`
}

// Parse decodes raw route-function output such as
// {"next": "sales_manager", "answer": ""}. Near-JSON is repaired before
// giving up. Whether a delegation target is registered is not checked
// here.
func Parse(raw string, options []string) (Decision, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Decision{}, fmt.Errorf("%w: empty output", ErrMalformed)
	}
	var args map[string]any
	if err := unmarshalJSON([]byte(raw), &args); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromArgs(args, options)
}

// FromArgs interprets already-decoded route arguments. A non-empty
// answer always wins over next.
func FromArgs(args map[string]any, options []string) (Decision, error) {
	if args == nil {
		return Decision{}, fmt.Errorf("%w: no arguments", ErrMalformed)
	}
	answer, _ := args["answer"].(string)
	if a := strings.TrimSpace(answer); a != "" {
		return Decision{Kind: KindAnswer, Text: a}, nil
	}

	next, ok := args["next"].(string)
	next = strings.TrimSpace(next)
	if !ok || next == "" {
		return Decision{}, fmt.Errorf("%w: neither answer nor next", ErrMalformed)
	}
	next = canonical(next, options)
	if next == conversation.Finish {
		return Decision{Kind: KindFinish}, nil
	}
	return Decision{Kind: KindDelegate, Target: next}, nil
}

// canonical maps a case-insensitive match onto the option's spelling.
func canonical(next string, options []string) string {
	for _, o := range options {
		if strings.EqualFold(o, next) {
			return o
		}
	}
	if strings.EqualFold(next, conversation.Finish) {
		return conversation.Finish
	}
	return next
}

// unmarshalJSON unmarshals data into v, repairing malformed JSON when
// the first attempt fails with a syntax error.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, err := jsonrepair.JSONRepair(string(data))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}
