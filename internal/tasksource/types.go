package tasksource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Group is one partition of the task source (e.g. a city).
type Group struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// Task is an immutable snapshot of one work item as returned by the source.
type Task struct {
	ID          FlexString `json:"id"`
	Deadline    string     `json:"deadline"`
	Responsible string     `json:"responsible"`
	WorkName    string     `json:"work_name"`
	Stage       string     `json:"construction_stage"`
	Completion  *Percent   `json:"completion_percentage"`

	// Group is filled by the client, not the API.
	Group Group `json:"-"`
}

// UnmarshalJSON is strict about the fields the scan depends on and lenient
// about display-only ones: an unparseable completion becomes nil and
// numeric work names or stages are kept as text.
func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	var aux struct {
		plain
		WorkName   FlexString      `json:"work_name"`
		Stage      FlexString      `json:"construction_stage"`
		Completion json.RawMessage `json:"completion_percentage"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*t = Task(aux.plain)
	t.WorkName = aux.WorkName.String()
	t.Stage = aux.Stage.String()
	t.Completion = nil
	if len(aux.Completion) > 0 {
		var p Percent
		if err := p.UnmarshalJSON(aux.Completion); err == nil && !bytes.Equal(bytes.TrimSpace(aux.Completion), []byte("null")) {
			t.Completion = &p
		}
	}
	return nil
}

// FlexString accepts both JSON strings and numbers (ids are numeric in some
// deployments and strings in others).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Percent is a completion percentage sent either as a number or as a string
// like "45", "45.5" or "45%".
type Percent float64

func (p *Percent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return fmt.Errorf("completion_percentage: %w", err)
		}
		*p = Percent(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("completion_percentage: %w", err)
	}
	*p = Percent(v)
	return nil
}

func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', -1, 64) + "%"
}
