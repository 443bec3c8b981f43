package mtask

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaskPatchDecoding(t *testing.T) {
	var p TaskPatch
	raw := `{"status":"done","description":null,"due_date":"2026-02-03T10:00:00Z","id":9,"project_id":4,"created_at":"x"}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !p.Status.Set || p.Status.Null || p.Status.Value != StatusDone {
		t.Errorf("status = %+v", p.Status)
	}
	if !p.Description.Set || !p.Description.Null || p.Description.Value != nil {
		t.Errorf("description = %+v", p.Description)
	}
	if !p.DueDate.Set || p.DueDate.Value == nil || p.DueDate.Value.String() != "2026-02-03" {
		t.Errorf("due_date = %+v", p.DueDate)
	}
	if p.Title.Set || p.Priority.Set || p.AssigneeID.Set || p.OrderIndex.Set {
		t.Errorf("unexpected fields set: %+v", p)
	}

	cols := []string{}
	for _, a := range p.assignments(pgDate) {
		cols = append(cols, a.column)
	}
	if !equalStrings(cols, []string{"description", "status", "due_date"}) {
		t.Errorf("columns = %v", cols)
	}
}

func TestTaskPatchOnlyUnknownKeysIsEmpty(t *testing.T) {
	var p TaskPatch
	if err := json.Unmarshal([]byte(`{"bogus":1,"project_id":3}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !p.empty() {
		t.Fatalf("patch = %+v, want empty", p)
	}
}

func TestDateJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`"2026-07-04"`, "2026-07-04", true},
		{`"2026-07-04T23:30:00Z"`, "2026-07-04", true},
		{`"04/07/2026"`, "", false},
		{`20260704`, "", false},
	}
	for _, tc := range cases {
		var d Date
		err := json.Unmarshal([]byte(tc.in), &d)
		if (err == nil) != tc.ok {
			t.Errorf("Unmarshal(%s) err = %v", tc.in, err)
			continue
		}
		if tc.ok && d.String() != tc.want {
			t.Errorf("Unmarshal(%s) = %s, want %s", tc.in, d, tc.want)
		}
	}

	b, err := json.Marshal(Task{DueDate: &Date{time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["due_date"] != "2026-01-02" {
		t.Errorf("due_date = %v", m["due_date"])
	}
	if _, ok := m["assignee_id"]; !ok {
		t.Error("assignee_id missing from output")
	}
}
