package mtask

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusDone       = "done"

	PriorityNormal = "normal"
)

const (
	statusRule   = "oneof=todo in-progress done"
	priorityRule = "oneof=low normal high urgent"
)

type Task struct {
	TaskID      int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AssigneeID  *string   `json:"assignee_id"`
	DueDate     *Date     `json:"due_date"`
	OrderIndex  int       `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask is the create input. Zero Status/Priority take the defaults.
type NewTask struct {
	ProjectID   int64   `json:"projectId" validate:"required,gt=0"`
	Title       string  `json:"title" validate:"required"`
	Description *string `json:"description"`
	Status      string  `json:"status" validate:"omitempty,oneof=todo in-progress done"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	AssigneeID  *string `json:"assigneeId"`
	DueDate     *Date   `json:"dueDate"`
	OrderIndex  int     `json:"orderIndex"`
}

// TaskPatch lists every column a partial update may touch. JSON keys outside
// this set are dropped by the decoder.
type TaskPatch struct {
	Title       Field[string]  `json:"title"`
	Description Field[*string] `json:"description"`
	Status      Field[string]  `json:"status"`
	Priority    Field[string]  `json:"priority"`
	AssigneeID  Field[*string] `json:"assignee_id"`
	DueDate     Field[*Date]   `json:"due_date"`
	OrderIndex  Field[int]     `json:"order_index"`
}

// Field is an optional patch value. Set is true when the key was present,
// Null when it was present as JSON null.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(b, &f.Value)
}

type assignment struct {
	column string
	value  any
}

// assignments returns the set fields in a fixed column order. dateArg turns
// a due date into the driver value of the backing store.
func (p TaskPatch) assignments(dateArg func(*Date) any) []assignment {
	out := make([]assignment, 0, 7)
	if p.Title.Set {
		out = append(out, assignment{"title", p.Title.Value})
	}
	if p.Description.Set {
		out = append(out, assignment{"description", textArg(p.Description.Value)})
	}
	if p.Status.Set {
		out = append(out, assignment{"status", p.Status.Value})
	}
	if p.Priority.Set {
		out = append(out, assignment{"priority", p.Priority.Value})
	}
	if p.AssigneeID.Set {
		out = append(out, assignment{"assignee_id", textArg(p.AssigneeID.Value)})
	}
	if p.DueDate.Set {
		out = append(out, assignment{"due_date", dateArg(p.DueDate.Value)})
	}
	if p.OrderIndex.Set {
		out = append(out, assignment{"order_index", p.OrderIndex.Value})
	}
	return out
}

// textArg turns an optional text value into a driver argument, nil for NULL.
func textArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (p TaskPatch) empty() bool {
	return len(p.assignments(func(*Date) any { return nil })) == 0
}

type Comment struct {
	CommentID int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentView is a comment joined with its author's display name.
type CommentView struct {
	Comment
	AuthorName string `json:"author_name"`
}

type CreateCommentRequest struct {
	TaskID int64  `json:"taskId" form:"taskId"`
	Body   string `json:"body" form:"body"`
}

const dateLayout = "2006-01-02"

// Date is a calendar day. It accepts "2006-01-02" or RFC 3339 input and
// always renders as "2006-01-02".
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return NewDate(y, m, d), nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func dateFromTime(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	out := NewDate(y, m, d)
	return &out
}
