package ir

import "time"

// DefaultEntryPoint is the entry point facts are inserted into unless
// another is named.
const DefaultEntryPoint = "DEFAULT"

// DefaultAgendaGroup is the agenda group at the bottom of the focus stack.
const DefaultAgendaGroup = "MAIN"

// RuleBase is the compiled description handed from the rule compiler to the
// engine. It is consumed once to build a network.
type RuleBase struct {
	Types   []TypeDecl    `json:"types"`
	Rules   []RuleSpec    `json:"rules"` // Declaration order is significant
	Session SessionConfig `json:"session"`
}

// TypeRole distinguishes plain facts from timestamped events.
type TypeRole string

const (
	RoleFact  TypeRole = "fact"
	RoleEvent TypeRole = "event"
)

// TypeDecl declares a fact type and its position in the type hierarchy.
type TypeDecl struct {
	Name       string   `json:"name"`
	Supertypes []string `json:"supertypes,omitempty"`
	Role       TypeRole `json:"role,omitempty"`

	// Expires retracts events this long after their timestamp. Zero keeps them.
	Expires time.Duration `json:"expires,omitempty"`

	// TimestampField names an int field holding the event time in epoch ms.
	// When empty the session clock at insertion is used.
	TimestampField string `json:"timestamp_field,omitempty"`
}

// SessionConfig carries declarative session settings.
type SessionConfig struct {
	Clock       string   `json:"clock,omitempty"`      // "realtime" (default) or "pseudo"
	StartTime   int64    `json:"start_time,omitempty"` // Pseudo clock start, epoch ms
	EntryPoints []string `json:"entry_points,omitempty"`
}

// RuleSpec is one compiled rule: conditions, consequence and attributes.
type RuleSpec struct {
	Name            string `json:"name"`
	Salience        int    `json:"salience,omitempty"`
	NoLoop          bool   `json:"no_loop,omitempty"`
	AgendaGroup     string `json:"agenda_group,omitempty"`
	AutoFocus       bool   `json:"auto_focus,omitempty"`
	ActivationGroup string `json:"activation_group,omitempty"`

	// Timer, when set, overrides any duration-derived fire time.
	Timer     *TimerSpec     `json:"timer,omitempty"`
	Durations []DurationSpec `json:"durations,omitempty"`
	Calendars []string       `json:"calendars,omitempty"`

	Conditions []Condition `json:"conditions"`

	// Actions is the declarative form of the consequence, kept for
	// introspection. The engine only ever calls Consequence.
	Actions     []ActionSpec `json:"actions,omitempty"`
	Consequence Consequence  `json:"-"`
}

// Group returns the agenda group, defaulting to MAIN.
func (r *RuleSpec) Group() string {
	if r.AgendaGroup == "" {
		return DefaultAgendaGroup
	}
	return r.AgendaGroup
}

// ConditionKind tags the Condition variant.
type ConditionKind string

const (
	CondPattern    ConditionKind = "pattern"
	CondNot        ConditionKind = "not"
	CondExists     ConditionKind = "exists"
	CondAccumulate ConditionKind = "accumulate"
)

// Condition is one element of a rule's left-hand side.
// Pattern is set for pattern, not and exists; Accumulate for accumulate.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	Pattern    *Pattern      `json:"pattern,omitempty"`
	Accumulate *Accumulate   `json:"accumulate,omitempty"`
}

// Pattern matches single facts of one type, optionally joined to earlier
// bindings of the same rule.
type Pattern struct {
	Type       string `json:"type"`
	EntryPoint string `json:"entry_point,omitempty"`
	Bind       string `json:"bind,omitempty"`

	Alpha []FieldConstraint `json:"alpha,omitempty"`
	Joins []JoinConstraint  `json:"joins,omitempty"`

	// Test and JoinTest are opaque predicates from the compiler. TestKey and
	// JoinTestKey name them so equal predicates can share network nodes;
	// unnamed predicates are never shared.
	Test        AlphaTest `json:"-"`
	TestKey     string    `json:"test_key,omitempty"`
	JoinTest    JoinTest  `json:"-"`
	JoinTestKey string    `json:"join_test_key,omitempty"`
}

// Entry returns the entry point, defaulting to DEFAULT.
func (p *Pattern) Entry() string {
	if p.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return p.EntryPoint
}

// FieldConstraint compares one field of a fact with a literal.
type FieldConstraint struct {
	Field string  `json:"field"`
	Op    Op      `json:"op"`
	Value IRValue `json:"value,omitempty"`
}

// JoinConstraint compares a field of the candidate fact with a field of an
// earlier binding. An empty VarField compares against an accumulate result
// bound to Var.
type JoinConstraint struct {
	Field    string `json:"field"`
	Op       Op     `json:"op"`
	Var      string `json:"var"`
	VarField string `json:"var_field,omitempty"`
}

// AccumulateFunc names an incremental aggregate.
type AccumulateFunc string

const (
	AccCount   AccumulateFunc = "count"
	AccSum     AccumulateFunc = "sum"
	AccMin     AccumulateFunc = "min"
	AccMax     AccumulateFunc = "max"
	AccCollect AccumulateFunc = "collect"
)

// Accumulate aggregates the facts matching Source for each left tuple.
// The result is bound to Bind and must satisfy every Result constraint
// (their Field is ignored; they test the result value).
type Accumulate struct {
	Source Pattern           `json:"source"`
	Func   AccumulateFunc    `json:"func"`
	Field  string            `json:"field,omitempty"`
	Bind   string            `json:"bind"`
	Result []FieldConstraint `json:"result,omitempty"`
}

// TimerKind tags the TimerSpec variant.
type TimerKind string

const (
	TimerDuration TimerKind = "duration"
	TimerInterval TimerKind = "interval"
)

// TimerSpec is an explicit rule timer.
type TimerSpec struct {
	Kind        TimerKind     `json:"kind"`
	Delay       time.Duration `json:"delay"`
	Period      time.Duration `json:"period,omitempty"`
	RepeatLimit int           `json:"repeat_limit,omitempty"` // 0 = unbounded
}

// DurationSpec delays activation until Duration after the timestamp of the
// event bound to EventVar (or after match creation when EventVar is empty).
type DurationSpec struct {
	Duration time.Duration `json:"duration"`
	EventVar string        `json:"event_var,omitempty"`
}

// ActionKind tags the ActionSpec variant.
type ActionKind string

const (
	ActInsert        ActionKind = "insert"
	ActInsertLogical ActionKind = "insert_logical"
	ActUpdate        ActionKind = "update" // replaces the target's value
	ActModify        ActionKind = "modify" // merges fields into the target's value
	ActDelete        ActionKind = "delete"
	ActHalt          ActionKind = "halt"
	ActFocus         ActionKind = "focus"
)

// ActionSpec is one declarative consequence step. Field templates may
// reference bindings as "${var.field}" or "${var}" for accumulate results.
// Values holds fields given as non-string constants.
type ActionSpec struct {
	Kind   ActionKind        `json:"kind"`
	Type   string            `json:"type,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Values IRObject          `json:"values,omitempty"`
	Target string            `json:"target,omitempty"`
	Group  string            `json:"group,omitempty"`
}
