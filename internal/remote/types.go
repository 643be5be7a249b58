package remote

import (
	"context"
	"time"
)

// Operator is the kind of change an Operation applies.
type Operator string

// Supported operators.
const (
	OpSet    Operator = "SET"
	OpRemove Operator = "REMOVE"
	OpNoop   Operator = "NOOP"
)

// Entity types the builders operate on.
const (
	EntityCampaign     = "Campaign"
	EntityCampaignFeed = "CampaignFeed"
	EntityFeed         = "Feed"
	EntityFeedItem     = "FeedItem"
	EntityFeedMapping  = "FeedMapping"
)

// Entity statuses.
const (
	StatusEnabled = "ENABLED"
	StatusDeleted = "DELETED"
)

// Operation is one change submitted in a batch. Its position in the
// submitted slice is the index the service uses in per-item results.
type Operation struct {
	Operator Operator          `json:"operator"`
	Entity   string            `json:"entity"`
	ID       string            `json:"id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Entity is a remote object as returned by List or as the per-item result
// of a mutate call.
type Entity struct {
	Type   string            `json:"entity"`
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Status string            `json:"status,omitempty"`
	Origin string            `json:"origin,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Policy describes a violated content policy.
type Policy struct {
	Name       string `json:"name"`
	Exemptable bool   `json:"exemptable"`
}

// ItemError is one per-item failure inside an otherwise successful batch.
// Index is the zero-based position of the failed operation.
type ItemError struct {
	Index      int           `json:"index"`
	Kind       Kind          `json:"-"`
	FieldPath  string        `json:"fieldPath,omitempty"`
	Trigger    string        `json:"trigger,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Policy     *Policy       `json:"policy,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// BatchResult is the outcome of a mutate call that the service accepted.
// Results holds one entry per submitted operation in submission order;
// entries for failed operations may be zero values.
type BatchResult struct {
	Results  []Entity
	Failures []ItemError
}

// Query selects entities for List.
type Query struct {
	Entity     string      `json:"entity"`
	Fields     []string    `json:"fields,omitempty"`
	Predicates []Predicate `json:"predicates,omitempty"`
}

// Predicate filters a Query on one field.
type Predicate struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"` // EQUALS or NOT_EQUALS
	Values   []string `json:"values"`
}

// Predicate operators.
const (
	PredEquals    = "EQUALS"
	PredNotEquals = "NOT_EQUALS"
)

// Matches reports whether value satisfies the predicate.
func (p Predicate) Matches(value string) bool {
	in := false

	for _, v := range p.Values {
		if v == value {
			in = true
			break
		}
	}

	if p.Operator == PredNotEquals {
		return !in
	}

	return in
}

// Service is the remote collaborator for one account. Mutate submits the
// whole slice in a single call; it returns a *Error for call-level failures
// and a BatchResult, possibly with per-item Failures, otherwise.
type Service interface {
	Mutate(ctx context.Context, ops []Operation) (*BatchResult, error)
	List(ctx context.Context, q Query) ([]Entity, error)
}

// Connector opens a Service for an account id.
type Connector interface {
	Connect(ctx context.Context, accountID string) (Service, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, accountID string) (Service, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, accountID string) (Service, error) {
	return f(ctx, accountID)
}
