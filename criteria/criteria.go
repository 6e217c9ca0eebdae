// Package criteria describes a query against one entity type in a form every
// backend can execute locally and the exit pipeline can reconcile globally.
package criteria

import (
	"encoding/json"
	"fmt"
)

// Op is a restriction operator.
type Op string

// Supported restriction operators.
const (
	Eq      Op = "="
	Ne      Op = "!="
	Lt      Op = "<"
	Le      Op = "<="
	Gt      Op = ">"
	Ge      Op = ">="
	In      Op = "in"
	IsNull  Op = "is null"
	NotNull Op = "is not null"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case Eq, Ne, Lt, Le, Gt, Ge, In, IsNull, NotNull:
		return true
	}
	return false
}

// Restriction filters entities on one property.
type Restriction struct {
	Property string      `json:"property"`
	Op       Op          `json:"op"`
	Value    interface{} `json:"value,omitempty"`
}

// Order is one ordering key.
type Order struct {
	Property   string `json:"property"`
	Descending bool   `json:"desc,omitempty"`
}

// Asc returns an ascending order on property.
func Asc(property string) Order { return Order{Property: property} }

// Desc returns a descending order on property.
func Desc(property string) Order { return Order{Property: property, Descending: true} }

// AggregateFunc names an aggregate. The empty function projects the property
// value itself.
type AggregateFunc string

// Supported aggregates.
const (
	Property      AggregateFunc = ""
	Count         AggregateFunc = "count"
	CountDistinct AggregateFunc = "count_distinct"
	RowCount      AggregateFunc = "row_count"
	Sum           AggregateFunc = "sum"
	Min           AggregateFunc = "min"
	Max           AggregateFunc = "max"
	Avg           AggregateFunc = "avg"
)

// ProjectionItem is one output column.
type ProjectionItem struct {
	Func     AggregateFunc `json:"func,omitempty"`
	Property string        `json:"property,omitempty"`
	Alias    string        `json:"alias,omitempty"`
}

// Name returns the column name of the item.
func (p ProjectionItem) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	switch p.Func {
	case Property:
		return p.Property
	case RowCount:
		return "count(*)"
	default:
		return fmt.Sprintf("%s(%s)", p.Func, p.Property)
	}
}

// IsAggregate reports whether the item is an aggregate.
func (p ProjectionItem) IsAggregate() bool { return p.Func != Property }

// Projection is an ordered list of output columns.
type Projection []ProjectionItem

// HasAggregates reports whether any item aggregates.
func (p Projection) HasAggregates() bool {
	for _, item := range p {
		if item.IsAggregate() {
			return true
		}
	}
	return false
}

// Names returns the column names.
func (p Projection) Names() []string {
	names := make([]string, len(p))
	for i, item := range p {
		names[i] = item.Name()
	}
	return names
}

// Criteria is a query against one entity type.
type Criteria struct {
	EntityType   string        `json:"type"`
	Restrictions []Restriction `json:"where,omitempty"`
	Orders       []Order       `json:"order,omitempty"`
	Projection   Projection    `json:"projection,omitempty"`

	// FirstResult skips that many results. MaxResults bounds the number of
	// results; zero means unbounded.
	FirstResult int `json:"offset,omitempty"`
	MaxResults  int `json:"limit,omitempty"`
}

// New returns criteria selecting every entity of the given type.
func New(entityType string) *Criteria {
	return &Criteria{EntityType: entityType}
}

// Add appends a restriction.
func (c *Criteria) Add(r Restriction) *Criteria {
	c.Restrictions = append(c.Restrictions, r)
	return c
}

// Where is shorthand for Add(Restriction{property, op, value}).
func (c *Criteria) Where(property string, op Op, value interface{}) *Criteria {
	return c.Add(Restriction{Property: property, Op: op, Value: value})
}

// AddOrder appends an ordering key, less significant than those already added.
func (c *Criteria) AddOrder(o Order) *Criteria {
	c.Orders = append(c.Orders, o)
	return c
}

// Clone returns a copy that can be modified without affecting c.
func (c *Criteria) Clone() *Criteria {
	other := *c
	other.Restrictions = append([]Restriction(nil), c.Restrictions...)
	other.Orders = append([]Order(nil), c.Orders...)
	other.Projection = append(Projection(nil), c.Projection...)
	return &other
}

// Validate checks the operators and pagination bounds.
func (c *Criteria) Validate() error {
	if c.EntityType == "" {
		return fmt.Errorf("criteria: entity type required")
	}
	for _, r := range c.Restrictions {
		if !r.Op.Valid() {
			return fmt.Errorf("criteria: unknown operator %q", r.Op)
		}
		if r.Op == In {
			if _, ok := r.Value.([]interface{}); !ok {
				return fmt.Errorf("criteria: %q requires a list value", r.Property)
			}
		}
	}
	if c.FirstResult < 0 || c.MaxResults < 0 {
		return fmt.Errorf("criteria: negative offset or limit")
	}
	return nil
}

// Row is one projected result.
type Row struct {
	Columns []string
	Values  []interface{}
}

// Value returns the column named path.
func (r *Row) Value(path string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == path {
			return r.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as an object keyed by column.
func (r *Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return json.Marshal(m)
}
