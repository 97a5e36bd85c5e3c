package meta

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axonops/cql-control/internal/cql"
)

// Keyspace is the unit of schema metadata. All child entities hang off their
// keyspace so that a keyspace drop removes everything beneath it.
type Keyspace struct {
	Name          string
	DurableWrites bool
	Replication   map[string]string

	Tables     map[string]*Table
	Views      map[string]*View
	UserTypes  map[string]*UserType
	Functions  map[string]*Function
	Aggregates map[string]*Aggregate
}

// Table holds table metadata and its columns and indexes
type Table struct {
	Keyspace string
	Name     string
	Comment  string
	Columns  map[string]*Column
	Indexes  map[string]*Index
}

// View holds materialized view metadata
type View struct {
	Keyspace  string
	Name      string
	BaseTable string
	Columns   map[string]*Column
}

// Column holds column metadata for a table or view
type Column struct {
	Keyspace string
	Table    string
	Name     string
	Kind     string
	Type     string
	Position int
}

// Index holds secondary index metadata
type Index struct {
	Keyspace string
	Table    string
	Name     string
	Kind     string
	Options  map[string]string
}

// UserType holds user defined type metadata
type UserType struct {
	Keyspace   string
	Name       string
	FieldNames []string
	FieldTypes []string
}

// Function holds user defined function metadata, keyed by its full name
type Function struct {
	Keyspace          string
	Name              string
	ArgumentTypes     []string
	ArgumentNames     []string
	ReturnType        string
	Language          string
	Body              string
	CalledOnNullInput bool
}

// Aggregate holds user defined aggregate metadata, keyed by its full name
type Aggregate struct {
	Keyspace      string
	Name          string
	ArgumentTypes []string
	ReturnType    string
	StateFunc     string
	StateType     string
	FinalFunc     string
	InitCond      string
}

// FullFunctionName builds the key used for functions and aggregates:
// name(arg_type_1,arg_type_2). Functions are overloadable so the bare name
// is not unique within a keyspace.
func FullFunctionName(name string, argTypes []string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(argTypes, ","))
}

func newKeyspace(name string) *Keyspace {
	return &Keyspace{
		Name:       name,
		Tables:     make(map[string]*Table),
		Views:      make(map[string]*View),
		UserTypes:  make(map[string]*UserType),
		Functions:  make(map[string]*Function),
		Aggregates: make(map[string]*Aggregate),
	}
}

// firstString returns the first of the named columns present on the row.
// Schema tables renamed several key columns across server versions
// (columnfamily_name vs table_name, signature vs argument_types).
func firstString(row cql.Row, names ...string) (string, bool) {
	for _, name := range names {
		if s, ok := row.String(name); ok {
			return s, true
		}
	}
	return "", false
}

func firstStringList(row cql.Row, names ...string) ([]string, bool) {
	for _, name := range names {
		if l, ok := row.StringList(name); ok {
			return l, true
		}
	}
	return nil, false
}

func decodeKeyspace(version cql.Version, row cql.Row) *Keyspace {
	name, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}

	ks := newKeyspace(name)
	ks.DurableWrites, _ = row.Bool("durable_writes")

	if version.AtLeast(3, 0) {
		if repl, ok := row.StringMap("replication"); ok {
			ks.Replication = repl
		}
	} else {
		// Pre-3.0 splits the replication settings into a class column and a
		// JSON options column.
		ks.Replication = make(map[string]string)
		if class, ok := row.String("strategy_class"); ok {
			ks.Replication["class"] = class
		}
		if opts, ok := row.String("strategy_options"); ok {
			var parsed map[string]string
			if err := json.Unmarshal([]byte(opts), &parsed); err == nil {
				for k, v := range parsed {
					ks.Replication[k] = v
				}
			}
		}
	}

	return ks
}

func decodeTable(version cql.Version, row cql.Row) *Table {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	name, ok := firstString(row, "table_name", "columnfamily_name")
	if !ok {
		return nil
	}

	t := &Table{
		Keyspace: ksName,
		Name:     name,
		Columns:  make(map[string]*Column),
		Indexes:  make(map[string]*Index),
	}
	t.Comment, _ = row.String("comment")
	return t
}

func decodeView(row cql.Row) *View {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	name, ok := row.String("view_name")
	if !ok {
		return nil
	}

	v := &View{
		Keyspace: ksName,
		Name:     name,
		Columns:  make(map[string]*Column),
	}
	v.BaseTable, _ = row.String("base_table_name")
	return v
}

func decodeColumn(version cql.Version, row cql.Row) *Column {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	table, ok := firstString(row, "table_name", "columnfamily_name")
	if !ok {
		return nil
	}
	name, ok := row.String("column_name")
	if !ok {
		return nil
	}

	c := &Column{
		Keyspace: ksName,
		Table:    table,
		Name:     name,
	}
	if version.AtLeast(3, 0) {
		c.Kind, _ = row.String("kind")
		c.Type, _ = row.String("type")
	} else {
		c.Kind, _ = row.String("type")
		c.Type, _ = row.String("validator")
	}
	c.Position, _ = row.Int("position")
	return c
}

func decodeIndex(row cql.Row) *Index {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	table, ok := firstString(row, "table_name", "columnfamily_name")
	if !ok {
		return nil
	}
	name, ok := row.String("index_name")
	if !ok {
		return nil
	}

	idx := &Index{
		Keyspace: ksName,
		Table:    table,
		Name:     name,
	}
	idx.Kind, _ = row.String("kind")
	idx.Options, _ = row.StringMap("options")
	return idx
}

func decodeUserType(row cql.Row) *UserType {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	name, ok := row.String("type_name")
	if !ok {
		return nil
	}

	ut := &UserType{
		Keyspace: ksName,
		Name:     name,
	}
	ut.FieldNames, _ = row.StringList("field_names")
	ut.FieldTypes, _ = row.StringList("field_types")
	return ut
}

func decodeFunction(row cql.Row) *Function {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	name, ok := row.String("function_name")
	if !ok {
		return nil
	}

	f := &Function{
		Keyspace: ksName,
		Name:     name,
	}
	f.ArgumentTypes, _ = firstStringList(row, "argument_types", "signature")
	f.ArgumentNames, _ = row.StringList("argument_names")
	f.ReturnType, _ = row.String("return_type")
	f.Language, _ = row.String("language")
	f.Body, _ = row.String("body")
	f.CalledOnNullInput, _ = row.Bool("called_on_null_input")
	return f
}

func decodeAggregate(row cql.Row) *Aggregate {
	ksName, ok := row.String("keyspace_name")
	if !ok {
		return nil
	}
	name, ok := row.String("aggregate_name")
	if !ok {
		return nil
	}

	a := &Aggregate{
		Keyspace: ksName,
		Name:     name,
	}
	a.ArgumentTypes, _ = firstStringList(row, "argument_types", "signature")
	a.ReturnType, _ = row.String("return_type")
	a.StateFunc, _ = row.String("state_func")
	a.StateType, _ = row.String("state_type")
	a.FinalFunc, _ = row.String("final_func")
	a.InitCond, _ = row.String("initcond")
	return a
}
