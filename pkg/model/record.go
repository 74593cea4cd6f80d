package model

import "fmt"

// Op is the operation a Record applies downstream.
type Op int

const (
	OpAdd Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Record is a normalized change queued for APPL_DB. Delete records carry
// nil Fields.
type Record struct {
	Table  string
	Key    string
	Op     Op
	Fields map[string]string
}

// ID identifies the APPL_DB row the record targets.
func (r Record) ID() string {
	return r.Table + KeySeparator + r.Key
}

// SetRecord builds an add or update record from an entity.
func SetRecord(op Op, e Entity) Record {
	return Record{
		Table:  e.Table(),
		Key:    e.Key(),
		Op:     op,
		Fields: e.Fields(),
	}
}

// DeleteRecord builds a delete record for an entity.
func DeleteRecord(e Entity) Record {
	return Record{
		Table: e.Table(),
		Key:   e.Key(),
		Op:    OpDelete,
	}
}
