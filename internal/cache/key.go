package cache

import "strings"

// Kind distinguishes single-document entries from list entries.
type Kind string

const (
	KindDoc  Kind = "doc"
	KindList Kind = "list"
)

// Key addresses one entry inside a collection cache.
type Key struct {
	Owner string
	Kind  Kind
	ID    string
}

// DocKey addresses the cached copy of one document.
func DocKey(owner, id string) Key {
	return Key{Owner: owner, Kind: KindDoc, ID: id}
}

// ListKey addresses the cached unfiltered list of an owner's documents.
func ListKey(owner string) Key {
	return Key{Owner: owner, Kind: KindList}
}

// Valid reports whether the key can be stored. Document keys need an id.
func (k Key) Valid() bool {
	switch k.Kind {
	case KindDoc:
		return k.ID != ""
	case KindList:
		return true
	}
	return false
}

// composite renders "<collection>:<owner>:doc:<id>" or
// "<collection>:<owner>:list".
func (k Key) composite(collection string) string {
	var b strings.Builder
	b.WriteString(collection)
	b.WriteByte(':')
	b.WriteString(k.Owner)
	b.WriteByte(':')
	b.WriteString(string(k.Kind))
	if k.Kind == KindDoc {
		b.WriteByte(':')
		b.WriteString(k.ID)
	}
	return b.String()
}

// Pattern selects keys for bulk invalidation. Empty components match
// anything.
type Pattern struct {
	Owner string
	Kind  Kind
	ID    string
}

// Match reports whether k is selected by p.
func (p Pattern) Match(k Key) bool {
	if p.Owner != "" && p.Owner != k.Owner {
		return false
	}
	if p.Kind != "" && p.Kind != k.Kind {
		return false
	}
	if p.ID != "" && p.ID != k.ID {
		return false
	}
	return true
}
