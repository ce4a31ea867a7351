package models

import (
	"fmt"
	"strings"
)

// ObjectRef identifies one object on one server. Object names are only
// unique within a server, so the pair is the key used everywhere a single
// object must be addressed.
type ObjectRef struct {
	ServerID string `json:"serverId"`
	Name     string `json:"name"`
}

// Key returns the composite key in "name@serverId" form.
func (r ObjectRef) Key() string {
	return r.Name + "@" + r.ServerID
}

// ParseKey splits a composite key back into an ObjectRef.
func ParseKey(key string) (ObjectRef, error) {
	i := strings.LastIndex(key, "@")
	if i <= 0 || i == len(key)-1 {
		return ObjectRef{}, fmt.Errorf("invalid object key: %q", key)
	}
	return ObjectRef{Name: key[:i], ServerID: key[i+1:]}, nil
}

// ObjectDescriptor carries the type information used to resolve a renderer.
// ExtensionType, when present, takes priority over ObjectType.
type ObjectDescriptor struct {
	Name          string `json:"name"`
	ObjectType    string `json:"objectType"`
	ExtensionType string `json:"extensionType,omitempty"`
	TextName      string `json:"textName,omitempty"`
}

// ObjectSnapshot is one fetched state of an object: its descriptor plus the
// current data payload.
type ObjectSnapshot struct {
	Descriptor ObjectDescriptor       `json:"object"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  int64                  `json:"timestamp"` // Unix ms
}

// View is the static view-structure descriptor a renderer produces for the
// view layer. The engine treats it as opaque.
type View map[string]interface{}
