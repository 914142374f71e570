// Package validate enforces the tool dispatch size caps named in the
// specification (ids, names, descriptions, tags, capabilities, message
// and memory content) so every tool handler validates the same way.
package validate

import "github.com/agorai/agorai/internal/bridgeerr"

// Size caps, per spec.
const (
	MaxID           = 100
	MaxName         = 200
	MaxDescription  = 5000
	MaxType         = 50
	MaxTag          = 50
	MaxTagCount     = 20
	MaxCapabilities = 20
	MaxMessageBytes = 100 * 1024
	MaxMemoryBytes  = 50 * 1024
)

// ID validates an entity id argument.
func ID(field, v string) error {
	if v == "" {
		return bridgeerr.Validation("%s must not be empty", field)
	}
	if len(v) > MaxID {
		return bridgeerr.Validation("%s must be at most %d characters", field, MaxID)
	}
	return nil
}

// Name validates a name/title argument (agent name, project name,
// conversation title).
func Name(field, v string) error {
	if v == "" {
		return bridgeerr.Validation("%s must not be empty", field)
	}
	if len(v) > MaxName {
		return bridgeerr.Validation("%s must be at most %d characters", field, MaxName)
	}
	return nil
}

// Description validates a free-form description argument.
func Description(field, v string) error {
	if len(v) > MaxDescription {
		return bridgeerr.Validation("%s must be at most %d characters", field, MaxDescription)
	}
	return nil
}

// Type validates a free-form type string (agent type, message type).
func Type(field, v string) error {
	if len(v) > MaxType {
		return bridgeerr.Validation("%s must be at most %d characters", field, MaxType)
	}
	return nil
}

// Tags validates a slice of tag strings.
func Tags(field string, tags []string) error {
	if len(tags) > MaxTagCount {
		return bridgeerr.Validation("%s must contain at most %d entries", field, MaxTagCount)
	}
	for _, t := range tags {
		if len(t) > MaxTag {
			return bridgeerr.Validation("%s entry %q must be at most %d characters", field, t, MaxTag)
		}
	}
	return nil
}

// Capabilities validates a slice of capability strings.
func Capabilities(field string, caps []string) error {
	if len(caps) > MaxCapabilities {
		return bridgeerr.Validation("%s must contain at most %d entries", field, MaxCapabilities)
	}
	for _, c := range caps {
		if len(c) > MaxType {
			return bridgeerr.Validation("%s entry %q must be at most %d characters", field, c, MaxType)
		}
	}
	return nil
}

// MessageContent validates a message's content argument: non-empty, at
// most MaxMessageBytes bytes.
func MessageContent(v string) error {
	if v == "" {
		return bridgeerr.Validation("content must not be empty")
	}
	if len(v) > MaxMessageBytes {
		return bridgeerr.Validation("content must be at most %d bytes", MaxMessageBytes)
	}
	return nil
}

// MemoryContent validates a memory entry's content argument.
func MemoryContent(v string) error {
	if len(v) > MaxMemoryBytes {
		return bridgeerr.Validation("content must be at most %d bytes", MaxMemoryBytes)
	}
	return nil
}
