package contentid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedIdentity is returned when an identifier cannot be parsed.
// Retrying never fixes it, so callers surface it to whoever supplied the ID.
var ErrMalformedIdentity = errors.New("malformed content identity")

// ParseError describes why an identifier was rejected.
type ParseError struct {
	ID     string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedIdentity, e.ID, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedIdentity.
func (e *ParseError) Unwrap() error {
	return ErrMalformedIdentity
}

// Gender is the optional voice gender of a rendering.
type Gender int

const (
	// GenderUnspecified means the content has a single, ungendered rendering.
	GenderUnspecified Gender = iota
	// GenderFemale renders with isMale=false.
	GenderFemale
	// GenderMale renders with isMale=true.
	GenderMale
)

// GenderFromBool converts an isMale flag.
func GenderFromBool(isMale bool) Gender {
	if isMale {
		return GenderMale
	}
	return GenderFemale
}

// String returns the marker value for the gender.
func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "true"
	case GenderFemale:
		return "false"
	default:
		return "unspecified"
	}
}

// Accessibility is the rendering selected by the accessibility layer.
type Accessibility struct {
	Speed  int
	Gender Gender
}

// ID is a parsed content identifier.
type ID struct {
	raw string

	// Marked reports whether the accessibility layer was present.
	Marked bool
	Access Accessibility

	Tag   string
	Order []int
	// Chunk is the 1-based chunk index, or 0 when the ID is not a chunk.
	Chunk int
}

// Parse parses a full identifier, with or without an accessibility layer.
func Parse(s string) (ID, error) {
	id := ID{raw: s}

	identity := s
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return ID{}, &ParseError{ID: s, Reason: "unterminated accessibility prefix"}
		}
		access, err := parseMarkers(s[1:end])
		if err != nil {
			return ID{}, &ParseError{ID: s, Reason: err.Error()}
		}
		id.Marked = true
		id.Access = access
		identity = s[end+1:]
	}

	if err := id.parseIdentity(identity); err != nil {
		return ID{}, &ParseError{ID: s, Reason: err.Error()}
	}
	return id, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func parseMarkers(body string) (Accessibility, error) {
	var a Accessibility
	clauses := strings.Split(body, ";")
	if len(clauses) == 0 || len(clauses) > 2 {
		return a, fmt.Errorf("invalid accessibility layer %q", body)
	}

	speed, ok := strings.CutPrefix(clauses[0], "speed=")
	if !ok {
		return a, fmt.Errorf("accessibility layer must start with speed, got %q", clauses[0])
	}
	n, err := strconv.Atoi(speed)
	if err != nil {
		return a, fmt.Errorf("non-integer speed %q", speed)
	}
	a.Speed = n

	if len(clauses) == 2 {
		v, ok := strings.CutPrefix(clauses[1], "isMale=")
		if !ok {
			return a, fmt.Errorf("unknown accessibility clause %q", clauses[1])
		}
		switch v {
		case "true":
			a.Gender = GenderMale
		case "false":
			a.Gender = GenderFemale
		default:
			return a, fmt.Errorf("invalid isMale value %q", v)
		}
	}
	return a, nil
}

func (id *ID) parseIdentity(identity string) error {
	if identity == "" {
		return errors.New("empty identity layer")
	}

	body := identity
	if i := strings.LastIndexByte(identity, '_'); i >= 0 {
		n, err := strconv.Atoi(identity[i+1:])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid chunk index %q", identity[i+1:])
		}
		id.Chunk = n
		body = identity[:i]
	}
	if strings.ContainsAny(body, "_[]") {
		return errors.New("reserved character in identity layer")
	}

	parts := strings.Split(body, ".")
	if _, err := strconv.Atoi(parts[0]); err != nil {
		if parts[0] == "" {
			return errors.New("empty tag")
		}
		id.Tag = parts[0]
		parts = parts[1:]
	}
	if len(parts) < 3 {
		return fmt.Errorf("expected scenario.mission.order, got %d order components", len(parts))
	}

	id.Order = make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("non-integer order component %q", p)
		}
		if n < 0 {
			return fmt.Errorf("negative order component %d", n)
		}
		id.Order[i] = n
	}
	return nil
}

// String returns the identifier as it was parsed.
func (id ID) String() string {
	if id.raw != "" {
		return id.raw
	}
	return id.Encode()
}

// Encode renders the identifier from its fields.
func (id ID) Encode() string {
	var b strings.Builder
	if id.Marked {
		b.WriteString(markerPrefix(id.Access))
	}
	b.WriteString(id.Base())
	return b.String()
}

// Base returns the identity layer, including any chunk suffix.
func (id ID) Base() string {
	if id.Chunk == 0 {
		return id.ClusterID()
	}
	return id.ClusterID() + "_" + strconv.Itoa(id.Chunk)
}

// ClusterID returns the identity layer without the chunk suffix. For an ID
// that is not a chunk this equals Base.
func (id ID) ClusterID() string {
	var b strings.Builder
	if id.Tag != "" {
		b.WriteString(id.Tag)
		b.WriteByte('.')
	}
	for i, n := range id.Order {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// IsChunk reports whether the ID names one chunk of a cluster.
func (id ID) IsChunk() bool {
	return id.Chunk > 0
}

// Cluster returns the ID of the cluster a chunk belongs to, keeping the
// accessibility layer.
func (id ID) Cluster() ID {
	c := id
	c.raw = ""
	c.Chunk = 0
	return c
}

// WithAccessibility returns a copy carrying the given accessibility layer.
func (id ID) WithAccessibility(a Accessibility) ID {
	c := id
	c.raw = ""
	c.Marked = true
	c.Access = a
	return c
}

// WithoutAccessibility returns a copy with the accessibility layer stripped.
func (id ID) WithoutAccessibility() ID {
	c := id
	c.raw = ""
	c.Marked = false
	c.Access = Accessibility{}
	return c
}

// ChunkID builds the identifier of the index-th (1-based) chunk of id.
func ChunkID(id string, index int) string {
	return id + "_" + strconv.Itoa(index)
}
