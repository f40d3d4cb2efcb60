package contentid

import (
	"strconv"
	"strings"
)

func markerPrefix(a Accessibility) string {
	var b strings.Builder
	b.WriteString("[speed=")
	b.WriteString(strconv.Itoa(a.Speed))
	if a.Gender != GenderUnspecified {
		b.WriteString(";isMale=")
		b.WriteString(a.Gender.String())
	}
	b.WriteByte(']')
	return b.String()
}

// ApplyAccessibilityMarkers prefixes id with the accessibility layer for the
// given rendering, replacing any layer already present.
func ApplyAccessibilityMarkers(id string, speed int, gender Gender) string {
	return markerPrefix(Accessibility{Speed: speed, Gender: gender}) + RemoveAccessibilityMarkers(id)
}

// RemoveAccessibilityMarkers strips the accessibility layer, if any.
func RemoveAccessibilityMarkers(id string) string {
	if !strings.HasPrefix(id, "[") {
		return id
	}
	end := strings.IndexByte(id, ']')
	if end < 0 {
		return id
	}
	return id[end+1:]
}

// HasAccessibilityMarkers reports whether id carries an accessibility layer.
func HasAccessibilityMarkers(id string) bool {
	return strings.HasPrefix(id, "[") && strings.IndexByte(id, ']') > 0
}
