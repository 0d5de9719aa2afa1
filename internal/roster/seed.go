package roster

import (
	"fmt"

	"github.com/google/uuid"

	"classattend/internal/model"
)

var seedTags = []struct{ uid, name string }{
	{"04:3E:28:62:F4:6A:80", "Ryan"},
	{"04:5A:24:BA:04:6F:80", "Andhika"},
	{"04:5F:42:5A:A4:6F:80", "Nabhan"},
	{"04:29:6F:5A:94:6C:80", "Dilo"},
	{"05:84:6B:66:E3:E1:00", "Natasya"},
}

var seedClasses = []string{"A", "B", "C", "D"}

// DefaultSeed is the roster a fresh installation starts with.
func DefaultSeed() []model.Student {
	out := make([]model.Student, 0, len(seedTags))
	for i, raw := range seedTags {
		out = append(out, model.Student{
			ID:      uuid.NewString(),
			Name:    raw.name,
			NIM:     fmt.Sprintf("4.32.23.%03d", i+1),
			Class:   seedClasses[i%len(seedClasses)],
			RFIDUID: raw.uid,
		})
	}
	return out
}
