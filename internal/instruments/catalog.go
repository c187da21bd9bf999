package instruments

import "partbank/internal/store"

// DefaultCatalog returns the canonical concert band instrument list seeded at
// daemon startup. Seeding is idempotent; existing names are left untouched.
func DefaultCatalog() []store.Instrument {
	names := []struct {
		name   string
		family string
	}{
		{"Piccolo", "woodwind"},
		{"Flute", "woodwind"},
		{"Oboe", "woodwind"},
		{"Bassoon", "woodwind"},
		{"Clarinet", "woodwind"},
		{"Bass Clarinet", "woodwind"},
		{"Soprano Saxophone", "woodwind"},
		{"Alto Saxophone", "woodwind"},
		{"Tenor Saxophone", "woodwind"},
		{"Baritone Saxophone", "woodwind"},
		{"Trumpet", "brass"},
		{"Horn", "brass"},
		{"Trombone", "brass"},
		{"Bass Trombone", "brass"},
		{"Euphonium", "brass"},
		{"Tuba", "brass"},
		{"Violin", "string"},
		{"Viola", "string"},
		{"Cello", "string"},
		{"Double Bass", "string"},
		{"Timpani", "percussion"},
		{"Percussion", "percussion"},
		{"Mallet Percussion", "percussion"},
		{"Drum Set", "percussion"},
		{"Piano", "keyboard"},
		{"Guitar", "string"},
		{"Bass Guitar", "string"},
		{"Harp", "string"},
		{"Voice", "vocal"},
	}

	catalog := make([]store.Instrument, 0, len(names))
	for i, entry := range names {
		catalog = append(catalog, store.Instrument{
			Name:      entry.name,
			Family:    entry.family,
			SortOrder: (i + 1) * 10,
		})
	}
	return catalog
}
