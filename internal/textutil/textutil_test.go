package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Symphony No. 5/Movement 1", "Symphony No. 5-Movement 1"},
		{`what? "quoted" <title>`, "what quoted title"},
		{"  Holst: First Suite  ", "Holst- First Suite"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Clarinet in Bb 1", "clarinet_in_bb_1"},
		{"Horn in F", "horn_in_f"},
		{"***", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := SanitizeToken(tc.in); got != tc.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTitleTokensFoldNumberingStyles(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Suite No. 2 in F", []string{"suite", "2", "in", "f"}},
		{"2nd Suite in F", []string{"2", "suite", "in", "f"}},
		{"Symphony II", []string{"symphony", "2"}},
		{"Ode to Joy, Op. 125", []string{"ode", "joy", "125"}},
		{"***", nil},
	}
	for _, tc := range cases {
		got := TitleTokens(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("TitleTokens(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("TitleTokens(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestTitleSimilarityIdenticalTitles(t *testing.T) {
	ix := NewTitleIndex()
	ix.Add("First Suite in E-flat for Military Band")
	ix.Add("Lincolnshire Posy")

	a := ix.Vector("First Suite in E-flat for Military Band")
	b := ix.Vector("first suite in e-flat for military band")
	if sim := TitleSimilarity(a, b); sim < 0.999 {
		t.Fatalf("expected near-identical similarity, got %f", sim)
	}
}

func TestTitleSimilarityUnrelatedTitles(t *testing.T) {
	ix := NewTitleIndex()
	a := ix.Vector("Lincolnshire Posy")
	b := ix.Vector("Festive Overture")
	if sim := TitleSimilarity(a, b); sim != 0 {
		t.Fatalf("expected zero similarity, got %f", sim)
	}
}

func TestTitleSimilarityNilVector(t *testing.T) {
	ix := NewTitleIndex()
	if v := ix.Vector("!!!"); v != nil {
		t.Fatalf("expected nil vector for empty tokens, got %v", v)
	}
	if sim := TitleSimilarity(nil, ix.Vector("anything here")); sim != 0 {
		t.Fatalf("expected 0 for nil vector, got %f", sim)
	}
}

func TestTitleIndexWeighsDistinctiveTokens(t *testing.T) {
	ix := NewTitleIndex()
	titles := []string{
		"Suite for Band No. 1",
		"Suite for Band No. 2",
		"Lincolnshire Posy",
	}
	for _, title := range titles {
		ix.Add(title)
	}

	// "suite" appears in two of three titles, so the distinct numbering
	// dominates the comparison between the two suites.
	near := TitleSimilarity(ix.Vector(titles[0]), ix.Vector(titles[1]))
	same := TitleSimilarity(ix.Vector(titles[0]), ix.Vector(titles[0]))
	if near >= same {
		t.Fatalf("different numbering should score below identical: %f >= %f", near, same)
	}
	if near >= 0.999 {
		t.Fatalf("suites 1 and 2 should be distinguishable, got %f", near)
	}
	if v := ix.Vector(titles[2]); v.TokenCount() != 2 {
		t.Fatalf("vector tokens = %d, want 2", v.TokenCount())
	}
}
