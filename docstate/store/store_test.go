package store

import "testing"

func TestJSONEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"identical strings", "x", "x", true},
		{"int vs float", 3, 3.0, true},
		{"different numbers", 3, 4, false},
		{"nested maps by structure", map[string]any{"a": []any{1, 2}}, map[string]any{"a": []any{1.0, 2.0}}, true},
		{"map vs string", map[string]any{}, "x", false},
		{"nil vs nil", nil, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := jsonEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("jsonEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMetadataMatches(t *testing.T) {
	meta := map[string]any{"lang": "en", "rank": float64(2)}

	if !metadataMatches(meta, nil) {
		t.Error("empty filter must match everything")
	}
	if !metadataMatches(meta, map[string]any{"lang": "en", "rank": 2}) {
		t.Error("expected structural match over the JSON value space")
	}
	if metadataMatches(meta, map[string]any{"lang": "de"}) {
		t.Error("mismatched value must not match")
	}
	if metadataMatches(meta, map[string]any{"missing": "x"}) {
		t.Error("missing key must not match")
	}
	if metadataMatches(nil, map[string]any{"lang": "en"}) {
		t.Error("nil metadata must not match a non-empty filter")
	}
}

func TestMergeMetadata(t *testing.T) {
	base := map[string]any{"keep": "a", "swap": "old"}
	merged, err := mergeMetadata(base, map[string]any{"swap": "new", "add": 1})
	if err != nil {
		t.Fatalf("mergeMetadata failed: %v", err)
	}
	if merged["keep"] != "a" || merged["swap"] != "new" || merged["add"] != float64(1) {
		t.Errorf("merged = %v", merged)
	}
	if base["swap"] != "old" {
		t.Errorf("merge must not mutate the base map, got %v", base)
	}

	empty, err := mergeMetadata(nil, nil)
	if err != nil {
		t.Fatalf("mergeMetadata failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected fresh empty map, got %v", empty)
	}
}
