package sqlkind

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Kind
	}{
		{"plain select", "SELECT id, name FROM users WHERE id = $1", Query},
		{"select for update", "SELECT id FROM users WHERE id = $1 FOR UPDATE", NonQuery},
		{"insert", "INSERT INTO users (name) VALUES ($1)", NonQuery},
		{"update", "UPDATE users SET name = $1 WHERE id = $2", NonQuery},
		{"delete", "DELETE FROM users WHERE id = $1", NonQuery},
		{"ddl", "CREATE TABLE t (id int)", NonQuery},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.text)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tc.text, err)
			}
			if got != tc.want {
				t.Fatalf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassify_UnparseableDegradesToNonQuery(t *testing.T) {
	got, err := Classify("SELECT this is not (( valid sql")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if got != NonQuery {
		t.Fatalf("Classify(garbage) = %v, want NonQuery", got)
	}
}
