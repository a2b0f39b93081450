package logger

import "testing"

func TestClassifySQL(t *testing.T) {
	cases := []struct {
		sql       string
		wantOp    string
		wantTable string
	}{
		{`SELECT * FROM "dose_events" WHERE owner_id = $1`, "SELECT", "dose_events"},
		{"  insert into dose_events (id) values (1)", "INSERT", "dose_events"},
		{`UPDATE "medications" SET deleted_at = now()`, "UPDATE", "medications"},
		{"DELETE FROM day_statuses WHERE date IN (?)", "DELETE", "day_statuses"},
		{"VACUUM", "UNKNOWN", ""},
		{"", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := classifySQL(tc.sql)
		if op != tc.wantOp || table != tc.wantTable {
			t.Fatalf("classifySQL(%q) = (%q, %q), want (%q, %q)", tc.sql, op, table, tc.wantOp, tc.wantTable)
		}
	}
}
