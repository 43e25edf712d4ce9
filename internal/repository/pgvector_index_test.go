package repository

import (
	"strings"
	"testing"
)

func TestSearchSQLUsesDistanceOrdering(t *testing.T) {
	tests := []struct {
		name      string
		filtered  bool
		wantWhere bool
		wantLimit string
	}{
		{name: "all videos", filtered: false, wantWhere: false, wantLimit: "LIMIT $2"},
		{name: "one video", filtered: true, wantWhere: true, wantLimit: "LIMIT $3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := searchSQL("frames", tt.filtered)

			// Anything beyond the bare operator in ORDER BY forces a seq scan.
			if !strings.Contains(sql, "ORDER BY embedding <=> $1\n") {
				t.Errorf("ORDER BY is not the bare distance operator:\n%s", sql)
			}
			if strings.Contains(sql, " OR ") {
				t.Errorf("query carries an OR predicate:\n%s", sql)
			}
			if got := strings.Contains(sql, "WHERE video_id = $2"); got != tt.wantWhere {
				t.Errorf("video filter present = %v, want %v:\n%s", got, tt.wantWhere, sql)
			}
			if !strings.HasSuffix(sql, tt.wantLimit) {
				t.Errorf("query does not end with %q:\n%s", tt.wantLimit, sql)
			}
			if !strings.Contains(sql, "FROM frames") {
				t.Errorf("table missing:\n%s", sql)
			}
		})
	}
}
