package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsDiffer(t *testing.T) {
	tests := []struct {
		name   string
		client string
		server string
		fields []string
		want   bool
	}{
		{
			name:   "identical payloads",
			client: `{"dosage":"5mg","notes":"am"}`,
			server: `{"dosage":"5mg","notes":"am"}`,
			fields: []string{"dosage", "notes"},
			want:   false,
		},
		{
			name:   "tracked field differs",
			client: `{"dosage":"10mg"}`,
			server: `{"dosage":"5mg"}`,
			fields: []string{"dosage"},
			want:   true,
		},
		{
			name:   "only untracked field differs",
			client: `{"dosage":"5mg","updated_by":"nurse-a"}`,
			server: `{"dosage":"5mg","updated_by":"nurse-b"}`,
			fields: []string{"dosage"},
			want:   false,
		},
		{
			name:   "client omits tracked field",
			client: `{"notes":"pm"}`,
			server: `{"dosage":"5mg","notes":"pm"}`,
			fields: []string{"dosage", "notes"},
			want:   false,
		},
		{
			name:   "field present only on client",
			client: `{"dosage":"5mg","notes":"pm"}`,
			server: `{"dosage":"5mg"}`,
			fields: []string{"dosage", "notes"},
			want:   true,
		},
		{
			name:   "empty field list compares whole payload",
			client: `{"a":1,"b":2}`,
			server: `{"b":2,"a":1}`,
			fields: nil,
			want:   false,
		},
		{
			name:   "empty field list catches any change",
			client: `{"a":1,"b":2}`,
			server: `{"a":1,"b":3}`,
			fields: nil,
			want:   true,
		},
		{
			name:   "nested values compared deeply",
			client: `{"schedule":{"times":["08:00","20:00"]}}`,
			server: `{"schedule":{"times":["08:00"]}}`,
			fields: []string{"schedule"},
			want:   true,
		},
		{
			name:   "unparseable client falls back to bytes",
			client: `not-json`,
			server: `not-json`,
			fields: []string{"dosage"},
			want:   false,
		},
		{
			name:   "unparseable and unequal",
			client: `not-json`,
			server: `{"dosage":"5mg"}`,
			fields: []string{"dosage"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FieldsDiffer([]byte(tt.client), []byte(tt.server), tt.fields)
			assert.Equal(t, tt.want, got)
		})
	}
}
