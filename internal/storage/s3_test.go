package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name       string
		location   string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"simple", "s3://data/chunks.csv", "data", "chunks.csv", false},
		{"nested key", "s3://data/processed/chunked/chunked_narratives.csv", "data", "processed/chunked/chunked_narratives.csv", false},
		{"local path", "data/chunks.csv", "", "", true},
		{"missing key", "s3://data", "", "", true},
		{"empty key", "s3://data/", "", "", true},
		{"empty bucket", "s3:///chunks.csv", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.location)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestParseURI_LocalPathIsNotS3(t *testing.T) {
	_, _, err := ParseURI("/tmp/chunks.csv")
	assert.ErrorIs(t, err, ErrNotS3URI)
	assert.False(t, IsURI("/tmp/chunks.csv"))
	assert.True(t, IsURI("s3://b/k"))
}
