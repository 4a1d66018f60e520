package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantExt string
		wantNil bool
		wantErr bool
	}{
		{name: "none", typ: "none", wantNil: true},
		{name: "empty", typ: "", wantNil: true},
		{name: "age", typ: "age", wantExt: ".age"},
		{name: "test", typ: "test", wantExt: ".test"},
		{name: "unknown", typ: "rot13", wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantExt, got.Extension())
		})
	}
}
