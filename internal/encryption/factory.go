package encryption

import (
	"fmt"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
)

// NewEncryptorFromConfig creates an encryptor based on the configuration type.
// Type "none" (or empty) disables encryption and returns nil, nil.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (KeyedEncryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
