package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/quollsec/strongbox/internal/vault/domain"
)

// TransitConfig configures the Vault Transit KeyWrapClient.
type TransitConfig struct {
	Address string
	Token   string
	// KeyName is the transit key used for wrap/unwrap.
	KeyName string
	// Mount is the transit engine mount path (default "transit").
	Mount string
	// Timeout bounds every wrap/unwrap RPC (default 5s).
	Timeout time.Duration
}

// Transit implements KeyWrapClient against HashiCorp Vault's transit
// secrets engine. Transit ciphertexts carry their own key version in the
// "vault:vN:" prefix, which satisfies the versioning contract: rotated
// keys keep decrypting old blobs until their minimum decryption version is
// raised or the key is destroyed.
type Transit struct {
	client  *vaultapi.Client
	keyName string
	mount   string
	timeout time.Duration
}

func NewTransit(cfg TransitConfig) (*Transit, error) {
	apiCfg := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("kms: failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "transit"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Transit{
		client:  client,
		keyName: cfg.KeyName,
		mount:   mount,
		timeout: timeout,
	}, nil
}

func (t *Transit) Wrap(ctx context.Context, dek []byte) (domain.WrappedKey, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	secret, err := t.client.Logical().WriteWithContext(ctx,
		fmt.Sprintf("%s/encrypt/%s", t.mount, t.keyName),
		map[string]any{
			"plaintext": base64.StdEncoding.EncodeToString(dek),
		},
	)
	if err != nil {
		return domain.WrappedKey{}, fmt.Errorf("kms: transit encrypt: %w: %w", domain.ErrKeyWrapUnavailable, err)
	}

	ciphertext, _ := secret.Data["ciphertext"].(string)
	version, err := transitVersion(ciphertext)
	if err != nil {
		return domain.WrappedKey{}, err
	}

	return domain.WrappedKey{KeyVersion: version, Blob: []byte(ciphertext)}, nil
}

func (t *Transit) Unwrap(ctx context.Context, wk domain.WrappedKey) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	secret, err := t.client.Logical().WriteWithContext(ctx,
		fmt.Sprintf("%s/decrypt/%s", t.mount, t.keyName),
		map[string]any{
			"ciphertext": string(wk.Blob),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("kms: transit decrypt: %w: %w", domain.ErrKeyWrapUnavailable, err)
	}

	encoded, _ := secret.Data["plaintext"].(string)
	dek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, permanent(fmt.Errorf("kms: transit decrypt returned bad plaintext: %w", domain.ErrKeyWrapUnavailable))
	}
	return dek, nil
}

// transitVersion extracts "vN" from a "vault:vN:<data>" ciphertext.
func transitVersion(ciphertext string) (string, error) {
	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] != "vault" {
		return "", permanent(fmt.Errorf("kms: unexpected transit ciphertext format: %w", domain.ErrKeyWrapUnavailable))
	}
	return parts[1], nil
}
