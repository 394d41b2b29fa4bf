package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

var (
	ErrIncompleteCredentials = errors.New("credentials incomplete, need host, port, user and password")
	ErrDecryptCredential     = errors.New("credential value cannot be decrypted")
)

// CredentialFile reads connection params from a JSON object whose values are
// Fernet tokens. With no key file configured the values are read as plain text.
type CredentialFile struct {
	path    string
	keyPath string
	logger  *slog.Logger
}

func NewCredentialFile(path, keyPath string, logger *slog.Logger) *CredentialFile {
	return &CredentialFile{path: path, keyPath: keyPath, logger: logger.With("component", "credentials")}
}

func (f *CredentialFile) Get(ctx context.Context) (domain.ConnectionParams, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return domain.ConnectionParams{}, fmt.Errorf("read credentials: %w", err)
	}

	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.ConnectionParams{}, fmt.Errorf("decode credentials: %w", err)
	}

	var keys []*fernet.Key
	if f.keyPath != "" {
		key, err := ReadKey(f.keyPath)
		if err != nil {
			return domain.ConnectionParams{}, err
		}
		keys = []*fernet.Key{key}
	} else {
		f.logger.WarnContext(ctx, "no secret key configured, reading credentials as plain text", "path", f.path)
	}

	values := make(map[string]string, len(raw))
	for name, v := range raw {
		if v == nil || *v == "" {
			continue
		}
		plain := *v
		if keys != nil {
			msg := fernet.VerifyAndDecrypt([]byte(plain), 0, keys)
			if msg == nil {
				return domain.ConnectionParams{}, fmt.Errorf("%w: %q", ErrDecryptCredential, name)
			}
			plain = string(msg)
		}
		values[strings.ToLower(name)] = plain
	}

	params := domain.ConnectionParams{
		Host:     values["host"],
		Port:     values["port"],
		User:     values["user"],
		Password: values["password"],
		Database: values["database"],
	}
	if !params.Complete() {
		return domain.ConnectionParams{}, ErrIncompleteCredentials
	}

	f.logger.InfoContext(ctx, "credentials loaded", "host", params.Host, "encrypted", keys != nil)
	return params, nil
}

// ReadKey reads a base64 Fernet key from path.
func ReadKey(path string) (*fernet.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret key: %w", err)
	}
	key, err := fernet.DecodeKey(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return key, nil
}

// GenerateKey creates a new key and writes it to path with owner-only
// permissions. An existing file is never overwritten.
func GenerateKey(path string) (*fernet.Key, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := fh.WriteString(key.Encode() + "\n"); err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	return &key, nil
}

// Seal encrypts every non-empty value of plain with key.
func Seal(plain map[string]string, key *fernet.Key) (map[string]string, error) {
	out := make(map[string]string, len(plain))
	for name, v := range plain {
		if v == "" {
			out[name] = ""
			continue
		}
		tok, err := fernet.EncryptAndSign([]byte(v), key)
		if err != nil {
			return nil, fmt.Errorf("encrypt %q: %w", name, err)
		}
		out[name] = string(tok)
	}
	return out, nil
}
