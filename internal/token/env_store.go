package token

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	apperrors "blingsync/internal/errors"
)

const (
	envAccessToken  = "BLING_ACCESS_TOKEN"
	envRefreshToken = "BLING_REFRESH_TOKEN"
	envObtainedAt   = "BLING_TOKEN_OBTAINED_AT"
	envExpiresAt    = "BLING_TOKEN_EXPIRES_AT"
)

// EnvFileStore keeps the pair in a dotenv file, preserving every other key.
type EnvFileStore struct {
	mu   sync.Mutex
	path string
}

func NewEnvFileStore(path string) *EnvFileStore {
	return &EnvFileStore{path: path}
}

func (s *EnvFileStore) Get(ctx context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := godotenv.Read(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Pair{}, apperrors.Newf(apperrors.ErrNotFound, "env file %s does not exist", s.path)
		}
		return Pair{}, apperrors.Wrap(apperrors.ErrStorage, "read env file", err)
	}

	p := Pair{
		AccessToken:  env[envAccessToken],
		RefreshToken: env[envRefreshToken],
		ObtainedAt:   parseTime(env[envObtainedAt]),
		ExpiresAt:    parseTime(env[envExpiresAt]),
	}
	if p.RefreshToken == "" {
		return Pair{}, apperrors.Newf(apperrors.ErrNotFound, "%s not set in %s", envRefreshToken, s.path)
	}
	return p, nil
}

// Put rewrites the file through a temp file and rename, so a crash leaves
// either the old pair or the new one on disk.
func (s *EnvFileStore) Put(ctx context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := godotenv.Read(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.ErrStorage, "read env file", err)
		}
		env = map[string]string{}
	}

	env[envAccessToken] = p.AccessToken
	env[envRefreshToken] = p.RefreshToken
	env[envObtainedAt] = formatTime(p.ObtainedAt)
	env[envExpiresAt] = formatTime(p.ExpiresAt)

	content, err := godotenv.Marshal(env)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "encode env file", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".env-*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "create temp env file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.ErrStorage, "write temp env file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.ErrStorage, "sync temp env file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "close temp env file", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "chmod temp env file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "replace env file", err)
	}
	return nil
}
