// Package credentials resolves connection secrets for the I/O boundary
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = failure.New(failure.ErrCredential, "no credentials found")

// Provider returns the key value secrets registered for a tag and scope. A non-empty
// principal narrows the lookup to that principal's entries, which override shared ones.
type Provider interface {
	Get(ctx context.Context, tag, scope, principal string) (map[string]string, error)
}

// EnvProvider reads secrets from environment variables named TAG_SCOPE_KEY, or
// TAG_SCOPE_PRINCIPAL_KEY for a principal. Variables in dotenv files fill in anything the
// process environment does not set.
type EnvProvider struct {
	vars map[string]string
}

// NewEnvProvider loads the dotenv files, skipping any that do not exist
func NewEnvProvider(files ...string) (*EnvProvider, error) {
	vars := make(map[string]string)
	for _, f := range files {
		fileVars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("file", f).Msg("no dotenv file found, using environment variables")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %v, %w", f, err, failure.ErrCredential)
		}
		for k, v := range fileVars {
			if _, exists := vars[k]; !exists {
				vars[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return &EnvProvider{vars: vars}, nil
}

func (e *EnvProvider) Get(ctx context.Context, tag, scope, principal string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := envName(tag) + "_" + envName(scope) + "_"
	out := e.collect(prefix)
	if principal != "" {
		for k, v := range e.collect(prefix + envName(principal) + "_") {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tag %s scope %s, %w", tag, scope, ErrNotFound)
	}
	return out, nil
}

func (e *EnvProvider) collect(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range e.vars {
		if rest, found := strings.CutPrefix(k, prefix); found && rest != "" && !strings.Contains(rest, "_") {
			out[strings.ToLower(rest)] = v
		}
	}
	return out
}

// Lookup returns a single variable
func (e *EnvProvider) Lookup(name string) (string, bool) {
	v, exists := e.vars[name]
	return v, exists
}

func envName(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s))
}

// Static serves fixed credentials
type Static map[string]map[string]string

func (s Static) Get(ctx context.Context, tag, scope, _ string) (map[string]string, error) {
	creds, exists := s[tag+"/"+scope]
	if !exists {
		return nil, fmt.Errorf("tag %s scope %s, %w", tag, scope, ErrNotFound)
	}
	out := make(map[string]string, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out, nil
}
