// Package cloud wraps the remote cloud provider APIs behind a single
// capability interface. One implementation exists per platform, selected by
// the account's platform tag and built from that account's opaque
// credentials.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

// Platform tags recognised by the adapter registry.
const (
	PlatformAWS   = "aws"
	PlatformAzure = "azure"
	PlatformGCP   = "gcp"
)

// Entity type tags reported by ListIdentities.
const (
	EntityTypeUser           = "user"
	EntityTypeRole           = "role"
	EntityTypeGroup          = "group"
	EntityTypeServiceAccount = "service_account"
)

// Credentials carries one account's opaque platform secrets. The adapter is
// the only consumer; nothing else interprets these fields.
type Credentials struct {
	Platform  string
	AccessKey string         // AWS access key id; Azure client id
	SecretKey string         // AWS secret access key; Azure client secret
	Extra     map[string]any // azure: tenant_id, subscription_id; gcp: service_account_json, project_id
}

// Identity is one remote identity (user, role, group or service account).
type Identity struct {
	ExternalID string
	Name       string
	Type       string
	CreatedAt  *time.Time
	LastUsed   *time.Time
}

// PolicyDocument is one permission document attached to an identity, in the
// platform-native wire shape.
type PolicyDocument struct {
	Name       string
	ExternalID string
	Document   map[string]any
}

// Provider is the per-platform capability interface.
//
// ListIdentities returns partial results alongside the error when
// enumeration fails mid-stream; callers keep what was yielded. Per-identity
// failures inside ListPolicyDocuments surface as an error for that identity
// only and must not abort the caller's pass.
type Provider interface {
	ListIdentities(ctx context.Context) ([]Identity, error)
	ListPolicyDocuments(ctx context.Context, identity Identity) ([]PolicyDocument, error)
	WritePolicy(ctx context.Context, ref string, doc map[string]any) error
	DeletePolicy(ctx context.Context, ref string) error
}

// Factory builds a Provider for one account's credentials. Injected so the
// syncer and mutation pipeline can run against fakes in tests.
type Factory func(ctx context.Context, logger *slog.Logger, creds Credentials) (Provider, error)

// New dispatches on the platform tag and returns the matching Provider.
func New(ctx context.Context, logger *slog.Logger, creds Credentials) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch creds.Platform {
	case PlatformAWS:
		return newAWSProvider(ctx, logger, creds)
	case PlatformAzure:
		return newAzureProvider(logger, creds)
	case PlatformGCP:
		return newGCPProvider(ctx, logger, creds)
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", shared.ErrUnsupported, creds.Platform)
	}
}

func extraString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	s, _ := extra[key].(string)
	return s
}

// extraJSON returns the raw bytes of an extra field that may be stored either
// as an embedded object or as a pre-serialized string.
func extraJSON(extra map[string]any, key string) ([]byte, error) {
	if extra == nil {
		return nil, fmt.Errorf("missing credential field %q", key)
	}
	switch v := extra[key].(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("missing credential field %q", key)
		}
		return []byte(v), nil
	case map[string]any:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("missing credential field %q", key)
	}
}
