package cloud

import (
	"context"
	"fmt"
	"log/slog"

	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v1"
	iam "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

// gcpAccountsAPI and gcpPolicyAPI are the slices of the Google API clients
// this adapter uses. The generated services expose call-builder chains
// rather than plain methods, so thin adapters below flatten them into
// per-operation calls that tests can fake.
type gcpAccountsAPI interface {
	ListServiceAccounts(ctx context.Context, project string, fn func(*iam.ListServiceAccountsResponse) error) error
}

type gcpPolicyAPI interface {
	GetIamPolicy(ctx context.Context, project string) (*cloudresourcemanager.Policy, error)
	SetIamPolicy(ctx context.Context, project string, req *cloudresourcemanager.SetIamPolicyRequest) (*cloudresourcemanager.Policy, error)
}

type gcpIAMClient struct {
	svc *iam.Service
}

func (c gcpIAMClient) ListServiceAccounts(ctx context.Context, project string, fn func(*iam.ListServiceAccountsResponse) error) error {
	return c.svc.Projects.ServiceAccounts.List("projects/"+project).Pages(ctx, fn)
}

type gcpCRMClient struct {
	svc *cloudresourcemanager.Service
}

func (c gcpCRMClient) GetIamPolicy(ctx context.Context, project string) (*cloudresourcemanager.Policy, error) {
	return c.svc.Projects.GetIamPolicy(project, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
}

func (c gcpCRMClient) SetIamPolicy(ctx context.Context, project string, req *cloudresourcemanager.SetIamPolicyRequest) (*cloudresourcemanager.Policy, error) {
	return c.svc.Projects.SetIamPolicy(project, req).Context(ctx).Do()
}

// gcpProvider enumerates service accounts in a project and reads their
// role bindings from the project IAM policy. Credentials carry the
// service account key as service_account_json and the target project as
// project_id in the extras.
type gcpProvider struct {
	accounts gcpAccountsAPI
	policies gcpPolicyAPI
	project  string
	logger   *slog.Logger
}

func newGCPProvider(ctx context.Context, logger *slog.Logger, creds Credentials) (Provider, error) {
	project := extraString(creds.Extra, "project_id")
	if project == "" {
		return nil, fmt.Errorf("gcp credentials missing project_id")
	}
	key, err := extraJSON(creds.Extra, "service_account_json")
	if err != nil {
		return nil, fmt.Errorf("gcp credentials: %w", err)
	}

	iamSvc, err := iam.NewService(ctx, option.WithCredentialsJSON(key))
	if err != nil {
		return nil, fmt.Errorf("gcp iam service: %w", err)
	}
	crmSvc, err := cloudresourcemanager.NewService(ctx, option.WithCredentialsJSON(key))
	if err != nil {
		return nil, fmt.Errorf("gcp resource manager service: %w", err)
	}

	return &gcpProvider{
		accounts: gcpIAMClient{svc: iamSvc},
		policies: gcpCRMClient{svc: crmSvc},
		project:  project,
		logger:   logger,
	}, nil
}

func (p *gcpProvider) ListIdentities(ctx context.Context) ([]Identity, error) {
	var identities []Identity

	err := p.accounts.ListServiceAccounts(ctx, p.project, func(resp *iam.ListServiceAccountsResponse) error {
		for _, sa := range resp.Accounts {
			id := Identity{
				ExternalID: sa.Email,
				Name:       sa.DisplayName,
				Type:       EntityTypeServiceAccount,
			}
			if id.Name == "" {
				id.Name = sa.Email
			}
			identities = append(identities, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list service accounts: %s", shared.ErrRemoteUnavailable, err)
	}
	return identities, nil
}

// ListPolicyDocuments returns one document per project role binding that
// names the service account as a member.
func (p *gcpProvider) ListPolicyDocuments(ctx context.Context, id Identity) ([]PolicyDocument, error) {
	policy, err := p.policies.GetIamPolicy(ctx, p.project)
	if err != nil {
		return nil, fmt.Errorf("get project iam policy: %w", err)
	}

	member := "serviceAccount:" + id.ExternalID
	var docs []PolicyDocument
	for _, b := range policy.Bindings {
		bound := false
		for _, m := range b.Members {
			if m == member {
				bound = true
				break
			}
		}
		if !bound {
			continue
		}
		members := make([]any, 0, len(b.Members))
		for _, m := range b.Members {
			members = append(members, m)
		}
		docs = append(docs, PolicyDocument{
			Name:       b.Role,
			ExternalID: b.Role,
			Document: map[string]any{
				"role":    b.Role,
				"members": members,
			},
		})
	}
	return docs, nil
}

// WritePolicy replaces the project's IAM bindings with the bindings
// carried in the document. The policy etag from the read is preserved so
// a concurrent update on the remote side rejects the write instead of
// being silently clobbered.
func (p *gcpProvider) WritePolicy(ctx context.Context, ref string, doc map[string]any) error {
	current, err := p.policies.GetIamPolicy(ctx, p.project)
	if err != nil {
		return fmt.Errorf("%w: get project iam policy: %s", shared.ErrRemoteWriteRejected, err)
	}

	raw, ok := doc["bindings"].([]any)
	if !ok {
		return fmt.Errorf("%w: document for %s has no bindings list", shared.ErrRemoteWriteRejected, ref)
	}
	bindings := make([]*cloudresourcemanager.Binding, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		b := &cloudresourcemanager.Binding{}
		if role, ok := m["role"].(string); ok {
			b.Role = role
		}
		if members, ok := m["members"].([]any); ok {
			for _, mem := range members {
				if s, ok := mem.(string); ok {
					b.Members = append(b.Members, s)
				}
			}
		}
		if b.Role != "" {
			bindings = append(bindings, b)
		}
	}

	req := &cloudresourcemanager.SetIamPolicyRequest{
		Policy: &cloudresourcemanager.Policy{
			Bindings: bindings,
			Etag:     current.Etag,
		},
	}
	if _, err := p.policies.SetIamPolicy(ctx, p.project, req); err != nil {
		return fmt.Errorf("%w: set project iam policy: %s", shared.ErrRemoteWriteRejected, err)
	}
	return nil
}

// DeletePolicy is not offered for GCP: a binding document mirrors a
// project-level grant shared with other members, not a standalone
// resource that can be removed.
func (p *gcpProvider) DeletePolicy(_ context.Context, ref string) error {
	return fmt.Errorf("%w: gcp role bindings cannot be deleted here (%s)", shared.ErrUnsupported, ref)
}
