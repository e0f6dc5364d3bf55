package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

// azureAssignmentPager is satisfied by the SDK's runtime pager over the
// subscription-wide role assignment list.
type azureAssignmentPager interface {
	More() bool
	NextPage(ctx context.Context) (armauthorization.RoleAssignmentsClientListForSubscriptionResponse, error)
}

// azureAssignmentsAPI and azureDefinitionsAPI are the subsets of the ARM
// authorization clients this adapter uses. Narrowed to interfaces so tests
// can substitute fakes.
type azureAssignmentsAPI interface {
	NewListForSubscriptionPager(options *armauthorization.RoleAssignmentsClientListForSubscriptionOptions) azureAssignmentPager
}

type azureDefinitionsAPI interface {
	GetByID(ctx context.Context, roleID string, options *armauthorization.RoleDefinitionsClientGetByIDOptions) (armauthorization.RoleDefinitionsClientGetByIDResponse, error)
	CreateOrUpdate(ctx context.Context, scope string, roleDefinitionID string, roleDefinition armauthorization.RoleDefinition, options *armauthorization.RoleDefinitionsClientCreateOrUpdateOptions) (armauthorization.RoleDefinitionsClientCreateOrUpdateResponse, error)
}

// azureAssignmentsClient adapts the concrete client, whose pager method
// returns *runtime.Pager rather than the interface above.
type azureAssignmentsClient struct {
	c *armauthorization.RoleAssignmentsClient
}

func (a azureAssignmentsClient) NewListForSubscriptionPager(options *armauthorization.RoleAssignmentsClientListForSubscriptionOptions) azureAssignmentPager {
	return a.c.NewListForSubscriptionPager(options)
}

// azureProvider reads role assignments and role definitions for a single
// subscription. AccessKey carries the client id and SecretKey the client
// secret; tenant_id and subscription_id come from the credential extras.
type azureProvider struct {
	assignments  azureAssignmentsAPI
	definitions  azureDefinitionsAPI
	subscription string
	logger       *slog.Logger

	mu    sync.Mutex
	roles map[string][]string // principal id -> role definition ids
}

func newAzureProvider(logger *slog.Logger, creds Credentials) (Provider, error) {
	tenantID := extraString(creds.Extra, "tenant_id")
	subscriptionID := extraString(creds.Extra, "subscription_id")
	if tenantID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("azure credentials missing tenant_id or subscription_id")
	}

	cred, err := azidentity.NewClientSecretCredential(tenantID, creds.AccessKey, creds.SecretKey, nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	assignments, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure role assignments client: %w", err)
	}
	definitions, err := armauthorization.NewRoleDefinitionsClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure role definitions client: %w", err)
	}

	return &azureProvider{
		assignments:  azureAssignmentsClient{c: assignments},
		definitions:  definitions,
		subscription: subscriptionID,
		logger:       logger,
		roles:        make(map[string][]string),
	}, nil
}

// ListIdentities enumerates role assignments across the subscription and
// collapses them into one identity per principal. The role definition ids
// seen for each principal are remembered so ListPolicyDocuments does not
// have to re-walk the assignment list.
func (p *azureProvider) ListIdentities(ctx context.Context) ([]Identity, error) {
	roles := make(map[string][]string)

	pager := p.assignments.NewListForSubscriptionPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list role assignments: %s", shared.ErrRemoteUnavailable, err)
		}
		for _, ra := range page.Value {
			if ra.Properties == nil || ra.Properties.PrincipalID == nil || ra.Properties.RoleDefinitionID == nil {
				continue
			}
			pid := *ra.Properties.PrincipalID
			roles[pid] = append(roles[pid], *ra.Properties.RoleDefinitionID)
		}
	}

	p.mu.Lock()
	p.roles = roles
	p.mu.Unlock()

	identities := make([]Identity, 0, len(roles))
	for pid := range roles {
		short := pid
		if len(short) > 8 {
			short = short[:8]
		}
		identities = append(identities, Identity{
			ExternalID: pid,
			Name:       "Azure-Principal-" + short,
			Type:       EntityTypeUser,
		})
	}
	return identities, nil
}

// ListPolicyDocuments resolves each role definition assigned to the
// principal into a document listing its allowed and denied actions.
func (p *azureProvider) ListPolicyDocuments(ctx context.Context, id Identity) ([]PolicyDocument, error) {
	p.mu.Lock()
	roleIDs := p.roles[id.ExternalID]
	p.mu.Unlock()

	docs := make([]PolicyDocument, 0, len(roleIDs))
	seen := make(map[string]struct{}, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, ok := seen[roleID]; ok {
			continue
		}
		seen[roleID] = struct{}{}

		resp, err := p.definitions.GetByID(ctx, roleID, nil)
		if err != nil {
			return docs, fmt.Errorf("get role definition %s: %w", roleID, err)
		}
		props := resp.Properties
		if props == nil {
			continue
		}

		var actions, notActions []any
		for _, perm := range props.Permissions {
			for _, a := range perm.Actions {
				if a != nil {
					actions = append(actions, *a)
				}
			}
			for _, a := range perm.NotActions {
				if a != nil {
					notActions = append(notActions, *a)
				}
			}
		}

		name := roleID
		if props.RoleName != nil {
			name = *props.RoleName
		}
		doc := map[string]any{"actions": actions}
		if len(notActions) > 0 {
			doc["not_actions"] = notActions
		}
		docs = append(docs, PolicyDocument{
			Name:       name,
			ExternalID: roleID,
			Document:   doc,
		})
	}
	return docs, nil
}

// WritePolicy replaces the action set of an existing custom role
// definition. The current definition is fetched first so the role name,
// description and assignable scopes carry over unchanged.
func (p *azureProvider) WritePolicy(ctx context.Context, ref string, doc map[string]any) error {
	resp, err := p.definitions.GetByID(ctx, ref, nil)
	if err != nil {
		return fmt.Errorf("%w: get role definition: %s", shared.ErrRemoteWriteRejected, err)
	}
	def := resp.RoleDefinition
	if def.Properties == nil {
		return fmt.Errorf("%w: role definition %s has no properties", shared.ErrRemoteWriteRejected, ref)
	}

	actions := make([]*string, 0)
	if raw, ok := doc["actions"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				actions = append(actions, to.Ptr(s))
			}
		}
	}
	def.Properties.Permissions = []*armauthorization.Permission{{Actions: actions}}

	scope := "/subscriptions/" + p.subscription
	if _, err := p.definitions.CreateOrUpdate(ctx, scope, path.Base(ref), def, nil); err != nil {
		return fmt.Errorf("%w: update role definition: %s", shared.ErrRemoteWriteRejected, err)
	}
	return nil
}

// DeletePolicy is not offered for Azure: removing a built-in or shared
// role definition would strip it from every other assignment in the
// tenant, so the operation is reported as unsupported.
func (p *azureProvider) DeletePolicy(_ context.Context, ref string) error {
	return fmt.Errorf("%w: azure role definitions cannot be deleted here (%s)", shared.ErrUnsupported, ref)
}
