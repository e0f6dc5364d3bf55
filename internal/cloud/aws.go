package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

// IAM is a global service but the SDK still requires a region to sign with.
const awsDefaultRegion = "us-east-1"

// awsIAMAPI is the subset of the IAM client this adapter uses. Narrowed to an
// interface so tests can substitute a fake.
type awsIAMAPI interface {
	ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	ListAttachedUserPolicies(ctx context.Context, params *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, params *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
	CreatePolicyVersion(ctx context.Context, params *iam.CreatePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error)
	ListPolicyVersions(ctx context.Context, params *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error)
	DeletePolicyVersion(ctx context.Context, params *iam.DeletePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error)
	ListEntitiesForPolicy(ctx context.Context, params *iam.ListEntitiesForPolicyInput, optFns ...func(*iam.Options)) (*iam.ListEntitiesForPolicyOutput, error)
	DetachUserPolicy(ctx context.Context, params *iam.DetachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DetachGroupPolicy(ctx context.Context, params *iam.DetachGroupPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachGroupPolicyOutput, error)
	DeletePolicy(ctx context.Context, params *iam.DeletePolicyInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyOutput, error)
}

type awsSTSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type awsProvider struct {
	logger *slog.Logger
	iam    awsIAMAPI
	sts    awsSTSAPI
}

func newAWSProvider(ctx context.Context, logger *slog.Logger, creds Credentials) (Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(awsDefaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", shared.ErrRemoteUnavailable, err)
	}
	return &awsProvider{
		logger: logger,
		iam:    iam.NewFromConfig(cfg),
		sts:    sts.NewFromConfig(cfg),
	}, nil
}

func (p *awsProvider) ListIdentities(ctx context.Context) ([]Identity, error) {
	// Surfaces bad credentials before paging through IAM.
	if _, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		return nil, fmt.Errorf("%w: caller identity: %v", shared.ErrRemoteUnavailable, err)
	}

	identities := make([]Identity, 0)

	var userMarker *string
	for {
		page, err := p.iam.ListUsers(ctx, &iam.ListUsersInput{Marker: userMarker})
		if err != nil {
			return identities, fmt.Errorf("%w: list users: %v", shared.ErrRemoteUnavailable, err)
		}
		for _, u := range page.Users {
			identities = append(identities, Identity{
				ExternalID: aws.ToString(u.Arn),
				Name:       aws.ToString(u.UserName),
				Type:       EntityTypeUser,
				CreatedAt:  u.CreateDate,
				LastUsed:   u.PasswordLastUsed,
			})
		}
		if !page.IsTruncated {
			break
		}
		userMarker = page.Marker
	}

	var roleMarker *string
	for {
		page, err := p.iam.ListRoles(ctx, &iam.ListRolesInput{Marker: roleMarker})
		if err != nil {
			return identities, fmt.Errorf("%w: list roles: %v", shared.ErrRemoteUnavailable, err)
		}
		for _, r := range page.Roles {
			identity := Identity{
				ExternalID: aws.ToString(r.Arn),
				Name:       aws.ToString(r.RoleName),
				Type:       EntityTypeRole,
				CreatedAt:  r.CreateDate,
			}
			if r.RoleLastUsed != nil {
				identity.LastUsed = r.RoleLastUsed.LastUsedDate
			}
			identities = append(identities, identity)
		}
		if !page.IsTruncated {
			break
		}
		roleMarker = page.Marker
	}

	return identities, nil
}

func (p *awsProvider) ListPolicyDocuments(ctx context.Context, identity Identity) ([]PolicyDocument, error) {
	attached, err := p.listAttached(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: list attached policies for %s: %v", shared.ErrRemoteUnavailable, identity.Name, err)
	}

	docs := make([]PolicyDocument, 0, len(attached))
	for _, ref := range attached {
		doc, err := p.fetchPolicyDocument(ctx, ref.arn)
		if err != nil {
			// One unreadable policy must not hide the identity's others.
			p.logger.Warn("skipping unreadable policy",
				slog.String("policy", ref.arn),
				slog.Any("error", err))
			continue
		}
		docs = append(docs, PolicyDocument{Name: ref.name, ExternalID: ref.arn, Document: doc})
	}
	return docs, nil
}

type awsPolicyRef struct {
	arn  string
	name string
}

func (p *awsProvider) listAttached(ctx context.Context, identity Identity) ([]awsPolicyRef, error) {
	refs := make([]awsPolicyRef, 0)
	switch identity.Type {
	case EntityTypeUser:
		var marker *string
		for {
			page, err := p.iam.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{
				UserName: aws.String(identity.Name),
				Marker:   marker,
			})
			if err != nil {
				return nil, err
			}
			for _, ap := range page.AttachedPolicies {
				refs = append(refs, awsPolicyRef{arn: aws.ToString(ap.PolicyArn), name: aws.ToString(ap.PolicyName)})
			}
			if !page.IsTruncated {
				return refs, nil
			}
			marker = page.Marker
		}
	case EntityTypeRole:
		var marker *string
		for {
			page, err := p.iam.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
				RoleName: aws.String(identity.Name),
				Marker:   marker,
			})
			if err != nil {
				return nil, err
			}
			for _, ap := range page.AttachedPolicies {
				refs = append(refs, awsPolicyRef{arn: aws.ToString(ap.PolicyArn), name: aws.ToString(ap.PolicyName)})
			}
			if !page.IsTruncated {
				return refs, nil
			}
			marker = page.Marker
		}
	default:
		return nil, nil
	}
}

func (p *awsProvider) fetchPolicyDocument(ctx context.Context, policyARN string) (map[string]any, error) {
	policy, err := p.iam.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(policyARN)})
	if err != nil {
		return nil, err
	}
	if policy.Policy == nil || policy.Policy.DefaultVersionId == nil {
		return nil, fmt.Errorf("policy %s has no default version", policyARN)
	}
	version, err := p.iam.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(policyARN),
		VersionId: policy.Policy.DefaultVersionId,
	})
	if err != nil {
		return nil, err
	}
	if version.PolicyVersion == nil || version.PolicyVersion.Document == nil {
		return nil, fmt.Errorf("policy %s version %s has no document", policyARN, aws.ToString(policy.Policy.DefaultVersionId))
	}
	return decodeAWSPolicyDocument(aws.ToString(version.PolicyVersion.Document))
}

// decodeAWSPolicyDocument handles both URL-encoded and plain JSON documents;
// the IAM API returns version documents URL-encoded.
func decodeAWSPolicyDocument(raw string) (map[string]any, error) {
	if !strings.HasPrefix(raw, "{") {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// WritePolicy creates a new policy version and promotes it to default. AWS
// never mutates an existing version in place; when the five-version limit is
// reached the oldest non-default version is pruned first.
func (p *awsProvider) WritePolicy(ctx context.Context, ref string, doc map[string]any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", shared.ErrRemoteWriteRejected, err)
	}

	if err := p.pruneOldestVersion(ctx, ref); err != nil {
		return err
	}

	_, err = p.iam.CreatePolicyVersion(ctx, &iam.CreatePolicyVersionInput{
		PolicyArn:      aws.String(ref),
		PolicyDocument: aws.String(string(payload)),
		SetAsDefault:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: create policy version: %v", shared.ErrRemoteWriteRejected, err)
	}
	return nil
}

const awsPolicyVersionLimit = 5

func (p *awsProvider) pruneOldestVersion(ctx context.Context, policyARN string) error {
	out, err := p.iam.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: aws.String(policyARN)})
	if err != nil {
		return fmt.Errorf("%w: list policy versions: %v", shared.ErrRemoteWriteRejected, err)
	}
	if len(out.Versions) < awsPolicyVersionLimit {
		return nil
	}
	var oldest *string
	var oldestAt time.Time
	for _, v := range out.Versions {
		if v.IsDefaultVersion {
			continue
		}
		at := aws.ToTime(v.CreateDate)
		if oldest == nil || at.Before(oldestAt) {
			oldest = v.VersionId
			oldestAt = at
		}
	}
	if oldest == nil {
		return nil
	}
	if _, err := p.iam.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
		PolicyArn: aws.String(policyARN),
		VersionId: oldest,
	}); err != nil {
		return fmt.Errorf("%w: delete policy version: %v", shared.ErrRemoteWriteRejected, err)
	}
	return nil
}

// DeletePolicy detaches the policy from every principal it is attached to,
// removes non-default versions, then deletes the policy. Attachments are
// resolved from the policy ARN itself so a renamed local entity cannot point
// the detach at the wrong principal.
func (p *awsProvider) DeletePolicy(ctx context.Context, ref string) error {
	if err := p.detachAll(ctx, ref); err != nil {
		return err
	}

	versions, err := p.iam.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: aws.String(ref)})
	if err != nil {
		return fmt.Errorf("%w: list policy versions: %v", shared.ErrRemoteWriteRejected, err)
	}
	for _, v := range versions.Versions {
		if v.IsDefaultVersion {
			continue
		}
		if _, err := p.iam.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
			PolicyArn: aws.String(ref),
			VersionId: v.VersionId,
		}); err != nil && !isAWSNoSuchEntity(err) {
			return fmt.Errorf("%w: delete policy version: %v", shared.ErrRemoteWriteRejected, err)
		}
	}

	if _, err := p.iam.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: aws.String(ref)}); err != nil {
		return fmt.Errorf("%w: delete policy: %v", shared.ErrRemoteWriteRejected, err)
	}
	return nil
}

func (p *awsProvider) detachAll(ctx context.Context, policyARN string) error {
	var marker *string
	for {
		page, err := p.iam.ListEntitiesForPolicy(ctx, &iam.ListEntitiesForPolicyInput{
			PolicyArn: aws.String(policyARN),
			Marker:    marker,
		})
		if err != nil {
			return fmt.Errorf("%w: list policy attachments: %v", shared.ErrRemoteWriteRejected, err)
		}
		for _, u := range page.PolicyUsers {
			if _, err := p.iam.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
				UserName:  u.UserName,
				PolicyArn: aws.String(policyARN),
			}); err != nil && !isAWSNoSuchEntity(err) {
				return fmt.Errorf("%w: detach user policy: %v", shared.ErrRemoteWriteRejected, err)
			}
		}
		for _, r := range page.PolicyRoles {
			if _, err := p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  r.RoleName,
				PolicyArn: aws.String(policyARN),
			}); err != nil && !isAWSNoSuchEntity(err) {
				return fmt.Errorf("%w: detach role policy: %v", shared.ErrRemoteWriteRejected, err)
			}
		}
		for _, g := range page.PolicyGroups {
			if _, err := p.iam.DetachGroupPolicy(ctx, &iam.DetachGroupPolicyInput{
				GroupName: g.GroupName,
				PolicyArn: aws.String(policyARN),
			}); err != nil && !isAWSNoSuchEntity(err) {
				return fmt.Errorf("%w: detach group policy: %v", shared.ErrRemoteWriteRejected, err)
			}
		}
		if !page.IsTruncated {
			return nil
		}
		marker = page.Marker
	}
}

// isAWSNoSuchEntity reports whether the error is the IAM NoSuchEntity code;
// a detach racing a concurrent delete is not a failure.
func isAWSNoSuchEntity(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchEntity"
	}
	return false
}
