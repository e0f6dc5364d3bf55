package cloud

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-iam/sentinel/internal/shared"
)

type fakeSTS struct {
	err error
}

func (f *fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012")}, nil
}

// fakeIAM satisfies awsIAMAPI with canned pages and records the calls it
// receives so tests can assert on ordering.
type fakeIAM struct {
	userPages []*iam.ListUsersOutput
	rolePages []*iam.ListRolesOutput

	attachedUser map[string][]iamtypes.AttachedPolicy
	policies     map[string]*iamtypes.Policy
	versions     map[string]map[string]string // arn -> version id -> document
	versionList  map[string][]iamtypes.PolicyVersion
	entities     *iam.ListEntitiesForPolicyOutput

	createVersionErr error
	calls            []string
}

func (f *fakeIAM) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeIAM) ListUsers(_ context.Context, in *iam.ListUsersInput, _ ...func(*iam.Options)) (*iam.ListUsersOutput, error) {
	f.record("ListUsers")
	idx := 0
	if in.Marker != nil {
		idx = 1
	}
	if idx >= len(f.userPages) {
		return &iam.ListUsersOutput{}, nil
	}
	return f.userPages[idx], nil
}

func (f *fakeIAM) ListRoles(_ context.Context, in *iam.ListRolesInput, _ ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	f.record("ListRoles")
	idx := 0
	if in.Marker != nil {
		idx = 1
	}
	if idx >= len(f.rolePages) {
		return &iam.ListRolesOutput{}, nil
	}
	return f.rolePages[idx], nil
}

func (f *fakeIAM) ListAttachedUserPolicies(_ context.Context, in *iam.ListAttachedUserPoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	f.record("ListAttachedUserPolicies")
	return &iam.ListAttachedUserPoliciesOutput{AttachedPolicies: f.attachedUser[aws.ToString(in.UserName)]}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(_ context.Context, _ *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	f.record("ListAttachedRolePolicies")
	return &iam.ListAttachedRolePoliciesOutput{}, nil
}

func (f *fakeIAM) GetPolicy(_ context.Context, in *iam.GetPolicyInput, _ ...func(*iam.Options)) (*iam.GetPolicyOutput, error) {
	f.record("GetPolicy")
	p, ok := f.policies[aws.ToString(in.PolicyArn)]
	if !ok {
		return nil, errors.New("no such policy")
	}
	return &iam.GetPolicyOutput{Policy: p}, nil
}

func (f *fakeIAM) GetPolicyVersion(_ context.Context, in *iam.GetPolicyVersionInput, _ ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	f.record("GetPolicyVersion")
	doc, ok := f.versions[aws.ToString(in.PolicyArn)][aws.ToString(in.VersionId)]
	if !ok {
		return nil, errors.New("no such version")
	}
	if doc == "" {
		return &iam.GetPolicyVersionOutput{PolicyVersion: &iamtypes.PolicyVersion{}}, nil
	}
	return &iam.GetPolicyVersionOutput{
		PolicyVersion: &iamtypes.PolicyVersion{Document: aws.String(doc)},
	}, nil
}

func (f *fakeIAM) CreatePolicyVersion(_ context.Context, _ *iam.CreatePolicyVersionInput, _ ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error) {
	f.record("CreatePolicyVersion")
	if f.createVersionErr != nil {
		return nil, f.createVersionErr
	}
	return &iam.CreatePolicyVersionOutput{}, nil
}

func (f *fakeIAM) ListPolicyVersions(_ context.Context, in *iam.ListPolicyVersionsInput, _ ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error) {
	f.record("ListPolicyVersions")
	return &iam.ListPolicyVersionsOutput{Versions: f.versionList[aws.ToString(in.PolicyArn)]}, nil
}

func (f *fakeIAM) DeletePolicyVersion(_ context.Context, in *iam.DeletePolicyVersionInput, _ ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error) {
	f.record("DeletePolicyVersion:" + aws.ToString(in.VersionId))
	return &iam.DeletePolicyVersionOutput{}, nil
}

func (f *fakeIAM) ListEntitiesForPolicy(_ context.Context, _ *iam.ListEntitiesForPolicyInput, _ ...func(*iam.Options)) (*iam.ListEntitiesForPolicyOutput, error) {
	f.record("ListEntitiesForPolicy")
	if f.entities == nil {
		return &iam.ListEntitiesForPolicyOutput{}, nil
	}
	return f.entities, nil
}

func (f *fakeIAM) DetachUserPolicy(_ context.Context, in *iam.DetachUserPolicyInput, _ ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error) {
	f.record("DetachUserPolicy:" + aws.ToString(in.UserName))
	return &iam.DetachUserPolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.record("DetachRolePolicy:" + aws.ToString(in.RoleName))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachGroupPolicy(_ context.Context, in *iam.DetachGroupPolicyInput, _ ...func(*iam.Options)) (*iam.DetachGroupPolicyOutput, error) {
	f.record("DetachGroupPolicy:" + aws.ToString(in.GroupName))
	return &iam.DetachGroupPolicyOutput{}, nil
}

func (f *fakeIAM) DeletePolicy(_ context.Context, _ *iam.DeletePolicyInput, _ ...func(*iam.Options)) (*iam.DeletePolicyOutput, error) {
	f.record("DeletePolicy")
	return &iam.DeletePolicyOutput{}, nil
}

func newTestAWSProvider(fake *fakeIAM, stsErr error) *awsProvider {
	return &awsProvider{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		iam:    fake,
		sts:    &fakeSTS{err: stsErr},
	}
}

func TestAWSListIdentitiesMapsUsersAndRoles(t *testing.T) {
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeIAM{
		userPages: []*iam.ListUsersOutput{
			{
				Users: []iamtypes.User{{
					Arn:        aws.String("arn:aws:iam::123456789012:user/alice"),
					UserName:   aws.String("alice"),
					CreateDate: &created,
				}},
				IsTruncated: true,
				Marker:      aws.String("page2"),
			},
			{
				Users: []iamtypes.User{{
					Arn:      aws.String("arn:aws:iam::123456789012:user/bob"),
					UserName: aws.String("bob"),
				}},
			},
		},
		rolePages: []*iam.ListRolesOutput{
			{
				Roles: []iamtypes.Role{{
					Arn:      aws.String("arn:aws:iam::123456789012:role/deployer"),
					RoleName: aws.String("deployer"),
				}},
			},
		},
	}

	got, err := newTestAWSProvider(fake, nil).ListIdentities(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "alice", got[0].Name)
	assert.Equal(t, EntityTypeUser, got[0].Type)
	require.NotNil(t, got[0].CreatedAt)
	assert.Equal(t, created, *got[0].CreatedAt)

	assert.Equal(t, "bob", got[1].Name)
	assert.Equal(t, "deployer", got[2].Name)
	assert.Equal(t, EntityTypeRole, got[2].Type)
}

func TestAWSListIdentitiesBadCredentials(t *testing.T) {
	p := newTestAWSProvider(&fakeIAM{}, errors.New("InvalidClientTokenId"))

	_, err := p.ListIdentities(context.Background())
	require.ErrorIs(t, err, shared.ErrRemoteUnavailable)
}

func TestAWSListPolicyDocumentsSkipsUnreadable(t *testing.T) {
	const (
		goodARN = "arn:aws:iam::123456789012:policy/good"
		badARN  = "arn:aws:iam::123456789012:policy/bad"
	)
	encoded := url.QueryEscape(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"*"}]}`)
	fake := &fakeIAM{
		attachedUser: map[string][]iamtypes.AttachedPolicy{
			"alice": {
				{PolicyArn: aws.String(goodARN), PolicyName: aws.String("good")},
				{PolicyArn: aws.String(badARN), PolicyName: aws.String("bad")},
			},
		},
		policies: map[string]*iamtypes.Policy{
			goodARN: {DefaultVersionId: aws.String("v2")},
		},
		versions: map[string]map[string]string{
			goodARN: {"v2": encoded},
		},
	}

	docs, err := newTestAWSProvider(fake, nil).ListPolicyDocuments(context.Background(), Identity{
		Name: "alice",
		Type: EntityTypeUser,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].Name)
	assert.Equal(t, goodARN, docs[0].ExternalID)
	assert.Equal(t, "2012-10-17", docs[0].Document["Version"])
}

func TestAWSListPolicyDocumentsSkipsDegenerateResponses(t *testing.T) {
	const (
		noDefaultARN = "arn:aws:iam::123456789012:policy/no-default"
		noDocARN     = "arn:aws:iam::123456789012:policy/no-doc"
	)
	fake := &fakeIAM{
		attachedUser: map[string][]iamtypes.AttachedPolicy{
			"alice": {
				{PolicyArn: aws.String(noDefaultARN), PolicyName: aws.String("no-default")},
				{PolicyArn: aws.String(noDocARN), PolicyName: aws.String("no-doc")},
			},
		},
		policies: map[string]*iamtypes.Policy{
			noDefaultARN: {},
			noDocARN:     {DefaultVersionId: aws.String("v1")},
		},
		versions: map[string]map[string]string{
			noDocARN: {"v1": ""},
		},
	}

	docs, err := newTestAWSProvider(fake, nil).ListPolicyDocuments(context.Background(), Identity{
		Name: "alice",
		Type: EntityTypeUser,
	})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAWSWritePolicyPrunesOldestVersion(t *testing.T) {
	const arn = "arn:aws:iam::123456789012:policy/app"
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeIAM{
		versionList: map[string][]iamtypes.PolicyVersion{
			arn: {
				{VersionId: aws.String("v5"), IsDefaultVersion: true, CreateDate: aws.Time(base.AddDate(0, 4, 0))},
				{VersionId: aws.String("v4"), CreateDate: aws.Time(base.AddDate(0, 3, 0))},
				{VersionId: aws.String("v3"), CreateDate: aws.Time(base.AddDate(0, 2, 0))},
				{VersionId: aws.String("v2"), CreateDate: aws.Time(base.AddDate(0, 1, 0))},
				{VersionId: aws.String("v1"), CreateDate: aws.Time(base)},
			},
		},
	}

	err := newTestAWSProvider(fake, nil).WritePolicy(context.Background(), arn, map[string]any{
		"Version":   "2012-10-17",
		"Statement": []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ListPolicyVersions", "DeletePolicyVersion:v1", "CreatePolicyVersion"}, fake.calls)
}

func TestAWSWritePolicyRejected(t *testing.T) {
	fake := &fakeIAM{createVersionErr: errors.New("MalformedPolicyDocument")}

	err := newTestAWSProvider(fake, nil).WritePolicy(context.Background(), "arn:aws:iam::123456789012:policy/app", map[string]any{})
	require.ErrorIs(t, err, shared.ErrRemoteWriteRejected)
}

func TestAWSDeletePolicyDetachesFirst(t *testing.T) {
	const arn = "arn:aws:iam::123456789012:policy/app"
	fake := &fakeIAM{
		entities: &iam.ListEntitiesForPolicyOutput{
			PolicyUsers:  []iamtypes.PolicyUser{{UserName: aws.String("alice")}},
			PolicyRoles:  []iamtypes.PolicyRole{{RoleName: aws.String("deployer")}},
			PolicyGroups: []iamtypes.PolicyGroup{{GroupName: aws.String("admins")}},
		},
		versionList: map[string][]iamtypes.PolicyVersion{
			arn: {
				{VersionId: aws.String("v2"), IsDefaultVersion: true},
				{VersionId: aws.String("v1")},
			},
		},
	}

	require.NoError(t, newTestAWSProvider(fake, nil).DeletePolicy(context.Background(), arn))
	assert.Equal(t, []string{
		"ListEntitiesForPolicy",
		"DetachUserPolicy:alice",
		"DetachRolePolicy:deployer",
		"DetachGroupPolicy:admins",
		"ListPolicyVersions",
		"DeletePolicyVersion:v1",
		"DeletePolicy",
	}, fake.calls)
}

func TestDecodeAWSPolicyDocumentPlainJSON(t *testing.T) {
	doc, err := decodeAWSPolicyDocument(`{"Version":"2012-10-17"}`)
	require.NoError(t, err)
	assert.Equal(t, "2012-10-17", doc["Version"])
}

func TestDecodeAWSPolicyDocumentGarbage(t *testing.T) {
	_, err := decodeAWSPolicyDocument("%%not-json")
	require.Error(t, err)
}
