package executor

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIAM struct {
	attached map[string]string // name -> arn
	inline   map[string]string // name -> document
	trust    string

	detached      []string
	deletedInline []string
	putInline     map[string]string
	reattached    []string
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{
		attached:  map[string]string{},
		inline:    map[string]string{},
		trust:     `{"Statement":[{}]}`,
		putInline: map[string]string{},
	}
}

func (f *fakeIAM) GetRole(ctx context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	return &iam.GetRoleOutput{Role: &iamtypes.Role{
		RoleName:                 in.RoleName,
		AssumeRolePolicyDocument: aws.String(f.trust),
	}}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	out := &iam.ListAttachedRolePoliciesOutput{}
	for name, arn := range f.attached {
		out.AttachedPolicies = append(out.AttachedPolicies, iamtypes.AttachedPolicy{
			PolicyName: aws.String(name),
			PolicyArn:  aws.String(arn),
		})
	}
	return out, nil
}

func (f *fakeIAM) ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	out := &iam.ListRolePoliciesOutput{}
	for name := range f.inline {
		out.PolicyNames = append(out.PolicyNames, name)
	}
	return out, nil
}

func (f *fakeIAM) GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, _ ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	return &iam.GetRolePolicyOutput{
		PolicyName:     in.PolicyName,
		PolicyDocument: aws.String(f.inline[aws.ToString(in.PolicyName)]),
	}, nil
}

func (f *fakeIAM) DeleteRolePolicy(ctx context.Context, in *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	f.deletedInline = append(f.deletedInline, aws.ToString(in.PolicyName))
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.detached = append(f.detached, aws.ToString(in.PolicyArn))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	f.putInline[aws.ToString(in.PolicyName)] = aws.ToString(in.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

func (f *fakeIAM) AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.reattached = append(f.reattached, aws.ToString(in.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

// fakeObjectStore implements both the uploader and GetObject seams.
type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = body
	return &manager.UploadOutput{}, nil
}

func (f *fakeObjectStore) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body := f.objects[aws.ToString(in.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func newTestExecutor(iamClient iamAPI, store *fakeObjectStore) *IAMExecutor {
	return &IAMExecutor{
		iam: iamClient,
		snapshots: &SnapshotManager{
			bucket:   "snapshots-test",
			client:   store,
			uploader: store,
		},
	}
}

func TestExecuteDetachesNamedPolicies(t *testing.T) {
	client := newFakeIAM()
	client.attached["AdminAccess"] = "arn:aws:iam::aws:policy/AdminAccess"
	client.attached["ReadOnly"] = "arn:aws:iam::aws:policy/ReadOnly"
	client.inline["legacy-s3"] = `{"Statement":[{"Action":"s3:*"}]}`

	store := newFakeObjectStore()
	e := newTestExecutor(client, store)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		FindingID:           "f-1",
		ResourceType:        "IAMRole",
		ResourceID:          "arn:aws:iam::123456789012:role/payments-api",
		CanaryPercentage:    100,
		PermissionsToRemove: []string{"AdminAccess", "legacy-s3"},
	})
	require.NoError(t, err)

	assert.Equal(t, "REMEDIATED", result.Status)
	assert.NotEmpty(t, result.SnapshotID)
	assert.Equal(t, []string{"arn:aws:iam::aws:policy/AdminAccess"}, client.detached)
	assert.Equal(t, []string{"legacy-s3"}, client.deletedInline)
	assert.Len(t, result.Changes, 2)

	// Snapshot captured the pre-change state, including the untouched policy.
	require.Len(t, store.objects, 1)
	for _, body := range store.objects {
		var snap Snapshot
		require.NoError(t, json.Unmarshal(body, &snap))
		assert.Equal(t, "payments-api", snap.RoleName)
		assert.Len(t, snap.AttachedPolicies, 2)
		assert.Equal(t, client.inline["legacy-s3"], snap.InlinePolicies["legacy-s3"])
	}
}

func TestExecuteEmptyListRemovesAllInline(t *testing.T) {
	client := newFakeIAM()
	client.inline["a"] = `{}`
	client.inline["b"] = `{}`

	e := newTestExecutor(client, newFakeObjectStore())
	result, err := e.Execute(context.Background(), ExecuteRequest{
		ResourceID: "role/unused-role",
	})
	require.NoError(t, err)
	assert.Len(t, client.deletedInline, 2)
	assert.Len(t, result.Changes, 2)
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	client := newFakeIAM()
	client.attached["AdminAccess"] = "arn:aws:iam::aws:policy/AdminAccess"
	client.inline["legacy-s3"] = `{"Statement":[{"Action":"s3:*"}]}`

	store := newFakeObjectStore()
	e := newTestExecutor(client, store)

	result, err := e.Execute(context.Background(), ExecuteRequest{
		ResourceID: "arn:aws:iam::123456789012:role/payments-api",
	})
	require.NoError(t, err)

	err = e.Rollback(context.Background(), RollbackRequest{
		ResourceID: "arn:aws:iam::123456789012:role/payments-api",
		SnapshotID: result.SnapshotID,
	})
	require.NoError(t, err)

	assert.Equal(t, client.inline["legacy-s3"], client.putInline["legacy-s3"])
	assert.Equal(t, []string{"arn:aws:iam::aws:policy/AdminAccess"}, client.reattached)
}

func TestRollbackWithoutSnapshotFails(t *testing.T) {
	e := newTestExecutor(newFakeIAM(), newFakeObjectStore())
	err := e.Rollback(context.Background(), RollbackRequest{ResourceID: "role/x"})
	assert.Error(t, err)
}
